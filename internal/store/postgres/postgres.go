// Package postgres is the PostgreSQL Store, built on database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/store"
)

//go:embed schema.sql
var schema string

// Store persists to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w: %w", store.ErrUnavailable, err)
	}
	return New(db), nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle so other packages can share the connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return wrap("migrating store schema", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// wrap classifies err. Server-side errors reported by PostgreSQL are plain
// failures of the statement; anything else means the database could not be
// reached.
func wrap(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
}

const batchColumns = `id, bank_account_id, filename, row_count, byte_size, columns, format, source_uri, imported, skipped, errored, created_at`

func (s *Store) CreateBatch(ctx context.Context, b *model.ImportBatch) error {
	const query = `INSERT INTO import_batches (` + batchColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.BankAccountID, b.Filename, b.RowCount, b.ByteSize, pq.Array(nonNil(b.Columns)),
		b.Format, b.SourceURI, b.Imported, b.Skipped, b.Errored, b.CreatedAt)
	if err != nil {
		return wrap("creating batch", err)
	}
	return nil
}

func (s *Store) UpdateBatch(ctx context.Context, b *model.ImportBatch) error {
	const query = `UPDATE import_batches
	SET bank_account_id = $2, filename = $3, row_count = $4, byte_size = $5, columns = $6,
	    format = $7, source_uri = $8, imported = $9, skipped = $10, errored = $11
	WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query,
		b.ID, b.BankAccountID, b.Filename, b.RowCount, b.ByteSize, pq.Array(nonNil(b.Columns)),
		b.Format, b.SourceURI, b.Imported, b.Skipped, b.Errored)
	if err != nil {
		return wrap("updating batch", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating batch %q: %w", b.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*model.ImportBatch, error) {
	const query = `SELECT ` + batchColumns + ` FROM import_batches WHERE id = $1`

	b, err := scanBatch(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, wrap("reading batch", err)
	}
	return b, nil
}

func (s *Store) ListBatches(ctx context.Context, page store.Page) ([]model.ImportBatch, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_batches`).Scan(&total); err != nil {
		return nil, 0, wrap("counting batches", err)
	}

	query := `SELECT ` + batchColumns + ` FROM import_batches ORDER BY created_at DESC, id DESC`
	query, args := limitOffset(query, nil, page.Limit, page.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, wrap("listing batches", err)
	}
	defer rows.Close()

	batches := []model.ImportBatch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, wrap("scanning batch", err)
		}
		batches = append(batches, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrap("listing batches", err)
	}
	return batches, total, nil
}

func (s *Store) DeleteBatch(ctx context.Context, id string) (err error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("beginning delete", err)
	}
	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	var one int
	err = dbTx.QueryRowContext(ctx, `SELECT 1 FROM import_batches WHERE id = $1 FOR UPDATE`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("deleting batch %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return wrap("locking batch", err)
	}

	var matched bool
	err = dbTx.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM matches m JOIN transactions t ON t.id = m.transaction_id
		WHERE t.import_batch_id = $1)`, id).Scan(&matched)
	if err != nil {
		return wrap("checking batch matches", err)
	}
	if matched {
		err = fmt.Errorf("deleting batch %q: %w", id, store.ErrBatchHasMatches)
		return err
	}

	if _, err = dbTx.ExecContext(ctx, `DELETE FROM transactions WHERE import_batch_id = $1`, id); err != nil {
		return wrap("deleting batch transactions", err)
	}
	if _, err = dbTx.ExecContext(ctx, `DELETE FROM import_batches WHERE id = $1`, id); err != nil {
		return wrap("deleting batch", err)
	}
	if err = dbTx.Commit(); err != nil {
		return wrap("committing delete", err)
	}
	return nil
}

func (s *Store) InsertTransactions(ctx context.Context, txns []model.Transaction) (inserted []bool, err error) {
	for _, tx := range txns {
		if err := store.ValidateTransaction(tx); err != nil {
			return nil, fmt.Errorf("inserting transactions: %w", err)
		}
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("beginning insert", err)
	}
	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	stmt, err := dbTx.PrepareContext(ctx, `INSERT INTO transactions
	(id, bank_account_id, booked_at, amount, currency, counterpart_name, counterpart_account,
	 purpose, reference, import_batch_id, content_hash, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (bank_account_id, content_hash) DO NOTHING`)
	if err != nil {
		return nil, wrap("preparing insert", err)
	}
	defer stmt.Close()

	inserted = make([]bool, len(txns))
	for i, tx := range txns {
		res, execErr := stmt.ExecContext(ctx,
			tx.ID, tx.BankAccountID, tx.Date, int64(tx.Amount), tx.Currency, tx.CounterpartName,
			tx.CounterpartAccount, tx.Purpose, tx.Reference, nullString(tx.ImportBatchID),
			tx.ContentHash, tx.CreatedAt)
		if execErr != nil {
			err = wrap(fmt.Sprintf("inserting transaction %q", tx.ID), execErr)
			return nil, err
		}
		n, _ := res.RowsAffected()
		inserted[i] = n == 1
	}
	if err = dbTx.Commit(); err != nil {
		return nil, wrap("committing insert", err)
	}
	return inserted, nil
}

const txnSelect = `SELECT t.id, t.bank_account_id, t.booked_at, t.amount, t.currency, t.counterpart_name,
	t.counterpart_account, t.purpose, t.reference, COALESCE(t.import_batch_id, ''), t.content_hash,
	t.created_at, COALESCE(a.allocated, 0)
FROM transactions t
LEFT JOIN (SELECT transaction_id, SUM(matched_amount) AS allocated FROM matches GROUP BY transaction_id) a
	ON a.transaction_id = t.id`

func (s *Store) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, txnSelect+` WHERE t.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, wrap("reading transaction", err)
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]model.Transaction, int, error) {
	where, args := transactionWhere(f)

	var total int
	countQuery := `SELECT COUNT(*) FROM (` + txnSelect + where + `) q`
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, wrap("counting transactions", err)
	}

	if f.After != nil {
		args = append(args, f.After.Date, f.After.ID)
		cond := fmt.Sprintf("(t.booked_at, t.id) > ($%d, $%d)", len(args)-1, len(args))
		if where == "" {
			where = " WHERE " + cond
		} else {
			where += " AND " + cond
		}
	}
	query, args := limitOffset(txnSelect+where+` ORDER BY t.booked_at, t.id`, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, wrap("listing transactions", err)
	}
	defer rows.Close()

	txns := []model.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, wrap("scanning transaction", err)
		}
		txns = append(txns, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrap("listing transactions", err)
	}
	return txns, total, nil
}

func transactionWhere(f store.TransactionFilter) (string, []any) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.BankAccountID != "" {
		conds = append(conds, "t.bank_account_id = "+arg(f.BankAccountID))
	}
	if f.BatchID != "" {
		conds = append(conds, "t.import_batch_id = "+arg(f.BatchID))
	}
	if f.CreditsOnly {
		conds = append(conds, "t.amount > 0")
	}
	if len(f.States) > 0 {
		var states []string
		for _, st := range f.States {
			switch st {
			case model.StateUnmatched:
				states = append(states, "COALESCE(a.allocated, 0) = 0")
			case model.StatePartiallyMatched:
				states = append(states, "(COALESCE(a.allocated, 0) > 0 AND COALESCE(a.allocated, 0) < ABS(t.amount))")
			case model.StateFullyMatched:
				states = append(states, "(COALESCE(a.allocated, 0) > 0 AND COALESCE(a.allocated, 0) >= ABS(t.amount))")
			}
		}
		if len(states) > 0 {
			conds = append(conds, "("+strings.Join(states, " OR ")+")")
		}
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) CreateMatch(ctx context.Context, m *model.Match) (err error) {
	if err := store.ValidateMatch(*m); err != nil {
		return fmt.Errorf("creating match: %w", err)
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("beginning match", err)
	}
	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	var amount int64
	err = dbTx.QueryRowContext(ctx, `SELECT amount FROM transactions WHERE id = $1 FOR UPDATE`, m.TransactionID).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("creating match: transaction %q: %w", m.TransactionID, store.ErrNotFound)
	}
	if err != nil {
		return wrap("locking transaction", err)
	}

	var allocated int64
	err = dbTx.QueryRowContext(ctx, `SELECT COALESCE(SUM(matched_amount), 0) FROM matches WHERE transaction_id = $1`, m.TransactionID).Scan(&allocated)
	if err != nil {
		return wrap("summing matches", err)
	}
	if model.Amount(allocated)+m.Amount > model.Amount(amount).Abs() {
		err = fmt.Errorf("creating match on %q: %w", m.TransactionID, store.ErrOverAllocated)
		return err
	}

	_, err = dbTx.ExecContext(ctx, `INSERT INTO matches
	(id, transaction_id, charge_id, matched_amount, confidence, method, note, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.TransactionID, m.ChargeID, int64(m.Amount), nullInt(m.Confidence), string(m.Method), m.Note, m.CreatedAt)
	if err != nil {
		return wrap("inserting match", err)
	}
	if err = dbTx.Commit(); err != nil {
		return wrap("committing match", err)
	}
	return nil
}

const matchColumns = `id, transaction_id, charge_id, matched_amount, confidence, method, note, created_at`

func (s *Store) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, wrap("reading match", err)
	}
	return m, nil
}

func (s *Store) DeleteMatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM matches WHERE id = $1`, id)
	if err != nil {
		return wrap("deleting match", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("deleting match %q: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListMatches(ctx context.Context, f store.MatchFilter) ([]model.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches
	WHERE ($1 = '' OR transaction_id = $1) AND ($2 = '' OR charge_id = $2)
	ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, f.TransactionID, f.ChargeID)
	if err != nil {
		return nil, wrap("listing matches", err)
	}
	defer rows.Close()

	var matches []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, wrap("scanning match", err)
		}
		matches = append(matches, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("listing matches", err)
	}
	return matches, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*model.ImportBatch, error) {
	var b model.ImportBatch
	var cols []string
	err := row.Scan(&b.ID, &b.BankAccountID, &b.Filename, &b.RowCount, &b.ByteSize, pq.Array(&cols),
		&b.Format, &b.SourceURI, &b.Imported, &b.Skipped, &b.Errored, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.Columns = cols
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

func scanTransaction(row scanner) (*model.Transaction, error) {
	var tx model.Transaction
	var amount, allocated int64
	err := row.Scan(&tx.ID, &tx.BankAccountID, &tx.Date, &amount, &tx.Currency, &tx.CounterpartName,
		&tx.CounterpartAccount, &tx.Purpose, &tx.Reference, &tx.ImportBatchID, &tx.ContentHash,
		&tx.CreatedAt, &allocated)
	if err != nil {
		return nil, err
	}
	tx.Amount = model.Amount(amount)
	tx.Allocated = model.Amount(allocated)
	tx.Date = tx.Date.UTC()
	tx.CreatedAt = tx.CreatedAt.UTC()
	return &tx, nil
}

func scanMatch(row scanner) (*model.Match, error) {
	var m model.Match
	var amount int64
	var confidence sql.NullInt32
	var method string
	if err := row.Scan(&m.ID, &m.TransactionID, &m.ChargeID, &amount, &confidence, &method, &m.Note, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Amount = model.Amount(amount)
	m.Method = model.MatchMethod(method)
	m.CreatedAt = m.CreatedAt.UTC()
	if confidence.Valid {
		c := int(confidence.Int32)
		m.Confidence = &c
	}
	return &m, nil
}

func limitOffset(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int) sql.NullInt32 {
	if p == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*p), Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ store.Store = (*Store)(nil)
