package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/cleared-dev/recon/internal/model"
)

//go:embed schema.sql
var schema string

// Postgres is a ledger backed by a charges table. Balance changes are single
// conditional UPDATE statements, so concurrent writers can never drive a
// balance out of [0, original].
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the charges table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating ledger schema: %w", err)
	}
	return nil
}

// Seed upserts charges. Existing balances are overwritten.
func (p *Postgres) Seed(ctx context.Context, charges ...model.Charge) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning seed: %w", err)
	}
	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	const query = `INSERT INTO charges (` + chargeColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		portfolio_id = EXCLUDED.portfolio_id, tenant_id = EXCLUDED.tenant_id,
		tenant_name = EXCLUDED.tenant_name, tenant_reference = EXCLUDED.tenant_reference,
		unit_id = EXCLUDED.unit_id, unit_label = EXCLUDED.unit_label, reference = EXCLUDED.reference,
		due_date = EXCLUDED.due_date, original_amount = EXCLUDED.original_amount,
		remaining_amount = EXCLUDED.remaining_amount, frozen = EXCLUDED.frozen`

	for _, c := range charges {
		_, err = dbTx.ExecContext(ctx, query,
			c.ID, c.PortfolioID, c.TenantID, c.TenantName, c.TenantReference, c.UnitID, c.UnitLabel,
			c.Reference, c.DueDate, int64(c.Original), int64(c.Remaining), c.Frozen)
		if err != nil {
			return fmt.Errorf("seeding charge %q: %w", c.ID, err)
		}
	}
	if err = dbTx.Commit(); err != nil {
		return fmt.Errorf("committing seed: %w", err)
	}
	return nil
}

// Freeze marks a charge frozen or unfrozen.
func (p *Postgres) Freeze(ctx context.Context, id string, frozen bool) error {
	res, err := p.db.ExecContext(ctx, `UPDATE charges SET frozen = $2 WHERE id = $1`, id, frozen)
	if err != nil {
		return fmt.Errorf("freezing charge %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("freezing charge %q: %w", id, ErrNotFound)
	}
	return nil
}

const chargeColumns = `id, portfolio_id, tenant_id, tenant_name, tenant_reference, unit_id, unit_label,
	reference, due_date, original_amount, remaining_amount, frozen`

func (p *Postgres) OpenCharges(ctx context.Context, q Query) ([]model.Charge, error) {
	query := `SELECT ` + chargeColumns + ` FROM charges
	WHERE remaining_amount > 0
	  AND ($1 = '' OR portfolio_id = $1)
	  AND ($2::date IS NULL OR due_date >= $2)
	  AND ($3::date IS NULL OR due_date <= $3)
	ORDER BY due_date, id`

	rows, err := p.db.QueryContext(ctx, query, q.PortfolioID, nullDate(q.DueFrom), nullDate(q.DueTo))
	if err != nil {
		return nil, fmt.Errorf("listing open charges: %w", err)
	}
	defer rows.Close()

	var charges []model.Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning charge: %w", err)
		}
		charges = append(charges, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing open charges: %w", err)
	}
	return charges, nil
}

func (p *Postgres) Charge(ctx context.Context, id string) (*model.Charge, error) {
	c, err := scanCharge(p.db.QueryRowContext(ctx, `SELECT `+chargeColumns+` FROM charges WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("charge %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading charge %q: %w", id, err)
	}
	return c, nil
}

func (p *Postgres) Apply(ctx context.Context, id string, amount model.Amount) (*model.Charge, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("applying to charge %q: amount must be positive: %s", id, amount)
	}
	c, err := scanCharge(p.db.QueryRowContext(ctx, `UPDATE charges
	SET remaining_amount = remaining_amount - $2
	WHERE id = $1 AND remaining_amount >= $2 AND NOT frozen
	RETURNING `+chargeColumns, id, int64(amount)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, p.explain(ctx, "applying to", id, ErrInsufficientRemaining)
	}
	if err != nil {
		return nil, fmt.Errorf("applying to charge %q: %w", id, err)
	}
	return c, nil
}

func (p *Postgres) Reverse(ctx context.Context, id string, amount model.Amount) (*model.Charge, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reversing on charge %q: amount must be positive: %s", id, amount)
	}
	c, err := scanCharge(p.db.QueryRowContext(ctx, `UPDATE charges
	SET remaining_amount = remaining_amount + $2
	WHERE id = $1 AND remaining_amount + $2 <= original_amount AND NOT frozen
	RETURNING `+chargeColumns, id, int64(amount)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, p.explain(ctx, "reversing on", id, ErrOverRestore)
	}
	if err != nil {
		return nil, fmt.Errorf("reversing on charge %q: %w", id, err)
	}
	return c, nil
}

// explain works out why a conditional update touched no row.
func (p *Postgres) explain(ctx context.Context, op, id string, balanceErr error) error {
	c, err := p.Charge(ctx, id)
	switch {
	case err != nil:
		return fmt.Errorf("%s charge %q: %w", op, id, err)
	case c.Frozen:
		return fmt.Errorf("%s charge %q: %w", op, id, ErrFrozen)
	default:
		return fmt.Errorf("%s charge %q with %s remaining: %w", op, id, c.Remaining, balanceErr)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCharge(row scanner) (*model.Charge, error) {
	var c model.Charge
	var original, remaining int64
	err := row.Scan(&c.ID, &c.PortfolioID, &c.TenantID, &c.TenantName, &c.TenantReference, &c.UnitID,
		&c.UnitLabel, &c.Reference, &c.DueDate, &original, &remaining, &c.Frozen)
	if err != nil {
		return nil, err
	}
	c.Original = model.Amount(original)
	c.Remaining = model.Amount(remaining)
	c.DueDate = c.DueDate.UTC()
	return &c, nil
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

var _ Ledger = (*Postgres)(nil)
