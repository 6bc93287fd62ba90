// Package importer turns bank exports into normalized transactions.
//
// Each file gets its own ImportBatch. Rows that cannot be parsed are
// reported with their line and content and do not stop the file; rows
// already imported are skipped by the store's uniqueness on
// (bank account, content hash).
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cleared-dev/recon/internal/archive"
	"github.com/cleared-dev/recon/internal/events"
	"github.com/cleared-dev/recon/internal/id"
	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/store"
)

// ErrStorage marks failures of the transaction store. They abort the import.
var ErrStorage = errors.New("storage failure")

// maxReportedErrors caps FileResult.Errors; Errored still counts every row.
const maxReportedErrors = 200

// AccountResolver finds managed bank accounts by id, name or IBAN.
type AccountResolver interface {
	ResolveAccount(ref string) (model.BankAccount, bool)
}

// File is one uploaded export.
type File struct {
	Name string
	Body io.Reader
}

// Options apply to every file of an import.
type Options struct {
	// BankAccountID or AccountName pin all rows to one account. Without
	// either, rows must name their account in an account column.
	BankAccountID string
	AccountName   string
	// Format overrides the account's configured format.
	Format string
}

// RowError is a row that could not be imported.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
	Raw    string `json:"raw"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// FileResult summarizes one imported file.
type FileResult struct {
	BatchID  string     `json:"batch_id,omitempty"`
	Filename string     `json:"filename"`
	Format   string     `json:"format,omitempty"`
	Columns  []string   `json:"columns,omitempty"`
	Imported int        `json:"imported"`
	Skipped  int        `json:"skipped"`
	Errored  int        `json:"errored"`
	Errors   []RowError `json:"errors,omitempty"`
	Accounts []string   `json:"accounts,omitempty"` // bank accounts the rows belong to
	Error    string     `json:"error,omitempty"`    // the file could not be imported at all
}

// Config tunes parsing.
type Config struct {
	ChunkSize     int
	Workers       int
	DefaultFormat string
}

// Importer reads files into the store.
type Importer struct {
	store    store.Store
	accounts AccountResolver
	formats  *Registry
	archive  archive.Archiver
	observer events.Observer
	log      zerolog.Logger
	cfg      Config
	now      func() time.Time
}

// New creates an importer using the default format registry.
func New(s store.Store, accounts AccountResolver, cfg Config, log zerolog.Logger) *Importer {
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 500
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Importer{
		store:    s,
		accounts: accounts,
		formats:  DefaultRegistry(),
		observer: events.Nop{},
		log:      log.With().Str("component", "importer").Logger(),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithArchive keeps a raw copy of every file.
func (im *Importer) WithArchive(a archive.Archiver) *Importer {
	im.archive = a
	return im
}

// WithObserver reports completed imports.
func (im *Importer) WithObserver(o events.Observer) *Importer {
	im.observer = o
	return im
}

// WithRegistry replaces the format registry.
func (im *Importer) WithRegistry(r *Registry) *Importer {
	im.formats = r
	return im
}

// WithClock replaces the clock used for timestamps.
func (im *Importer) WithClock(now func() time.Time) *Importer {
	im.now = now
	return im
}

// Import imports files in order. A file that cannot be read is reported in
// its FileResult and the next file is tried; storage failures and
// cancellation stop the import and return the results so far.
func (im *Importer) Import(ctx context.Context, files []File, opts Options) ([]FileResult, error) {
	results := make([]FileResult, 0, len(files))
	for _, f := range files {
		res, err := im.ImportFile(ctx, f, opts)
		if err != nil {
			if Fatal(err) {
				if res != nil {
					results = append(results, *res)
				}
				return results, err
			}
			im.log.Warn().Err(err).Str("file", f.Name).Msg("file not imported")
			res = &FileResult{Filename: f.Name, Error: err.Error()}
		}
		results = append(results, *res)
	}
	return results, nil
}

// Fatal reports whether err should stop a multi-file import.
func Fatal(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ImportFile imports one file into a new batch.
func (im *Importer) ImportFile(ctx context.Context, f File, opts Options) (*FileResult, error) {
	account, pinned, err := im.fileAccount(opts)
	if err != nil {
		return nil, err
	}

	formatName := opts.Format
	if formatName == "" && pinned {
		formatName = account.Format
	}
	if formatName == "" {
		formatName = im.cfg.DefaultFormat
	}
	format, ok := im.formats.Get(formatName)
	if !ok {
		return nil, fmt.Errorf("unknown import format %q (known: %s)", formatName, strings.Join(im.formats.Names(), ", "))
	}

	batchID := id.New(id.Batch)
	counter := &countingReader{r: f.Body}
	var body io.Reader = counter
	var tee *archive.Tee
	if im.archive != nil {
		tee, err = archive.Copy(ctx, im.archive, batchID+"-"+f.Name, counter)
		if err != nil {
			return nil, fmt.Errorf("archiving %s: %w", f.Name, err)
		}
		body = tee
	}

	rd, err := NewReader(body, format)
	if err != nil {
		if tee != nil {
			tee.Close()
		}
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}
	if !pinned && !rd.Mapping().Has(RoleAccount) {
		if tee != nil {
			tee.Close()
		}
		return nil, fmt.Errorf("reading %s: no bank account given and the file has no account column", f.Name)
	}

	batch := &model.ImportBatch{
		ID:        batchID,
		Filename:  f.Name,
		Columns:   rd.Mapping().Columns,
		Format:    format.Name,
		CreatedAt: im.now(),
	}
	if pinned {
		batch.BankAccountID = account.ID
	}
	if err := im.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("%w: creating batch: %w", ErrStorage, err)
	}

	log := im.log.With().Str("batch_id", batchID).Str("file", f.Name).Logger()
	log.Debug().Str("format", format.Name).Str("columns", rd.Mapping().Describe()).Msg("header detected")

	res := &FileResult{BatchID: batchID, Filename: f.Name, Format: format.Name, Columns: batch.Columns}
	touched := make(map[string]bool)
	var pinnedAccount *model.BankAccount
	if pinned {
		pinnedAccount = &account
	}

	readErr := im.readRows(ctx, rd, batchID, pinnedAccount, res, touched)

	if tee != nil {
		if err := tee.Close(); err != nil {
			log.Warn().Err(err).Msg("archive copy incomplete")
		} else {
			batch.SourceURI = tee.URI
		}
	}

	for acc := range touched {
		res.Accounts = append(res.Accounts, acc)
	}
	sort.Strings(res.Accounts)

	batch.ByteSize = counter.n
	batch.Imported, batch.Skipped, batch.Errored = res.Imported, res.Skipped, res.Errored
	batch.RowCount = res.Imported + res.Skipped + res.Errored
	if err := im.store.UpdateBatch(context.WithoutCancel(ctx), batch); err != nil && readErr == nil {
		readErr = fmt.Errorf("%w: updating batch: %w", ErrStorage, err)
	}
	if readErr != nil {
		return res, readErr
	}

	log.Info().
		Int("imported", res.Imported).
		Int("skipped", res.Skipped).
		Int("errored", res.Errored).
		Int64("bytes", batch.ByteSize).
		Msg("import completed")
	im.observer.Notify(ctx, events.Event{
		Type:    events.ImportCompleted,
		At:      im.now(),
		Subject: batchID,
		Data: map[string]any{
			"filename": f.Name,
			"imported": res.Imported,
			"skipped":  res.Skipped,
			"errored":  res.Errored,
			"accounts": res.Accounts,
		},
	})
	return res, nil
}

func (im *Importer) fileAccount(opts Options) (model.BankAccount, bool, error) {
	switch {
	case opts.BankAccountID != "":
		a, ok := im.accounts.ResolveAccount(opts.BankAccountID)
		if !ok {
			return model.BankAccount{}, false, fmt.Errorf("unknown bank account %q", opts.BankAccountID)
		}
		return a, true, nil
	case opts.AccountName != "":
		a, ok := im.accounts.ResolveAccount(opts.AccountName)
		if !ok {
			return model.BankAccount{}, false, fmt.Errorf("unknown bank account %q", opts.AccountName)
		}
		return a, true, nil
	}
	return model.BankAccount{}, false, nil
}

// parsed is the outcome of one row: a transaction or an error.
type parsed struct {
	tx  model.Transaction
	err *RowError
}

// readRows parses the file chunk by chunk. Rows of a chunk are parsed in
// parallel and inserted in file order.
func (im *Importer) readRows(ctx context.Context, rd *Reader, batchID string, account *model.BankAccount, res *FileResult, touched map[string]bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("importing %s: %w", res.Filename, err)
		}

		rows, readErr := rd.ReadChunk(im.cfg.ChunkSize)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("reading %s: %w", res.Filename, readErr)
		}

		out := make([]parsed, len(rows))
		g := new(errgroup.Group)
		g.SetLimit(im.cfg.Workers)
		for i := range rows {
			g.Go(func() error {
				out[i] = im.parseRow(rows[i], rd, batchID, account)
				return nil
			})
		}
		g.Wait()

		var txns []model.Transaction
		for _, p := range out {
			if p.err != nil {
				res.Errored++
				if len(res.Errors) < maxReportedErrors {
					res.Errors = append(res.Errors, *p.err)
				}
				continue
			}
			txns = append(txns, p.tx)
		}

		if len(txns) > 0 {
			inserted, err := im.store.InsertTransactions(ctx, txns)
			if err != nil {
				return fmt.Errorf("%w: inserting rows: %w", ErrStorage, err)
			}
			for i, ok := range inserted {
				touched[txns[i].BankAccountID] = true
				if ok {
					res.Imported++
				} else {
					res.Skipped++
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}
	}
}

func (im *Importer) parseRow(row RawRow, rd *Reader, batchID string, account *model.BankAccount) parsed {
	f, m := rd.Format(), rd.Mapping()
	fail := func(format string, args ...any) parsed {
		return parsed{err: &RowError{Line: row.Line, Reason: fmt.Sprintf(format, args...), Raw: row.raw(f.Delimiter)}}
	}
	if row.Fields == nil {
		if row.Text == "" {
			return parsed{err: &RowError{Line: row.Line, Reason: fmt.Sprintf("malformed row: %v (raw content unavailable)", row.Err)}}
		}
		return parsed{err: &RowError{Line: row.Line, Reason: fmt.Sprintf("malformed row: %v", row.Err), Raw: row.Text}}
	}

	acc := account
	if acc == nil {
		ref := m.Value(row.Fields, RoleAccount)
		a, ok := im.accounts.ResolveAccount(ref)
		if !ok {
			return fail("unknown bank account %q", ref)
		}
		acc = &a
	}

	date, err := ParseDate(m.Value(row.Fields, RoleDate), f)
	if err != nil {
		return fail("%v", err)
	}

	amount, err := rowAmount(row.Fields, m, f)
	if err != nil {
		return fail("%v", err)
	}
	if amount == 0 {
		return fail("zero amount")
	}

	purpose := m.Value(row.Fields, RolePurpose)
	return parsed{tx: model.Transaction{
		ID:                 id.New(id.Transaction),
		BankAccountID:      acc.ID,
		Date:               date,
		Amount:             amount,
		Currency:           acc.Currency,
		CounterpartName:    m.Value(row.Fields, RoleCounterpart),
		CounterpartAccount: m.Value(row.Fields, RoleCounterpartAccount),
		Purpose:            purpose,
		Reference:          m.Value(row.Fields, RoleReference),
		ImportBatchID:      batchID,
		ContentHash:        ContentHash(acc.ID, date, amount, purpose),
		CreatedAt:          im.now(),
	}}
}

// rowAmount reads the signed amount, from a single amount column or from
// separate credit and debit columns.
func rowAmount(rec []string, m Mapping, f Format) (model.Amount, error) {
	if m.Has(RoleAmount) {
		return ParseAmount(m.Value(rec, RoleAmount), f)
	}
	var total model.Amount
	if s := m.Value(rec, RoleCredit); s != "" {
		a, err := ParseAmount(s, f)
		if err != nil {
			return 0, err
		}
		total += a.Abs()
	}
	if s := m.Value(rec, RoleDebit); s != "" {
		a, err := ParseAmount(s, f)
		if err != nil {
			return 0, err
		}
		total -= a.Abs()
	}
	return total, nil
}

// FileInfo describes a CSV file in the import directory.
type FileInfo struct {
	Name string
	Path string
	Size int64
}

// processedDir is the subdirectory processed files are moved to.
const processedDir = "processed"

// Scan returns the CSV files in dir. A missing dir has no files.
func Scan(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading import dir: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(e.Name()), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	return files, nil
}

// MarkProcessed moves a file from dir to dir/processed.
func MarkProcessed(dir, fileName string) error {
	dstDir := filepath.Join(dir, processedDir)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}

	src := filepath.Join(dir, fileName)
	dst := filepath.Join(dstDir, fileName)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving %s to processed: %w", fileName, err)
	}
	return nil
}
