package importer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/cleared-dev/recon/internal/archive"
	"github.com/cleared-dev/recon/internal/config"
	"github.com/cleared-dev/recon/internal/events"
	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/store"
	"github.com/cleared-dev/recon/internal/store/memory"
)

func testConfig() *config.Config {
	cfg := config.Default("test")
	cfg.BankAccounts = []model.BankAccount{
		{ID: "acc_giro", Name: "Hausverwaltung Giro", IBAN: "DE89 3704 0044 0532 0130 00", Currency: "EUR", PortfolioID: "pf_berlin", Format: "de"},
		{ID: "acc_chase", Name: "Chase Checking", Currency: "USD", PortfolioID: "pf_austin", Format: "us"},
	}
	return cfg
}

func newTestImporter(t *testing.T) (*Importer, *memory.Store) {
	t.Helper()
	s := memory.New()
	im := New(s, testConfig(), Config{ChunkSize: 2, Workers: 3, DefaultFormat: "auto"}, zerolog.Nop())
	return im, s
}

func openTestdata(t *testing.T, name string) File {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", name))
	require.NoError(t, err)
	return File{Name: name, Body: bytes.NewReader(data)}
}

func TestImportFile_GermanExport(t *testing.T) {
	im, s := newTestImporter(t)
	rec := &events.Recorder{}
	im.WithObserver(rec)

	res, err := im.ImportFile(context.Background(), openTestdata(t, "giro_de.csv"), Options{BankAccountID: "acc_giro"})
	require.NoError(t, err)

	assert.Equal(t, "de", res.Format)
	assert.Equal(t, 4, res.Imported)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 2, res.Errored)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 9, res.Errors[0].Line)
	assert.Contains(t, res.Errors[0].Reason, "parsing date")
	assert.Contains(t, res.Errors[0].Raw, "Unlesbares Datum")
	assert.Equal(t, 10, res.Errors[1].Line)
	assert.Equal(t, []string{"acc_giro"}, res.Accounts)
	assert.Equal(t, "Betrag (EUR)", res.Columns[len(res.Columns)-1])

	txns, total, err := s.ListTransactions(context.Background(), store.TransactionFilter{BatchID: res.BatchID})
	require.NoError(t, err)
	require.Equal(t, 4, total)
	first := txns[0]
	assert.Equal(t, model.Amount(85000), first.Amount)
	assert.Equal(t, "HANS MUELLER", first.CounterpartName)
	assert.Equal(t, "DE12 5001 0517 0648 4898 90", first.CounterpartAccount)
	assert.Equal(t, "Miete Maerz Whg 3", first.Purpose)
	assert.Equal(t, "EUR", first.Currency)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), first.Date)
	assert.Equal(t, model.Amount(-123456), txns[2].Amount)
	assert.Equal(t, "MR-778", txns[2].Reference)

	b, err := s.GetBatch(context.Background(), res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 6, b.RowCount)
	assert.Equal(t, "acc_giro", b.BankAccountID)
	assert.Positive(t, b.ByteSize)

	evs := rec.OfType(events.ImportCompleted)
	require.Len(t, evs, 1)
	assert.Equal(t, res.BatchID, evs[0].Subject)
}

func TestImportFile_SameFileTwice(t *testing.T) {
	im, s := newTestImporter(t)
	ctx := context.Background()

	first, err := im.ImportFile(ctx, openTestdata(t, "giro_de.csv"), Options{AccountName: "Hausverwaltung Giro"})
	require.NoError(t, err)
	second, err := im.ImportFile(ctx, openTestdata(t, "giro_de.csv"), Options{AccountName: "Hausverwaltung Giro"})
	require.NoError(t, err)

	assert.Equal(t, 4, first.Imported)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 4, second.Skipped)
	assert.Equal(t, []string{"acc_giro"}, second.Accounts)
	assert.NotEqual(t, first.BatchID, second.BatchID)

	_, total, err := s.ListTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestImportFile_ConcurrentSameFile(t *testing.T) {
	im, s := newTestImporter(t)
	ctx := context.Background()

	const n = 4
	results := make([]*FileResult, n)
	var g errgroup.Group
	for i := range n {
		f := openTestdata(t, "giro_de.csv")
		g.Go(func() error {
			res, err := im.ImportFile(ctx, f, Options{BankAccountID: "acc_giro"})
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	var imported, skipped int
	for _, res := range results {
		imported += res.Imported
		skipped += res.Skipped
	}
	assert.Equal(t, 4, imported)
	assert.Equal(t, (n-1)*4, skipped)

	_, total, err := s.ListTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestImportFile_MalformedRows(t *testing.T) {
	im, _ := newTestImporter(t)
	data := "Datum;Betrag;Zweck\n" +
		"01.03.2024;850,00;Miete\n" +
		"02.03.2024;8\"50,00;Kaputt\n" +
		"03.03.2024;\"12,00\"x;Tee\n" +
		"04.03.2024;10,00;Kaffee\n"

	res, err := im.ImportFile(context.Background(), File{Name: "broken.csv", Body: strings.NewReader(data)}, Options{BankAccountID: "acc_giro", Format: "de"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 2, res.Errored)
	require.Len(t, res.Errors, 2)

	assert.Equal(t, 3, res.Errors[0].Line)
	assert.Contains(t, res.Errors[0].Reason, `bare "`)
	assert.Equal(t, `02.03.2024;8"50,00;Kaputt`, res.Errors[0].Raw)

	assert.Equal(t, 4, res.Errors[1].Line)
	assert.Contains(t, res.Errors[1].Reason, "quoted-field")
	assert.Equal(t, `03.03.2024;"12,00"x;Tee`, res.Errors[1].Raw)
}

func TestImportFile_AutoDetectsUSExport(t *testing.T) {
	im, _ := newTestImporter(t)

	res, err := im.ImportFile(context.Background(), openTestdata(t, "checking_us.csv"), Options{BankAccountID: "acc_chase", Format: "auto"})
	require.NoError(t, err)
	assert.Equal(t, "auto", res.Format)
	assert.Equal(t, 3, res.Imported)
	assert.Zero(t, res.Errored)
}

func TestImportFile_AccountPerRow(t *testing.T) {
	im, s := newTestImporter(t)

	res, err := im.ImportFile(context.Background(), openTestdata(t, "multi_account.csv"), Options{Format: "de"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 1, res.Errored)
	assert.Contains(t, res.Errors[0].Reason, "unknown bank account")
	assert.Equal(t, []string{"acc_giro"}, res.Accounts)

	txns, _, err := s.ListTransactions(context.Background(), store.TransactionFilter{BankAccountID: "acc_giro"})
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, model.Amount(85000), txns[0].Amount)
	assert.Equal(t, model.Amount(-12000), txns[1].Amount)
}

func TestImportFile_FileLevelErrors(t *testing.T) {
	im, _ := newTestImporter(t)
	ctx := context.Background()

	_, err := im.ImportFile(ctx, File{Name: "x.csv", Body: strings.NewReader("a;b\n1;2\n")}, Options{BankAccountID: "acc_giro"})
	assert.ErrorIs(t, err, ErrNoHeader)

	_, err = im.ImportFile(ctx, openTestdata(t, "giro_de.csv"), Options{})
	assert.ErrorContains(t, err, "no account column")

	_, err = im.ImportFile(ctx, openTestdata(t, "giro_de.csv"), Options{BankAccountID: "acc_nope"})
	assert.ErrorContains(t, err, "unknown bank account")

	_, err = im.ImportFile(ctx, openTestdata(t, "giro_de.csv"), Options{BankAccountID: "acc_giro", Format: "mt940"})
	assert.ErrorContains(t, err, "unknown import format")
}

func TestImport_ContinuesAfterBadFile(t *testing.T) {
	im, _ := newTestImporter(t)

	results, err := im.Import(context.Background(), []File{
		{Name: "junk.csv", Body: strings.NewReader("nothing to see\n")},
		openTestdata(t, "giro_de.csv"),
	}, Options{BankAccountID: "acc_giro"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotEmpty(t, results[0].Error)
	assert.Empty(t, results[0].BatchID)
	assert.Equal(t, 4, results[1].Imported)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) InsertTransactions(context.Context, []model.Transaction) ([]bool, error) {
	return nil, store.ErrUnavailable
}

func TestImport_StorageFailureAborts(t *testing.T) {
	im := New(failingStore{memory.New()}, testConfig(), Config{ChunkSize: 10, Workers: 1, DefaultFormat: "de"}, zerolog.Nop())

	results, err := im.Import(context.Background(), []File{
		openTestdata(t, "giro_de.csv"),
		openTestdata(t, "giro_de.csv"),
	}, Options{BankAccountID: "acc_giro"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, store.ErrUnavailable))
	assert.Len(t, results, 1)
	assert.True(t, Fatal(err))
}

func TestImportFile_Cancelled(t *testing.T) {
	im, _ := newTestImporter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := im.ImportFile(ctx, openTestdata(t, "giro_de.csv"), Options{BankAccountID: "acc_giro"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImportFile_Archives(t *testing.T) {
	im, s := newTestImporter(t)
	dir := t.TempDir()
	im.WithArchive(archive.NewLocal(dir))

	res, err := im.ImportFile(context.Background(), openTestdata(t, "giro_de.csv"), Options{BankAccountID: "acc_giro"})
	require.NoError(t, err)

	b, err := s.GetBatch(context.Background(), res.BatchID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(b.SourceURI, "file://"))

	original, err := os.ReadFile(filepath.Join("..", "..", "testdata", "giro_de.csv"))
	require.NoError(t, err)
	copied, err := os.ReadFile(filepath.Join(dir, res.BatchID+"-giro_de.csv"))
	require.NoError(t, err)
	assert.Equal(t, original, copied)
	assert.Equal(t, int64(len(original)), b.ByteSize)
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	importDir := filepath.Join(dir, "import")
	require.NoError(t, os.MkdirAll(importDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(importDir, "bank1.csv"), []byte("a,b\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(importDir, "BANK2.CSV"), []byte("c,d\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(importDir, "readme.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(importDir, "processed"), 0o755))

	files, err := Scan(importDir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestScan_MissingDir(t *testing.T) {
	files, err := Scan(filepath.Join(t.TempDir(), "import"))
	require.NoError(t, err)
	assert.Nil(t, files)
}

func TestMarkProcessed(t *testing.T) {
	importDir := filepath.Join(t.TempDir(), "import")
	require.NoError(t, os.MkdirAll(importDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(importDir, "bank.csv"), []byte("data"), 0o644))

	require.NoError(t, MarkProcessed(importDir, "bank.csv"))

	_, err := os.Stat(filepath.Join(importDir, "bank.csv"))
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(filepath.Join(importDir, "processed", "bank.csv"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}
