package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_Copy(t *testing.T) {
	dir := t.TempDir()
	a := NewLocal(filepath.Join(dir, "archive"))

	tee, err := Copy(context.Background(), a, "imp_1-umsaetze maerz.csv", strings.NewReader("Buchungstag;Betrag\n"))
	require.NoError(t, err)
	data, err := io.ReadAll(tee)
	require.NoError(t, err)
	require.NoError(t, tee.Close())

	assert.Equal(t, "Buchungstag;Betrag\n", string(data))
	assert.True(t, strings.HasPrefix(tee.URI, "file://"))
	assert.True(t, strings.HasSuffix(tee.URI, "imp_1-umsaetze_maerz.csv"))

	stored, err := os.ReadFile(filepath.Join(dir, "archive", "imp_1-umsaetze_maerz.csv"))
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestLocal_RefusesOverwrite(t *testing.T) {
	a := NewLocal(t.TempDir())
	w, _, err := a.Create(context.Background(), "a.csv")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, _, err = a.Create(context.Background(), "a.csv")
	assert.Error(t, err)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "passwd", safeName("../../etc/passwd"))
	assert.Equal(t, "Kontoauszug_2024_03_.csv", safeName("Kontoauszug 2024(03).csv"))
	assert.Equal(t, "Ums_tze.csv", safeName("Umsätze.csv"))
}
