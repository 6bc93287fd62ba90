package importer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxPreambleLines is how many lines before the header row are tolerated.
// Bank exports often start with account details and a date range.
const maxPreambleLines = 20

const sniffBytes = 8 << 10

// RawRow is one data record with its 1-based line number. A record the
// csv reader rejected has no Fields; Err says why and Text holds the bytes
// it consumed.
type RawRow struct {
	Line   int
	Fields []string
	Err    error
	Text   string
}

// raw joins the fields back with the file's delimiter, for error reports.
func (r RawRow) raw(delim rune) string {
	return strings.Join(r.Fields, string(delim))
}

// Reader streams the data rows of one bank export after locating its header.
type Reader struct {
	cr      *csv.Reader
	rec     *recorder
	format  Format
	mapping Mapping
	header  int
}

// NewReader detects the delimiter (when the format does not fix one) and the
// header row. It returns ErrNoHeader when none of the first lines is a
// usable header.
func NewReader(r io.Reader, f Format) (*Reader, error) {
	br := bufio.NewReaderSize(r, sniffBytes)
	if bom, _ := br.Peek(3); bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		br.Discard(3)
	}
	if f.Delimiter == 0 {
		sample, err := br.Peek(sniffBytes)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			return nil, fmt.Errorf("reading sample: %w", err)
		}
		f.Delimiter = SniffDelimiter(sample)
	}

	raw := &recorder{r: br}
	cr := csv.NewReader(raw)
	cr.Comma = f.Delimiter
	cr.FieldsPerRecord = -1

	rd := &Reader{cr: cr, rec: raw, format: f}
	for i := 0; i < maxPreambleLines; i++ {
		rec, err := cr.Read()
		raw.take(cr.InputOffset())
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading header: %w", err)
		}
		if m, err := DetectMapping(rec); err == nil {
			rd.mapping = m
			rd.header, _ = cr.FieldPos(0)
			return rd, nil
		}
	}
	return nil, ErrNoHeader
}

// Format returns the format in effect, with the sniffed delimiter filled in.
func (r *Reader) Format() Format { return r.format }

// Mapping returns the detected column roles.
func (r *Reader) Mapping() Mapping { return r.mapping }

// HeaderLine returns the line number of the header row.
func (r *Reader) HeaderLine() int { return r.header }

// ReadChunk returns up to n data rows. Blank rows are dropped. At the end
// of the file it returns the remaining rows with io.EOF, possibly none.
func (r *Reader) ReadChunk(n int) ([]RawRow, error) {
	rows := make([]RawRow, 0, n)
	for len(rows) < n {
		rec, err := r.cr.Read()
		text := r.rec.take(r.cr.InputOffset())
		if errors.Is(err, io.EOF) {
			return rows, io.EOF
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				// keep going; the row becomes a row-level error
				rows = append(rows, RawRow{Line: perr.StartLine, Err: perr.Err, Text: strings.TrimRight(text, "\r\n")})
				continue
			}
			return rows, fmt.Errorf("reading rows: %w", err)
		}
		if blank(rec) {
			continue
		}
		line, _ := r.cr.FieldPos(0)
		rows = append(rows, RawRow{Line: line, Fields: rec})
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// recorder keeps the bytes the csv reader has consumed since the last
// record, so a rejected record can be reported as written.
type recorder struct {
	r    io.Reader
	buf  []byte
	base int64
}

func (rc *recorder) Read(p []byte) (int, error) {
	n, err := rc.r.Read(p)
	rc.buf = append(rc.buf, p[:n]...)
	return n, err
}

// take returns the bytes up to input offset and forgets them.
func (rc *recorder) take(offset int64) string {
	n := min(max(int(offset-rc.base), 0), len(rc.buf))
	s := string(rc.buf[:n])
	rc.buf = rc.buf[n:]
	rc.base += int64(n)
	return s
}
