package importer

import (
	"bytes"
	"sort"
	"strings"
)

// DecimalStyle says how an amount column separates whole and minor units.
type DecimalStyle int

const (
	DecimalDot   DecimalStyle = iota // 1,234.56
	DecimalComma                     // 1.234,56
	DecimalAuto                      // decided per value
)

// Format describes the dialect of a bank export.
type Format struct {
	Name        string
	Delimiter   rune // 0 = sniff from the file
	Decimal     DecimalStyle
	DateLayouts []string
}

// Registry holds named formats.
type Registry struct {
	formats map[string]Format
}

// NewRegistry creates an empty format registry.
func NewRegistry() *Registry {
	return &Registry{formats: make(map[string]Format)}
}

// Register adds a format. Panics on duplicate name.
func (r *Registry) Register(f Format) {
	key := strings.ToLower(f.Name)
	if _, ok := r.formats[key]; ok {
		panic("duplicate import format: " + key)
	}
	r.formats[key] = f
}

// Get returns the format called name, case-insensitively. An empty name
// means "auto".
func (r *Registry) Get(name string) (Format, bool) {
	if name == "" {
		name = "auto"
	}
	f, ok := r.formats[strings.ToLower(name)]
	return f, ok
}

// Names lists the registered formats alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.formats))
	for n := range r.formats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var (
	deLayouts  = []string{"02.01.2006", "02.01.06", "2.1.2006", "02.01.2006 15:04", "02.01.2006 15:04:05"}
	usLayouts  = []string{"01/02/2006", "1/2/2006", "01/02/06", "01/02/2006 15:04"}
	isoLayouts = []string{"2006-01-02", "2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05", "2006-01-02T15:04:05"}
)

// DefaultRegistry returns a registry with the built-in formats.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Format{Name: "de", Delimiter: ';', Decimal: DecimalComma, DateLayouts: deLayouts})
	r.Register(Format{Name: "us", Delimiter: ',', Decimal: DecimalDot, DateLayouts: usLayouts})
	r.Register(Format{Name: "iso", Delimiter: ',', Decimal: DecimalDot, DateLayouts: isoLayouts})

	var all []string
	all = append(all, isoLayouts...)
	all = append(all, deLayouts...)
	all = append(all, usLayouts...)
	r.Register(Format{Name: "auto", Decimal: DecimalAuto, DateLayouts: all})
	return r
}

var delimiters = []rune{';', ',', '\t', '|'}

// SniffDelimiter guesses the field delimiter from the first lines of a file.
// The delimiter that splits the most lines into the same number of fields
// wins, with more fields breaking ties. Quoted text is ignored. Falls back
// to a comma.
func SniffDelimiter(sample []byte) rune {
	lines := bytes.Split(sample, []byte("\n"))
	if len(lines) > 1 {
		// the last line may be cut off
		lines = lines[:len(lines)-1]
	}

	best, bestLines, bestFields := ',', 0, 0
	for _, d := range delimiters {
		counts := make(map[int]int)
		for _, line := range lines {
			if n := countOutsideQuotes(line, d); n > 0 {
				counts[n]++
			}
		}
		for n, seen := range counts {
			if seen > bestLines || (seen == bestLines && n > bestFields) {
				best, bestLines, bestFields = d, seen, n
			}
		}
	}
	return best
}

func countOutsideQuotes(line []byte, d rune) int {
	n := 0
	quoted := false
	for _, r := range string(line) {
		switch {
		case r == '"':
			quoted = !quoted
		case r == d && !quoted:
			n++
		}
	}
	return n
}
