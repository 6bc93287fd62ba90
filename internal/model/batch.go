package model

import "time"

// ImportBatch records one uploaded source file.
type ImportBatch struct {
	ID            string    `json:"id"`
	BankAccountID string    `json:"bank_account_id,omitempty"` // empty when rows name their own account
	Filename      string    `json:"filename"`
	RowCount      int       `json:"row_count"`
	ByteSize      int64     `json:"byte_size"`
	Columns       []string  `json:"columns"`
	Format        string    `json:"format"`
	SourceURI     string    `json:"source_uri,omitempty"`
	Imported      int       `json:"imported"`
	Skipped       int       `json:"skipped"`
	Errored       int       `json:"errored"`
	CreatedAt     time.Time `json:"created_at"`
}
