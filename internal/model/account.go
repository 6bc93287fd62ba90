package model

// BankAccount is a managed bank account whose credits pay a portfolio's charges.
type BankAccount struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	IBAN        string `yaml:"iban,omitempty" json:"iban,omitempty"`
	Currency    string `yaml:"currency" json:"currency"`
	PortfolioID string `yaml:"portfolio" json:"portfolio_id"`
	Format      string `yaml:"format,omitempty" json:"format,omitempty"` // import format name, "" = auto-detect
}
