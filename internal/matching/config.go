// Package matching ranks open charges as counterparts for a bank transaction.
//
// Every candidate carries a 0-100 confidence and a per-signal breakdown so a
// reviewer can see why a charge was suggested. Ranking is a pure function of
// the transaction, the charge snapshot and the Config.
package matching

import (
	"errors"
	"fmt"
)

// Weights are the relative importance of each signal. They must sum to 100.
type Weights struct {
	Identifier int `yaml:"identifier" json:"identifier"`
	Name       int `yaml:"name" json:"name"`
	Amount     int `yaml:"amount" json:"amount"`
	Date       int `yaml:"date" json:"date"`
	Purpose    int `yaml:"purpose" json:"purpose"`
}

// Sum returns the total weight.
func (w Weights) Sum() int {
	return w.Identifier + w.Name + w.Amount + w.Date + w.Purpose
}

// Config tunes the scoring. Zero values are not usable; start from DefaultConfig.
type Config struct {
	Weights Weights `yaml:"weights"`

	// AmountToleranceMinor and AmountTolerancePercent define the band in which
	// an amount difference still earns partial credit. The wider of the two wins.
	AmountToleranceMinor   int64   `yaml:"amount_tolerance_minor"`
	AmountTolerancePercent float64 `yaml:"amount_tolerance_percent"`

	// DateWindowDays is the distance from the due date after which the date
	// signal earns nothing.
	DateWindowDays int `yaml:"date_window_days"`

	// MaxCandidates caps the ranked list.
	MaxCandidates int `yaml:"max_candidates"`

	// IdentifierFloor is the minimum confidence of a candidate whose payer
	// account or reference matches exactly. 0 disables the floor.
	IdentifierFloor int `yaml:"identifier_floor"`

	// NameFuzzyDrift lets name tokens match within an edit distance of this
	// percentage of the longer token. 0 keeps exact token matching.
	NameFuzzyDrift float64 `yaml:"name_fuzzy_drift"`

	// HorizonDays bounds which charges are fetched for a transaction: only
	// charges due within this many days either side are considered.
	HorizonDays int `yaml:"horizon_days"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Identifier: 35,
			Name:       25,
			Amount:     20,
			Date:       10,
			Purpose:    10,
		},
		AmountToleranceMinor:   500,
		AmountTolerancePercent: 2.0,
		DateWindowDays:         10,
		MaxCandidates:          10,
		IdentifierFloor:        90,
		NameFuzzyDrift:         0,
		HorizonDays:            120,
	}
}

// Validate reports every problem with the configuration.
func (c Config) Validate() error {
	var errs []error
	w := c.Weights
	for name, v := range map[string]int{
		"identifier": w.Identifier, "name": w.Name, "amount": w.Amount, "date": w.Date, "purpose": w.Purpose,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("weight %s cannot be negative: %d", name, v))
		}
	}
	if w.Sum() != 100 {
		errs = append(errs, fmt.Errorf("weights must sum to 100, got %d", w.Sum()))
	}
	if w.Identifier < w.Name || w.Identifier < w.Amount || w.Identifier < w.Date || w.Identifier < w.Purpose {
		errs = append(errs, errors.New("identifier weight must be the highest weight"))
	}
	if c.AmountToleranceMinor < 0 {
		errs = append(errs, fmt.Errorf("amount tolerance cannot be negative: %d", c.AmountToleranceMinor))
	}
	if c.AmountTolerancePercent < 0 || c.AmountTolerancePercent > 100 {
		errs = append(errs, fmt.Errorf("amount tolerance percent must be between 0 and 100: %g", c.AmountTolerancePercent))
	}
	if c.DateWindowDays < 0 {
		errs = append(errs, fmt.Errorf("date window cannot be negative: %d", c.DateWindowDays))
	}
	if c.MaxCandidates < 1 {
		errs = append(errs, fmt.Errorf("max candidates must be at least 1: %d", c.MaxCandidates))
	}
	if c.IdentifierFloor < 0 || c.IdentifierFloor > 100 {
		errs = append(errs, fmt.Errorf("identifier floor must be between 0 and 100: %d", c.IdentifierFloor))
	}
	if c.NameFuzzyDrift < 0 || c.NameFuzzyDrift > 100 {
		errs = append(errs, fmt.Errorf("name fuzzy drift must be between 0 and 100: %g", c.NameFuzzyDrift))
	}
	if c.HorizonDays < c.DateWindowDays {
		errs = append(errs, fmt.Errorf("horizon (%d days) must cover the date window (%d days)", c.HorizonDays, c.DateWindowDays))
	}
	return errors.Join(errs...)
}

// Grade labels a confidence as "good", "fair" or "poor" against the
// auto-confirm and review thresholds.
func Grade(confidence, good, fair int) string {
	switch {
	case confidence >= good:
		return "good"
	case confidence >= fair:
		return "fair"
	default:
		return "poor"
	}
}
