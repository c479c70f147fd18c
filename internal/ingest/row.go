// Package ingest encrypts and indexes incoming bank records, runs CSV
// uploads as background jobs and rebuilds the blind index.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ziadkadry99/vaultsearch/internal/config"
)

var (
	// ErrNameRequired rejects rows with a blank customer name.
	ErrNameRequired = errors.New("customer_name is required")

	// ErrBadBalance rejects rows whose balance is not a decimal number.
	ErrBadBalance = errors.New("balance is not a decimal number")
)

// Row is one plaintext record awaiting ingestion. It decodes from JSON
// under the same field names the CSV header accepts, so
// {"identity": ..., "name": ..., "account": ..., "bank": ...} and the
// canonical customer_id/customer_name/account_number/bank_name are
// equivalent.
type Row struct {
	CustomerID string `json:"customer_id"`
	Name       string `json:"customer_name"`
	Account    string `json:"account_number"`
	Bank       string `json:"bank_name"`
	Branch     string `json:"branch"`
	City       string `json:"city"`
	Balance    string `json:"balance"`

	// Line is the source line for CSV rows, 0 otherwise.
	Line int `json:"-"`
}

// UnmarshalJSON accepts any headerAliases key. Values may be JSON strings,
// numbers or null.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return err
	}

	var row Row
	for key, raw := range fields {
		set, ok := headerAliases[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case nil:
		case string:
			*set(&row) = v
		case json.Number:
			*set(&row) = v.String()
		default:
			return fmt.Errorf("field %q: expected a string or number", key)
		}
	}
	row.Line = r.Line
	*r = row
	return nil
}

// normalize trims every field and canonicalizes the balance. An empty
// balance is stored as 0.
func (r Row) normalize() (Row, error) {
	for _, f := range []*string{&r.CustomerID, &r.Name, &r.Account, &r.Bank, &r.Branch, &r.City, &r.Balance} {
		*f = strings.TrimSpace(*f)
	}
	if r.Name == "" {
		return r, ErrNameRequired
	}
	if r.Balance == "" {
		r.Balance = "0"
	}
	d, err := decimal.NewFromString(r.Balance)
	if err != nil {
		return r, fmt.Errorf("%w: %q", ErrBadBalance, r.Balance)
	}
	r.Balance = d.String()
	return r, nil
}

// Field returns the plaintext value of an indexable field.
func (r Row) Field(f config.IndexField) string {
	switch f {
	case config.FieldName:
		return r.Name
	case config.FieldAccount:
		return r.Account
	case config.FieldCity:
		return r.City
	case config.FieldBank:
		return r.Bank
	case config.FieldBranch:
		return r.Branch
	}
	return ""
}

// RowError describes a row that was skipped.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Line, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

func (e *RowError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Line  int    `json:"line"`
		Error string `json:"error"`
	}{e.Line, e.Err.Error()})
}

// Result summarizes an ingestion batch.
type Result struct {
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Tokens    int         `json:"tokens"`
	Errors    []*RowError `json:"errors,omitempty"`
	BlockID   int64       `json:"block_id"`
}
