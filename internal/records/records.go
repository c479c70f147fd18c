// Package records stores encrypted bank records and the blind-index tokens
// that point at them. Every field held here is a ciphertext blob; only
// Summarize and Reveal produce plaintext.
package records

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("record not found")

// Record is one stored row. All string fields are ciphertext.
type Record struct {
	ID            int64  `json:"id"`
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name"`
	AccountNumber string `json:"account_number"`
	BankName      string `json:"bank_name"`
	Branch        string `json:"branch"`
	City          string `json:"city"`
	Balance       string `json:"balance"`
}

// Summary is the plaintext display shape returned by search.
type Summary struct {
	ID           int64  `json:"id"`
	CustomerName string `json:"customer_name"`
	Account      string `json:"account"`
	City         string `json:"city"`
	Bank         string `json:"bank"`
	Branch       string `json:"branch"`
}

// Plain is a fully decrypted record.
type Plain struct {
	Summary
	CustomerID string `json:"customer_id"`
	Balance    string `json:"balance"`
}

// Decrypter turns a ciphertext blob back into plaintext.
type Decrypter interface {
	Decrypt(blob string) (string, error)
}

// Summarize decrypts the display fields of r.
func (r *Record) Summarize(d Decrypter) (*Summary, error) {
	s := &Summary{ID: r.ID}
	for _, f := range []struct {
		blob string
		dst  *string
	}{
		{r.CustomerName, &s.CustomerName},
		{r.AccountNumber, &s.Account},
		{r.City, &s.City},
		{r.BankName, &s.Bank},
		{r.Branch, &s.Branch},
	} {
		v, err := d.Decrypt(f.blob)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	return s, nil
}

// Reveal decrypts every field of r.
func (r *Record) Reveal(d Decrypter) (*Plain, error) {
	s, err := r.Summarize(d)
	if err != nil {
		return nil, err
	}
	p := &Plain{Summary: *s}
	if p.CustomerID, err = d.Decrypt(r.CustomerID); err != nil {
		return nil, err
	}
	if p.Balance, err = d.Decrypt(r.Balance); err != nil {
		return nil, err
	}
	return p, nil
}

// RawPreviewLen is how many ciphertext characters Raw exposes per field.
const RawPreviewLen = 40

// RawRow is a truncated ciphertext view of a record, showing what a
// storage-level breach would reveal.
type RawRow struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Account string `json:"acc"`
	City    string `json:"city"`
}

func preview(blob string) string {
	if len(blob) <= RawPreviewLen {
		return blob
	}
	return blob[:RawPreviewLen] + "..."
}

// Counts summarizes table sizes.
type Counts struct {
	Records      int `json:"total_records"`
	Tokens       int `json:"total_tokens"`
	Blocks       int `json:"total_blocks"`
	AuditEntries int `json:"total_logs"`
}

// TokensPerRecord is the average index fan-out, rounded to one decimal.
func (c Counts) TokensPerRecord() float64 {
	if c.Records == 0 {
		return 0
	}
	v := float64(c.Tokens) / float64(c.Records)
	return float64(int(v*10+0.5)) / 10
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
