package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMissingNameColumn is returned for CSV input with no customer name column.
var ErrMissingNameColumn = errors.New("csv header has no customer_name column")

// headerAliases maps accepted column names to Row fields.
var headerAliases = map[string]func(*Row) *string{
	"customer_id":    func(r *Row) *string { return &r.CustomerID },
	"id":             func(r *Row) *string { return &r.CustomerID },
	"identity":       func(r *Row) *string { return &r.CustomerID },
	"customer_name":  func(r *Row) *string { return &r.Name },
	"name":           func(r *Row) *string { return &r.Name },
	"account_number": func(r *Row) *string { return &r.Account },
	"account":        func(r *Row) *string { return &r.Account },
	"acc":            func(r *Row) *string { return &r.Account },
	"bank_name":      func(r *Row) *string { return &r.Bank },
	"bank":           func(r *Row) *string { return &r.Bank },
	"branch":         func(r *Row) *string { return &r.Branch },
	"city":           func(r *Row) *string { return &r.City },
	"balance":        func(r *Row) *string { return &r.Balance },
}

// ParseCSV reads a header-driven CSV document. Unknown columns are ignored.
// Rows whose column count differs from the header are returned as row
// errors; the rest are returned in input order.
func ParseCSV(in io.Reader) ([]Row, []*RowError, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading csv header: %w", err)
	}

	setters := make([]func(*Row) *string, len(header))
	hasName := false
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		setters[i] = headerAliases[key]
		if key == "customer_name" || key == "name" {
			hasName = true
		}
	}
	if !hasName {
		return nil, nil, ErrMissingNameColumn
	}

	var (
		rows    []Row
		rowErrs []*RowError
	)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rowErrs = append(rowErrs, &RowError{Line: perr.StartLine, Err: perr.Err})
				continue
			}
			return nil, nil, fmt.Errorf("reading csv: %w", err)
		}
		line, _ := r.FieldPos(0)
		if len(rec) != len(header) {
			rowErrs = append(rowErrs, &RowError{
				Line: line,
				Err:  fmt.Errorf("expected %d fields, got %d", len(header), len(rec)),
			})
			continue
		}

		row := Row{Line: line}
		for i, v := range rec {
			if setters[i] != nil {
				*setters[i](&row) = v
			}
		}
		rows = append(rows, row)
	}
	return rows, rowErrs, nil
}
