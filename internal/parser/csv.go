package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hochfrequenz/bulkloader/internal/domain"
)

var (
	// ErrNoRecords means the file had headers but no usable rows
	ErrNoRecords = errors.New("no valid records found")
	// ErrTooManyRows means the file exceeded the row cap
	ErrTooManyRows = errors.New("too many records")
)

var requiredColumns = []string{"name", "address"}

// ParseCSV validates and parses a CSV of hospital records. Expected
// columns: name, address (required), phone (optional). Empty rows are
// skipped; row numbering in error messages counts data rows from 1.
func ParseCSV(r io.Reader, maxRows int) ([]domain.HospitalRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.New("file is empty or has no headers")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := cols[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}

	field := func(row []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var records []domain.HospitalRecord
	rowNum := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing row %d: %w", rowNum+1, err)
		}
		rowNum++

		empty := true
		for _, v := range row {
			if strings.TrimSpace(v) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}

		name := field(row, "name")
		address := field(row, "address")
		if name == "" {
			return nil, fmt.Errorf("row %d: name is required", rowNum)
		}
		if address == "" {
			return nil, fmt.Errorf("row %d: address is required", rowNum)
		}

		records = append(records, domain.HospitalRecord{
			Name:    name,
			Address: address,
			Phone:   field(row, "phone"),
		})
	}

	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	if maxRows > 0 && len(records) > maxRows {
		return nil, fmt.Errorf("%w: %d records, maximum is %d", ErrTooManyRows, len(records), maxRows)
	}

	return records, nil
}
