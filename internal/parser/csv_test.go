package parser

import (
	"errors"
	"strings"
	"testing"
)

func TestParseCSV(t *testing.T) {
	input := `name,address,phone
General Hospital,123 Main St,555-0123
City Medical Center,456 Oak Ave,
Metro Health,789 Pine Rd,555-0789
`
	records, err := ParseCSV(strings.NewReader(input), 20)
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].Name != "General Hospital" || records[0].Phone != "555-0123" {
		t.Errorf("record 0 = %+v", records[0])
	}
	if records[1].Phone != "" {
		t.Errorf("record 1 phone = %q, want empty", records[1].Phone)
	}
}

func TestParseCSV_SkipsEmptyRows(t *testing.T) {
	input := "name,address\nGeneral Hospital,123 Main St\n,\nMetro Health,789 Pine Rd\n"
	records, err := ParseCSV(strings.NewReader(input), 20)
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2 (empty row skipped)", len(records))
	}
}

func TestParseCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		maxRows int
		wantIn  string
	}{
		{"empty file", "", 20, "empty"},
		{"missing address column", "name,phone\nA,1\n", 20, "missing required columns: address"},
		{"missing both columns", "phone\n1\n", 20, "missing required columns"},
		{"blank name", "name,address\n,123 Main St\n", 20, "row 1: name is required"},
		{"blank address", "name,address\nOther,1 Elm St\nGeneral Hospital,\n", 20, "row 2: address is required"},
		{"no data rows", "name,address\n", 20, "no valid records"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tt.input), tt.maxRows)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantIn)
			}
		})
	}
}

func TestParseCSV_RowCap(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("name,address\n")
	for i := 0; i < 21; i++ {
		sb.WriteString("H,1 Main St\n")
	}

	_, err := ParseCSV(strings.NewReader(sb.String()), 20)
	if !errors.Is(err, ErrTooManyRows) {
		t.Errorf("error = %v, want ErrTooManyRows", err)
	}
}

func TestParseCSV_HeaderCaseInsensitive(t *testing.T) {
	input := "Name,Address\nGeneral Hospital,123 Main St\n"
	records, err := ParseCSV(strings.NewReader(input), 20)
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
}
