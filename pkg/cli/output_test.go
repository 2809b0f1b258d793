package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

type batchTable [][]string

func (batchTable) Header() []string { return []string{"ID", "STATUS", "VALUE"} }
func (t batchTable) Rows() [][]string { return t }

var sample = batchTable{
	{"b-1", "settled", "1024"},
	{"b-22", "pending", "65536"},
}

func TestTextFormatter(t *testing.T) {
	formatter := &TextFormatter{}

	output, err := formatter.Format("test message")
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if string(output) != "test message\n" {
		t.Errorf("Format() = %q, want %q", string(output), "test message\n")
	}
}

func TestTextFormatter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&TextFormatter{}).FormatTo(buf, sample); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", buf.String())
	}
	// Columns are aligned, so STATUS starts at the same offset on every line.
	col := strings.Index(lines[0], "STATUS")
	for _, line := range lines[1:] {
		if !strings.HasPrefix(line[col:], "settled") && !strings.HasPrefix(line[col:], "pending") {
			t.Errorf("misaligned row %q", line)
		}
	}
}

func TestJSONFormatter(t *testing.T) {
	tests := []struct {
		name   string
		data   interface{}
		indent bool
	}{
		{"simple string", "test", false},
		{"map with indent", map[string]string{"key": "value"}, true},
		{"struct", struct {
			ID    string `json:"id"`
			Value string `json:"value"`
		}{"b-1", "1024"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := (&JSONFormatter{Indent: tt.indent}).Format(tt.data)
			if err != nil {
				t.Fatalf("Format() error = %v", err)
			}

			var result interface{}
			if err := json.Unmarshal(output, &result); err != nil {
				t.Errorf("Format() produced invalid JSON: %v", err)
			}
		})
	}
}

func TestCSVFormatter(t *testing.T) {
	output, err := (&CSVFormatter{}).Format(sample)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	want := "ID,STATUS,VALUE\nb-1,settled,1024\nb-22,pending,65536\n"
	if string(output) != want {
		t.Errorf("Format() = %q, want %q", output, want)
	}

	if _, err := (&CSVFormatter{}).Format("not a table"); err == nil {
		t.Error("expected error for non-table data")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format OutputFormat
		want   string
	}{
		{FormatText, "*cli.TextFormatter"},
		{FormatJSON, "*cli.JSONFormatter"},
		{FormatCSV, "*cli.CSVFormatter"},
		{"unknown", "*cli.TextFormatter"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if got := fmt.Sprintf("%T", NewFormatter(tt.format)); got != tt.want {
				t.Errorf("NewFormatter(%q) type = %v, want %v", tt.format, got, tt.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"JSON", FormatJSON, false},
		{"csv", FormatCSV, false},
		{"junit", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}
