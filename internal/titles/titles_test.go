package titles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(s string) *string { return &s }

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		original  string
		candidate *string
		want      Decision
	}{
		{"nil candidate fails", "Scan_001", nil, Decision{Action: Fail}},
		{"empty candidate warns", "Scan_001", ptr(""), Decision{Action: Warn}},
		{"whitespace candidate warns", "Scan_001", ptr("  \t "), Decision{Action: Warn}},
		{"same title is noop", "Invoice ACME", ptr("Invoice ACME"), Decision{Action: NoOp}},
		{"same after trimming is noop", " Invoice ACME ", ptr("Invoice ACME  "), Decision{Action: NoOp}},
		{"different title renames", "Scan_001", ptr("  Invoice ACME "), Decision{Action: Rename, Title: "Invoice ACME"}},
		{"case differs renames", "invoice", ptr("Invoice"), Decision{Action: Rename, Title: "Invoice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.original, tt.candidate))
		})
	}
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "fail", Fail.String())
	assert.Equal(t, "warn", Warn.String())
	assert.Equal(t, "noop", NoOp.String())
	assert.Equal(t, "rename", Rename.String())
	assert.Equal(t, "unknown", Action(42).String())
}

func TestClean(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		changed bool
	}{
		{"2023-10-01 Invoice", "Invoice", true},
		{"2023-10-01Invoice", "Invoice", true},
		{"2023-10-01", "2023-10-01", false},
		{"2023-10-01   ", "2023-10-01", false},
		{"2023-10 Invoice", "Invoice 10-2023", true},
		{"2023 Tax Return", "Tax Return 2023", true},
		{"Invoice 2023", "Invoice 2023", false},
		{"Electricity Bill", "Electricity Bill", false},
		{"2023-10", "2023-10", false},
		{"  2023 Tax Return ", "Tax Return 2023", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, changed := Clean(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestIsScan(t *testing.T) {
	assert.True(t, IsScan("Scan_0001"))
	assert.True(t, IsScan(" Scan 2023"))
	assert.False(t, IsScan("Invoice Scan"))
	assert.False(t, IsScan("scan_0001"))
}
