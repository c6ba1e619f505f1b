package main

import (
	"bytes"
	"strings"
	"testing"

	"storefront/internal/db"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"yes\n", true},
		{"  YES  \n", true},
		{"yes", true},
		{"y\n", false},
		{"no\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			if got := confirm(strings.NewReader(tt.input), &out); got != tt.want {
				t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if !strings.Contains(out.String(), "PRODUCTION") {
				t.Errorf("confirm prompt missing warning: %q", out.String())
			}
		})
	}
}

func TestPrintReport(t *testing.T) {
	tests := []struct {
		name   string
		report db.MigrationReport
		dryRun bool
		want   string
	}{
		{
			name: "nothing to migrate",
			want: "nothing to migrate",
		},
		{
			name:   "dry run",
			report: db.MigrationReport{LegacyColumnPresent: true, Pending: 3},
			dryRun: true,
			want:   "DRY RUN: 3 orders would be updated (0 conflicts).",
		},
		{
			name:   "applied",
			report: db.MigrationReport{LegacyColumnPresent: true, Pending: 3, Copied: 3, Dropped: true},
			want:   "Updated 3 orders.\nDropped orders." + db.LegacyPaymentColumn,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printReport(&buf, tt.report, tt.dryRun)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("printReport output %q does not contain %q", buf.String(), tt.want)
			}
		})
	}
}
