package provider

import (
	"testing"

	"github.com/terrane-dev/terrane/pkg/property"
)

func TestDiffChangesValidate(t *testing.T) {
	tests := []struct {
		name    string
		changes DiffChanges
		wantErr bool
	}{
		{"unknown", DiffUnknown, false},
		{"none", DiffNone, false},
		{"some", DiffSome, false},
		{"empty", DiffChanges(""), true},
		{"bogus", DiffChanges("maybe"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.changes.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDiffResultValidate(t *testing.T) {
	news := property.Map{
		"size": property.String("large"),
		"zone": property.String("a"),
	}

	tests := []struct {
		name    string
		result  DiffResult
		wantErr bool
	}{
		{
			name:   "no changes",
			result: DiffResult{Changes: DiffNone},
		},
		{
			name:   "replacement keys subset of news",
			result: DiffResult{Changes: DiffSome, Replaces: []string{"zone"}},
		},
		{
			name:    "none with replacement keys",
			result:  DiffResult{Changes: DiffNone, Replaces: []string{"zone"}},
			wantErr: true,
		},
		{
			name:    "replacement key outside news",
			result:  DiffResult{Changes: DiffSome, Replaces: []string{"flavor"}},
			wantErr: true,
		},
		{
			name:    "invalid changes value",
			result:  DiffResult{Changes: DiffChanges("perhaps")},
			wantErr: true,
		},
		{
			name:   "unknown is valid",
			result: DiffResult{Changes: DiffUnknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate(news)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDiffResultReplacement(t *testing.T) {
	if (DiffResult{Changes: DiffSome}).Replacement() {
		t.Error("Replacement() = true with no replacement keys")
	}
	if !(DiffResult{Changes: DiffSome, Replaces: []string{"zone"}}).Replacement() {
		t.Error("Replacement() = false with replacement keys")
	}
}
