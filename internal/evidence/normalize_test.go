package evidence

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "already clean", input: "CASE-001", want: "CASE-001"},
		{name: "trim whitespace", input: "  S1  ", want: "S1"},
		{name: "collapse internal whitespace", input: "PV  2024\t12", want: "PV_2024_12"},
		{name: "empty string", input: "", want: ""},
		{name: "only whitespace", input: " \t\n ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple", input: "CASE-001", wantErr: false},
		{name: "unicode", input: "Scellé_3", wantErr: false},
		{name: "empty", input: "", wantErr: true},
		{name: "leading space", input: " S1", wantErr: true},
		{name: "slash", input: "a/b", wantErr: true},
		{name: "backslash", input: `a\b`, wantErr: true},
		{name: "colon", input: "C:", wantErr: true},
		{name: "question mark", input: "what?", wantErr: true},
		{name: "reserved", input: "con", wantErr: true},
		{name: "reserved with extension", input: "LPT1.txt", wantErr: true},
		{name: "trailing dot", input: "S1.", wantErr: true},
		{name: "dot dot", input: "..", wantErr: true},
		{name: "control char", input: "S\x01", wantErr: true},
		{name: "too long", input: strings.Repeat("x", MaxNameLength+1), wantErr: true},
		{name: "max length", input: strings.Repeat("x", MaxNameLength), wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName("seal", tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateObjectLetter(t *testing.T) {
	for _, ok := range []string{"A", "M", "Z"} {
		if err := ValidateObjectLetter(ok); err != nil {
			t.Errorf("ValidateObjectLetter(%q) error = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a", "AA", "1", "É"} {
		if err := ValidateObjectLetter(bad); err == nil {
			t.Errorf("ValidateObjectLetter(%q) expected error", bad)
		}
	}
}
