package validation

import "testing"

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  int
		valid bool
	}{
		{
			name:  "plain number",
			text:  "2000",
			want:  2000,
			valid: true,
		},
		{
			name:  "with spaces",
			text:  "  150 ",
			want:  150,
			valid: true,
		},
		{
			name:  "zero",
			text:  "0",
			valid: false,
		},
		{
			name:  "negative",
			text:  "-5",
			valid: false,
		},
		{
			name:  "not a number",
			text:  "https://example.com/p/1",
			valid: false,
		},
		{
			name:  "empty",
			text:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseQuantity(tt.text)
			if ok != tt.valid {
				t.Fatalf("ParseQuantity(%q) valid = %v, want %v", tt.text, ok, tt.valid)
			}
			if ok && got != tt.want {
				t.Fatalf("ParseQuantity(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestParsePriceRange(t *testing.T) {
	minP, maxP, err := ParsePriceRange("0.5-2")
	if err != nil {
		t.Fatalf("ParsePriceRange error: %v", err)
	}
	if minP != 50 || maxP != 200 {
		t.Fatalf("range = (%d, %d), want (50, 200)", minP, maxP)
	}

	if _, _, err := ParsePriceRange("10"); err == nil {
		t.Fatalf("expected error for range without separator")
	}
	if _, _, err := ParsePriceRange("5-1"); err == nil {
		t.Fatalf("expected error for inverted range")
	}
	if _, _, err := ParsePriceRange("a-b"); err == nil {
		t.Fatalf("expected error for non-numeric range")
	}
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		text  string
		want  float64
		valid bool
	}{
		{text: "15", want: 15, valid: true},
		{text: "+15", want: 15, valid: true},
		{text: "-7.5", want: -7.5, valid: true},
		{text: "-100", valid: false},
		{text: "abc", valid: false},
		{text: "", valid: false},
	}

	for _, tt := range tests {
		got, err := ParsePercent(tt.text)
		if tt.valid && err != nil {
			t.Fatalf("ParsePercent(%q) error: %v", tt.text, err)
		}
		if !tt.valid && err == nil {
			t.Fatalf("ParsePercent(%q) expected error", tt.text)
		}
		if tt.valid && got != tt.want {
			t.Fatalf("ParsePercent(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
