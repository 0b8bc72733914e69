package textsearch

import "testing"

func TestFold(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Kópi  SUSU", "kopi susu"},
		{"  Crème Brûlée ", "creme brulee"},
		{"SKU-MIE-01", "sku-mie-01"},
	}
	for _, tc := range cases {
		if got := Fold(tc.in); got != tc.want {
			t.Fatalf("Fold(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMatchRequiresEveryToken(t *testing.T) {
	if !Match("susu uht", "Susu UHT 1L", "dairy") {
		t.Fatalf("expected match on name")
	}
	if !Match("dairy 1l", "Susu UHT 1L", "dairy") {
		t.Fatalf("expected match across fields")
	}
	if Match("susu coklat", "Susu UHT 1L", "dairy") {
		t.Fatalf("expected no match when a token is missing")
	}
	if !Match("   ", "anything") {
		t.Fatalf("expected blank query to match")
	}
}
