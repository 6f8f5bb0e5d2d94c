package normalize

import "testing"

func TestAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1.234,56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"100,00", "100.00"},
		{"123,45", "123.45"},
		{"1,234", "1234.00"},
		{"123.45", "123.45"},
		{"1.234", "1234.00"},
		{"€ 1.234,56", "1234.56"},
		{"$99", "99.00"},
		{"1234.56", "1234.56"},
		{"not a number", "not a number"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Amount(tc.in); got != tc.want {
			t.Errorf("Amount(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAmountIdempotent(t *testing.T) {
	once := Amount("1.234,56")
	if twice := Amount(once); twice != once {
		t.Errorf("Amount not idempotent: %q -> %q", once, twice)
	}
}

func TestDate(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"15/03/2024", "2024-03-15"},
		{"15-03-2024", "2024-03-15"},
		{"15.03.2024", "2024-03-15"},
		{"01-12-23", "2023-12-01"},
		{"01/12/99", "2099-12-01"},
		{"2024-03-15", "2024-03-15"},
		{" 15/03/2024 ", "2024-03-15"},
		{"not a date", "not a date"},
		{"32/13/2024", "32/13/2024"},
	}
	for _, tc := range cases {
		if got := Date(tc.in); got != tc.want {
			t.Errorf("Date(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTaxID(t *testing.T) {
	if got, ok := TaxID("12345678901"); !ok || got != "12345678901" {
		t.Errorf("11-digit VAT rejected: %q %v", got, ok)
	}
	if got, ok := TaxID("IT 12345678901"); ok || got != "" {
		// 13 chars after stripping, neither a VAT nor a fiscal code
		t.Errorf("prefixed VAT accepted: %q", got)
	}
	if got, ok := TaxID("12.345.678.901"); !ok || got != "12345678901" {
		t.Errorf("punctuated VAT rejected: %q %v", got, ok)
	}
	if got, ok := TaxID("rssmra80a01h501u"); !ok || got != "RSSMRA80A01H501U" {
		t.Errorf("fiscal code not uppercased: %q %v", got, ok)
	}
	if _, ok := TaxID("1234567890"); ok {
		t.Error("10-digit value accepted")
	}
	if _, ok := TaxID("1234567890a"); ok {
		t.Error("11-char mixed value accepted as VAT")
	}
	if _, ok := TaxID(""); ok {
		t.Error("empty value accepted")
	}
}

func TestDocNumber(t *testing.T) {
	if got, ok := DocNumber("2024/001"); !ok || got != "2024/001" {
		t.Errorf("DocNumber(2024/001) = %q %v", got, ok)
	}
	if got, ok := DocNumber("ft-123"); !ok || got != "FT-123" {
		t.Errorf("DocNumber(ft-123) = %q %v", got, ok)
	}
	if got, ok := DocNumber("n.   42"); !ok || got != "N. 42" {
		t.Errorf("whitespace not collapsed: %q %v", got, ok)
	}
	if _, ok := DocNumber("no digits here"); ok {
		t.Error("value without digits accepted")
	}
	if _, ok := DocNumber("12345678901234567890123456"); ok {
		t.Error("26-char value accepted")
	}
	if _, ok := DocNumber("1"); ok {
		t.Error("single char accepted")
	}
}

func TestParty(t *testing.T) {
	if got, ok := Party("  acme forniture srl "); !ok || got != "Acme Forniture Srl" {
		t.Errorf("Party = %q %v", got, ok)
	}
	if _, ok := Party("ab"); ok {
		t.Error("two-char party accepted")
	}
}

func TestParseISODate(t *testing.T) {
	if _, ok := ParseISODate("2024-03-15"); !ok {
		t.Error("valid ISO date rejected")
	}
	if _, ok := ParseISODate("15/03/2024"); ok {
		t.Error("non-ISO date accepted")
	}
}
