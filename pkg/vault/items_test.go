package vault

import (
	"testing"
	"time"
)

func TestCreditCardMaskedNumber(t *testing.T) {
	tests := []struct {
		number string
		want   string
	}{
		{"4111111111111111", "•••• 1111"},
		{"1234", "•••• 1234"},
		{"123", "123"},
		{"", ""},
	}
	for _, tt := range tests {
		c := CreditCard{CardNumber: tt.number}
		if got := c.MaskedNumber(); got != tt.want {
			t.Errorf("MaskedNumber(%q) = %q, want %q", tt.number, got, tt.want)
		}
	}
}

func TestCreditCardBrand(t *testing.T) {
	tests := []struct {
		number string
		want   CardBrand
	}{
		{"4111111111111111", BrandVisa},
		{"5500000000000004", BrandMastercard},
		{"340000000000009", BrandAmex},
		{"6011000000000004", BrandDiscover},
		{"9999", BrandUnknown},
		{"", BrandUnknown},
	}
	for _, tt := range tests {
		c := CreditCard{CardNumber: tt.number}
		if got := c.Brand(); got != tt.want {
			t.Errorf("Brand(%q) = %q, want %q", tt.number, got, tt.want)
		}
	}
}

func TestCreditCardExpiry(t *testing.T) {
	now := time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		month, year int
		want        bool
	}{
		{"last year", 12, 2025, true},
		{"earlier this year", 5, 2026, true},
		{"this month", 6, 2026, false},
		{"next year", 1, 2027, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := CreditCard{ExpirationMonth: tt.month, ExpirationYear: tt.year}
			if got := c.ExpiredAt(now); got != tt.want {
				t.Errorf("ExpiredAt() = %v, want %v", got, tt.want)
			}
		})
	}

	c := CreditCard{ExpirationMonth: 3, ExpirationYear: 2028}
	if got := c.Expiration(); got != "03/2028" {
		t.Errorf("Expiration() = %q, want %q", got, "03/2028")
	}
}

func TestAPIKeyMaskedKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"sk_live_abcdef123456", "sk_l••••3456"},
		{"short", "••••••••"},
		{"12345678", "••••••••"},
		{"123456789", "1234••••6789"},
	}
	for _, tt := range tests {
		a := APIKey{Key: tt.key}
		if got := a.MaskedKey(); got != tt.want {
			t.Errorf("MaskedKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestExpiryDates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if (&APIKey{}).ExpiredAt(now) {
		t.Error("APIKey without expiry should not be expired")
	}
	if !(&APIKey{ExpiryDate: &past}).ExpiredAt(now) {
		t.Error("APIKey with past expiry should be expired")
	}
	if (&Identity{ExpiryDate: &future}).ExpiredAt(now) {
		t.Error("Identity with future expiry should not be expired")
	}
}

func TestIdentityFullName(t *testing.T) {
	i := Identity{FirstName: "Ada", LastName: "Lovelace"}
	if got := i.FullName(); got != "Ada Lovelace" {
		t.Errorf("FullName() = %q, want %q", got, "Ada Lovelace")
	}
	i.MiddleName = "King"
	if got := i.FullName(); got != "Ada King Lovelace" {
		t.Errorf("FullName() = %q, want %q", got, "Ada King Lovelace")
	}
}

func TestLoginDomain(t *testing.T) {
	tests := map[string]string{
		"https://mail.example.com/login": "mail.example.com",
		"http://example.com:8080":        "example.com",
		"":                               "",
		"not a url":                      "",
	}
	for u, want := range tests {
		l := LoginItem{URL: u}
		if got := l.Domain(); got != want {
			t.Errorf("Domain(%q) = %q, want %q", u, got, want)
		}
	}
}

func TestSearchableContent(t *testing.T) {
	l := LoginItem{
		Header:   Header{Title: "GitHub"},
		Username: "Alice",
		URL:      "https://github.com",
	}
	if got, want := SearchableContent(&l), "github alice https://github.com github.com"; got != want {
		t.Errorf("SearchableContent(login) = %q, want %q", got, want)
	}

	c := CreditCard{Header: Header{Title: "Visa"}, CardholderName: "Bob", CardNumber: "4111111111111111"}
	if got, want := SearchableContent(&c), "visa bob •••• 1111"; got != want {
		t.Errorf("SearchableContent(card) = %q, want %q", got, want)
	}

	n := SecureNote{Header: Header{Title: "Recovery"}, Content: "Codes"}
	if got, want := SearchableContent(&n), "recovery codes"; got != want {
		t.Errorf("SearchableContent(note) = %q, want %q", got, want)
	}
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"login":  KindLogin,
		"note":   KindNote,
		"Card":   KindCard,
		"wifi":   KindWiFi,
		"apikey": KindAPIKey,
	}
	for in, want := range tests {
		got, ok := ParseKind(in)
		if !ok || got != want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q, true", in, got, ok, want)
		}
	}
	if _, ok := ParseKind("folder"); ok {
		t.Error("ParseKind(folder) should fail")
	}
}
