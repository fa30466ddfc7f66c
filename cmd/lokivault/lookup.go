package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/forest6511/lokivault/pkg/vault"
)

// shortIDLength is how much of a record ID list prints and show accepts
const shortIDLength = 8

func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

// findRecord resolves a full ID or a unique ID prefix to a record value.
func findRecord(repo *vault.Repository, ref string) (any, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return nil, errors.New("record ID must not be empty")
	}

	all, err := repo.List(vault.Filter{}, time.Now())
	if err != nil {
		return nil, err
	}
	var matches []vault.Summary
	for _, s := range all {
		if s.ID == ref {
			matches = []vault.Summary{s}
			break
		}
		if strings.HasPrefix(s.ID, ref) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no record with ID %q", ref)
	case 1:
	default:
		return nil, fmt.Errorf("ID %q is ambiguous (%d records match)", ref, len(matches))
	}

	id := matches[0].ID
	switch matches[0].Kind {
	case vault.KindLogin:
		return vault.Get[vault.LoginItem](repo, id)
	case vault.KindNote:
		return vault.Get[vault.SecureNote](repo, id)
	case vault.KindCard:
		return vault.Get[vault.CreditCard](repo, id)
	case vault.KindIdentity:
		return vault.Get[vault.Identity](repo, id)
	case vault.KindWiFi:
		return vault.Get[vault.WiFiPassword](repo, id)
	case vault.KindAPIKey:
		return vault.Get[vault.APIKey](repo, id)
	}
	return nil, fmt.Errorf("unknown kind %q", matches[0].Kind)
}

func headerOf(record any) vault.Header {
	switch r := record.(type) {
	case vault.LoginItem:
		return r.Header
	case vault.SecureNote:
		return r.Header
	case vault.CreditCard:
		return r.Header
	case vault.Identity:
		return r.Header
	case vault.WiFiPassword:
		return r.Header
	case vault.APIKey:
		return r.Header
	}
	return vault.Header{}
}

func kindOf(record any) vault.Kind {
	switch r := record.(type) {
	case vault.LoginItem:
		return r.Kind()
	case vault.SecureNote:
		return r.Kind()
	case vault.CreditCard:
		return r.Kind()
	case vault.Identity:
		return r.Kind()
	case vault.WiFiPassword:
		return r.Kind()
	case vault.APIKey:
		return r.Kind()
	}
	return ""
}

// findCategory matches a category by ID or case-insensitive name.
func findCategory(repo *vault.Repository, ref string) (vault.Category, error) {
	for _, c := range repo.Categories() {
		if c.ID == ref || strings.EqualFold(c.Name, ref) {
			return c, nil
		}
	}
	return vault.Category{}, fmt.Errorf("no category %q", ref)
}

// findTag matches a tag by ID or case-insensitive name.
func findTag(repo *vault.Repository, ref string) (vault.Tag, error) {
	for _, t := range repo.Tags() {
		if t.ID == ref || strings.EqualFold(t.Name, ref) {
			return t, nil
		}
	}
	return vault.Tag{}, fmt.Errorf("no tag %q", ref)
}

// splitTags parses a comma-separated list, dropping blanks and duplicates.
func splitTags(s string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return tags
}

// parseCardExpiry parses MM/YYYY or MM/YY.
func parseCardExpiry(s string) (month, year int, err error) {
	if s == "" {
		return 0, 0, errors.New("card expiry is required (--expiry MM/YYYY)")
	}
	if _, err := fmt.Sscanf(s, "%d/%d", &month, &year); err != nil {
		return 0, 0, fmt.Errorf("invalid card expiry %q (want MM/YYYY)", s)
	}
	if year < 100 {
		year += 2000
	}
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("invalid card expiry month %d", month)
	}
	return month, year, nil
}

// parseDate parses an optional YYYY-MM-DD date.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return &t, nil
}

const masked = "••••••••"

// printRecord writes the fields of record, masking secrets unless reveal.
func printRecord(w io.Writer, repo *vault.Repository, record any, reveal bool) {
	secret := func(v string) string {
		if reveal || v == "" {
			return v
		}
		return masked
	}
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(w, "%-14s %s\n", name+":", value)
		}
	}

	h := headerOf(record)
	field("ID", h.ID)
	field("Kind", string(kindOf(record)))
	field("Title", h.Title)
	if h.IsFavorite {
		field("Favorite", "yes")
	}
	if h.CategoryID != "" {
		name := h.CategoryID
		for _, c := range repo.Categories() {
			if c.ID == h.CategoryID {
				name = c.Name
			}
		}
		field("Category", name)
	}
	field("Tags", strings.Join(h.Tags, ", "))

	now := time.Now()
	expiredSuffix := func(expired bool) string {
		if expired {
			return " (expired)"
		}
		return ""
	}

	var notes string
	switch r := record.(type) {
	case vault.LoginItem:
		field("Username", r.Username)
		field("Password", secret(r.Password))
		field("URL", r.URL)
		field("TOTP secret", secret(r.TOTPSecret))
		notes = r.Notes
	case vault.SecureNote:
		if reveal {
			fmt.Fprintf(w, "\n%s\n\n", r.Content)
		} else {
			field("Content", masked)
		}
	case vault.CreditCard:
		field("Cardholder", r.CardholderName)
		field("Brand", string(r.Brand()))
		if reveal {
			field("Number", r.CardNumber)
		} else {
			field("Number", r.MaskedNumber())
		}
		field("Expires", r.Expiration()+expiredSuffix(r.ExpiredAt(now)))
		field("CVV", secret(r.CVV))
		field("PIN", secret(r.PIN))
		notes = r.Notes
	case vault.Identity:
		field("Name", r.FullName())
		field("Type", string(r.IdentityType))
		field("Number", secret(r.IdentityNumber))
		field("Country", r.IssuingCountry)
		if r.ExpiryDate != nil {
			field("Expires", r.ExpiryDate.Format(time.DateOnly)+expiredSuffix(r.ExpiredAt(now)))
		}
		field("Email", r.Email)
		field("Phone", r.PhoneNumber)
		notes = r.Notes
	case vault.WiFiPassword:
		field("SSID", r.SSID)
		field("Security", string(r.SecurityType))
		field("Password", secret(r.Password))
		notes = r.Notes
	case vault.APIKey:
		field("Service", r.ServiceName)
		field("Type", string(r.APIType))
		if reveal {
			field("Key", r.Key)
		} else {
			field("Key", r.MaskedKey())
		}
		field("Secret", secret(r.Secret))
		if r.ExpiryDate != nil {
			field("Expires", r.ExpiryDate.Format(time.DateOnly)+expiredSuffix(r.ExpiredAt(now)))
		}
		notes = r.Notes
	}
	field("Notes", notes)
	field("Created", h.CreatedAt.Local().Format(time.DateTime))
	field("Modified", h.ModifiedAt.Local().Format(time.DateTime))
}
