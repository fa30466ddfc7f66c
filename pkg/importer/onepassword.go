package importer

import (
	"fmt"
	"strings"

	"github.com/forest6511/lokivault/pkg/vault"
)

// OnePasswordParser parses 1Password CSV export files:
// Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
type OnePasswordParser struct{}

// 1Password CSV column names (header-based parsing).
const (
	op1ColTitle    = "Title"
	op1ColWebsite  = "Website"
	op1ColUsername = "Username"
	op1ColPassword = "Password"
	op1ColOTPAuth  = "OTPAuth"
	op1ColFavorite = "Favorite"
	op1ColArchived = "Archived"
	op1ColTags     = "Tags"
	op1ColNotes    = "Notes"
)

// Source returns the source type for this parser.
func (p *OnePasswordParser) Source() Source {
	return Source1Password
}

// Parse parses 1Password CSV data.
func (p *OnePasswordParser) Parse(data []byte) (*Result, error) {
	result := &Result{}

	identity := func(s string) string { return s }
	rows, colIndex, err := readCSV(data, identity, result)
	if err != nil {
		return nil, err
	}
	if _, ok := colIndex[op1ColTitle]; !ok {
		return nil, fmt.Errorf("missing required column: %s", op1ColTitle)
	}

	// Track for title generation fallback
	itemCounter := 1

	for _, row := range rows {
		if warning := p.parseRow(row.values, colIndex, &itemCounter, result); warning != "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: %s", row.num, warning))
		}
	}
	return result, nil
}

// parseRow converts a single CSV row into a login, or a secure note when the
// row only carries notes.
func (p *OnePasswordParser) parseRow(row []string, colIndex map[string]int, itemCounter *int, result *Result) string {
	getValue := func(col string) string {
		if idx, ok := colIndex[col]; ok && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	title := getValue(op1ColTitle)
	website := getValue(op1ColWebsite)
	username := getValue(op1ColUsername)
	password := getValue(op1ColPassword)
	otpAuth := getValue(op1ColOTPAuth)
	notes := getValue(op1ColNotes)

	if parseBool(getValue(op1ColArchived)) {
		result.Skipped = append(result.Skipped, SkippedItem{OriginalName: title, Reason: "archived"})
		return ""
	}
	if username == "" && password == "" && otpAuth == "" && notes == "" {
		result.Skipped = append(result.Skipped, SkippedItem{OriginalName: title, Reason: "no useful data"})
		return ""
	}

	header := vault.Header{
		Title:      titleOrFallback(title, website, itemCounter),
		IsFavorite: parseBool(getValue(op1ColFavorite)),
	}
	// Parse tags (comma-separated)
	for _, t := range strings.Split(getValue(op1ColTags), ",") {
		if t = strings.TrimSpace(t); t != "" {
			header.Tags = appendUnique(header.Tags, t)
		}
	}

	if username == "" && password == "" && otpAuth == "" && website == "" {
		result.Records.Notes = append(result.Records.Notes, vault.SecureNote{Header: header, Content: notes})
		return ""
	}
	result.Records.Logins = append(result.Records.Logins, vault.LoginItem{
		Header:     header,
		Username:   username,
		Password:   password,
		URL:        website,
		TOTPSecret: otpAuth,
		Notes:      notes,
	})
	return ""
}
