package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/forest6511/lokivault/pkg/vault"
)

// LastPassParser parses LastPass CSV export files:
// url,username,password,totp,extra,name,grouping,fav
type LastPassParser struct{}

// LastPass CSV column names (header-based parsing).
const (
	lpColURL      = "url"
	lpColUsername = "username"
	lpColPassword = "password"
	lpColTOTP     = "totp"
	lpColExtra    = "extra"
	lpColName     = "name"
	lpColGrouping = "grouping"
	lpColFav      = "fav"
)

// lpSecureNoteURL marks secure notes in LastPass exports.
const lpSecureNoteURL = "http://sn"

// Source returns the source type for this parser.
func (p *LastPassParser) Source() Source {
	return SourceLastPass
}

// Parse parses LastPass CSV data.
func (p *LastPassParser) Parse(data []byte) (*Result, error) {
	result := &Result{}

	rows, colIndex, err := readCSV(data, strings.ToLower, result)
	if err != nil {
		return nil, err
	}
	if _, ok := colIndex[lpColName]; !ok {
		return nil, fmt.Errorf("missing required column: %s", lpColName)
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

// parseRow converts a single CSV row into a login or a secure note.
func (p *LastPassParser) parseRow(row []string, colIndex map[string]int, itemCounter *int, result *Result) string {
	getValue := func(col string) string {
		if idx, ok := colIndex[col]; ok && idx < len(row) {
			return DecodeHTMLEntities(strings.TrimSpace(row[idx]))
		}
		return ""
	}

	name := getValue(lpColName)
	url := getValue(lpColURL)
	username := getValue(lpColUsername)
	password := getValue(lpColPassword)
	totp := getValue(lpColTOTP)
	extra := getValue(lpColExtra)
	grouping := getValue(lpColGrouping)

	if username == "" && password == "" && totp == "" && extra == "" {
		result.Skipped = append(result.Skipped, SkippedItem{OriginalName: name, Reason: "no useful data"})
		return ""
	}

	isNote := url == lpSecureNoteURL
	if isNote {
		url = ""
	}

	header := vault.Header{
		Title:      titleOrFallback(name, url, itemCounter),
		IsFavorite: parseBool(getValue(lpColFav)),
	}
	// Nested groups are kept as one tag
	if grouping != "" {
		header.Tags = []string{grouping}
	}

	if isNote {
		result.Records.Notes = append(result.Records.Notes, vault.SecureNote{Header: header, Content: extra})
		return ""
	}
	result.Records.Logins = append(result.Records.Logins, vault.LoginItem{
		Header:     header,
		Username:   username,
		Password:   password,
		URL:        url,
		TOTPSecret: totp,
		Notes:      extra,
	})
	return ""
}

// csvRow is a data row with its 1-based line number in the file.
type csvRow struct {
	num    int
	values []string
}

// readCSV reads a header-keyed CSV export. Malformed rows become warnings.
func readCSV(data []byte, normalizeColumn func(string) string, result *Result) ([]csvRow, map[string]int, error) {
	// Strip UTF-8 BOM if present
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true // Handle malformed exports
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[normalizeColumn(strings.TrimSpace(col))] = i
	}

	var rows []csvRow
	rowNum := 1 // 1-indexed (header is row 1)
	for {
		rowNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: failed to parse: %v", rowNum, err))
			continue
		}
		if len(row) != len(header) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("row %d: column count mismatch (expected %d, got %d)", rowNum, len(header), len(row)))
			continue
		}
		rows = append(rows, csvRow{num: rowNum, values: row})
	}
	return rows, colIndex, nil
}
