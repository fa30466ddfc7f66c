// Package importer converts exports from other password managers into vault
// records. Supports 1Password CSV, Bitwarden JSON, and LastPass CSV formats.
//
// Parsers never touch the vault; Apply merges a parsed Result into an
// unlocked repository.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/lokivault/pkg/vault"
)

// Source represents the source password manager format.
type Source string

const (
	Source1Password Source = "1password"
	SourceBitwarden Source = "bitwarden"
	SourceLastPass  Source = "lastpass"
)

// MaxTitleLength caps imported titles, in runes.
const MaxTitleLength = 256

// MaxFileSize is the largest export file accepted.
const MaxFileSize = 50 << 20

// ErrFileTooLarge is returned for exports over MaxFileSize.
var ErrFileTooLarge = errors.New("importer: file too large")

// Result contains the records parsed from an export.
type Result struct {
	// Records holds the parsed records by kind. Categories and tags are unused.
	Records vault.Snapshot

	// Warnings are non-fatal issues encountered during parsing.
	Warnings []string

	// Skipped are items that were skipped with reasons.
	Skipped []SkippedItem
}

// Count returns the number of parsed records.
func (r *Result) Count() int {
	return r.Records.Count()
}

// SkippedItem represents an item that was skipped during import.
type SkippedItem struct {
	OriginalName string
	Reason       string
}

// Parser is the interface for competitor format parsers.
type Parser interface {
	// Parse parses the input data and returns vault records.
	Parse(data []byte) (*Result, error)

	// Source returns the source type for this parser.
	Source() Source
}

// GetParser returns a parser for the given source.
func GetParser(source Source) (Parser, error) {
	switch source {
	case Source1Password:
		return &OnePasswordParser{}, nil
	case SourceBitwarden:
		return &BitwardenParser{}, nil
	case SourceLastPass:
		return &LastPassParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported import source: %s", source)
	}
}

// ValidSources returns a list of valid source names.
func ValidSources() []string {
	return []string{
		string(Source1Password),
		string(SourceBitwarden),
		string(SourceLastPass),
	}
}

// Filter keeps only the records whose index in Titles() satisfies keep.
func (r *Result) Filter(keep func(i int) bool) {
	i := 0
	r.Records.Logins = filterRecords(r.Records.Logins, keep, &i)
	r.Records.Notes = filterRecords(r.Records.Notes, keep, &i)
	r.Records.Cards = filterRecords(r.Records.Cards, keep, &i)
	r.Records.Identities = filterRecords(r.Records.Identities, keep, &i)
	r.Records.WiFi = filterRecords(r.Records.WiFi, keep, &i)
	r.Records.APIKeys = filterRecords(r.Records.APIKeys, keep, &i)
}

func filterRecords[T any](items []T, keep func(int) bool, i *int) []T {
	var out []T
	for _, item := range items {
		if keep(*i) {
			out = append(out, item)
		}
		*i++
	}
	return out
}

// Titles lists the record titles in kind order: logins, notes, cards,
// identities, Wi-Fi, API keys.
func (r *Result) Titles() []string {
	var titles []string
	for i := range r.Records.Logins {
		titles = append(titles, r.Records.Logins[i].Title)
	}
	for i := range r.Records.Notes {
		titles = append(titles, r.Records.Notes[i].Title)
	}
	for i := range r.Records.Cards {
		titles = append(titles, r.Records.Cards[i].Title)
	}
	for i := range r.Records.Identities {
		titles = append(titles, r.Records.Identities[i].Title)
	}
	for i := range r.Records.WiFi {
		titles = append(titles, r.Records.WiFi[i].Title)
	}
	for i := range r.Records.APIKeys {
		titles = append(titles, r.Records.APIKeys[i].Title)
	}
	return titles
}

// AddTag appends tag to every record.
func (r *Result) AddTag(tag string) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return
	}
	add := func(h *vault.Header) { h.Tags = appendUnique(h.Tags, tag) }
	for i := range r.Records.Logins {
		add(&r.Records.Logins[i].Header)
	}
	for i := range r.Records.Notes {
		add(&r.Records.Notes[i].Header)
	}
	for i := range r.Records.Cards {
		add(&r.Records.Cards[i].Header)
	}
	for i := range r.Records.Identities {
		add(&r.Records.Identities[i].Header)
	}
	for i := range r.Records.WiFi {
		add(&r.Records.WiFi[i].Header)
	}
	for i := range r.Records.APIKeys {
		add(&r.Records.APIKeys[i].Header)
	}
}

// Apply saves every record of r into repo as a new record, alongside what
// the vault already holds, and registers the tags they use. It stops at the
// first failure and reports how many records were saved before it.
func Apply(ctx context.Context, repo *vault.Repository, r *Result) (int, error) {
	var tags []string
	headers := func(h vault.Header) { tags = append(tags, h.Tags...) }
	for _, x := range r.Records.Logins {
		headers(x.Header)
	}
	for _, x := range r.Records.Notes {
		headers(x.Header)
	}
	for _, x := range r.Records.Cards {
		headers(x.Header)
	}
	for _, x := range r.Records.Identities {
		headers(x.Header)
	}
	for _, x := range r.Records.WiFi {
		headers(x.Header)
	}
	for _, x := range r.Records.APIKeys {
		headers(x.Header)
	}
	if err := repo.EnsureTags(ctx, tags); err != nil {
		return 0, fmt.Errorf("importer: failed to save tags: %w", err)
	}

	saved := 0
	steps := []func() error{
		func() error { return saveAll(ctx, repo, r.Records.Logins, &saved) },
		func() error { return saveAll(ctx, repo, r.Records.Notes, &saved) },
		func() error { return saveAll(ctx, repo, r.Records.Cards, &saved) },
		func() error { return saveAll(ctx, repo, r.Records.Identities, &saved) },
		func() error { return saveAll(ctx, repo, r.Records.WiFi, &saved) },
		func() error { return saveAll(ctx, repo, r.Records.APIKeys, &saved) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return saved, err
		}
	}
	return saved, nil
}

func saveAll[T any, P vault.Record[T]](ctx context.Context, repo *vault.Repository, items []T, saved *int) error {
	for _, item := range items {
		if _, err := vault.Save[T, P](ctx, repo, item); err != nil {
			return fmt.Errorf("importer: failed to save %s: %w", P(new(T)).Kind(), err)
		}
		*saved++
	}
	return nil
}

// normalizeTitle trims, NFC-normalizes and truncates an item name.
func normalizeTitle(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if utf8.RuneCountInString(name) > MaxTitleLength {
		name = string([]rune(name)[:MaxTitleLength])
	}
	return name
}

// titleOrFallback returns the normalized name, or the URL hostname, or
// "Imported item N" when both are empty.
func titleOrFallback(name, url string, counter *int) string {
	if title := normalizeTitle(name); title != "" {
		return title
	}
	if hostname := extractHostname(url); hostname != "" {
		return hostname
	}
	title := fmt.Sprintf("Imported item %d", *counter)
	*counter++
	return title
}

// extractHostname extracts the hostname from a URL.
func extractHostname(urlStr string) string {
	// Simple hostname extraction without full URL parsing
	// Remove protocol
	urlStr = strings.TrimPrefix(urlStr, "https://")
	urlStr = strings.TrimPrefix(urlStr, "http://")

	// Remove path
	if idx := strings.Index(urlStr, "/"); idx != -1 {
		urlStr = urlStr[:idx]
	}

	// Remove port
	if idx := strings.Index(urlStr, ":"); idx != -1 {
		urlStr = urlStr[:idx]
	}

	// Remove www. prefix
	urlStr = strings.TrimPrefix(urlStr, "www.")

	return urlStr
}

// DecodeHTMLEntities decodes common HTML entities found in LastPass exports.
func DecodeHTMLEntities(s string) string {
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&apos;", "'")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}

// IsEmptyOrWhitespace checks if a string is empty or contains only whitespace.
func IsEmptyOrWhitespace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// appendNote adds a "label: value" line to notes. Fields that have no home
// in the typed record end up here.
func appendNote(notes, label, value string) string {
	if IsEmptyOrWhitespace(value) {
		return notes
	}
	line := value
	if label != "" {
		line = label + ": " + value
	}
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func appendUnique(tags []string, tag string) []string {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return tags
		}
	}
	return append(tags, tag)
}

// parseBool accepts the truthy spellings export tools use.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// parseMonthYear parses card expiry parts; two-digit years are 20xx.
func parseMonthYear(month, year string) (int, int, error) {
	m, err := strconv.Atoi(strings.TrimSpace(month))
	if err != nil || m < 1 || m > 12 {
		return 0, 0, fmt.Errorf("invalid expiry month %q", month)
	}
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil || y < 0 {
		return 0, 0, fmt.Errorf("invalid expiry year %q", year)
	}
	if y < 100 {
		y += 2000
	}
	return m, y, nil
}
