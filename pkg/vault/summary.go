package vault

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// Summary is the listing view of a record. It never carries passwords,
// card numbers, keys or note bodies.
type Summary struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Title      string    `json:"title"`
	Detail     string    `json:"detail,omitempty"`
	IsFavorite bool      `json:"isFavorite"`
	CategoryID string    `json:"categoryId,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Expired    bool      `json:"expired,omitempty"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Kind Kind
	// Query matches titles, case-insensitively.
	Query string
	// SearchContent extends Query to every searchable field.
	SearchContent bool
	Tag           string
	CategoryID    string
	FavoritesOnly bool
}

// List returns summaries of the records matching f, grouped by kind in
// storage order and sorted by title within a kind.
func (r *Repository) List(f Filter, now time.Time) ([]Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.ready {
		return nil, ErrNotInitialized
	}

	out := []Summary{}
	for _, kind := range Kinds {
		if f.Kind != "" && f.Kind != kind {
			continue
		}
		out = append(out, collections[kind].list(&r.data, f, now)...)
	}
	return out, nil
}

func summarize[T any, P Record[T]](items []T, f Filter, now time.Time) []Summary {
	query := strings.ToLower(strings.TrimSpace(f.Query))

	var out []Summary
	for i := range items {
		p := P(&items[i])
		h := p.header()

		if f.FavoritesOnly && !h.IsFavorite {
			continue
		}
		if f.CategoryID != "" && h.CategoryID != f.CategoryID {
			continue
		}
		if f.Tag != "" && !slices.Contains(h.Tags, f.Tag) {
			continue
		}
		if query != "" {
			haystack := strings.ToLower(h.Title)
			if f.SearchContent {
				haystack = SearchableContent[T, P](&items[i])
			}
			if !strings.Contains(haystack, query) {
				continue
			}
		}

		detail, expired := describe(any(p), now)
		out = append(out, Summary{
			ID:         h.ID,
			Kind:       p.Kind(),
			Title:      h.Title,
			Detail:     detail,
			IsFavorite: h.IsFavorite,
			CategoryID: h.CategoryID,
			Tags:       cloneStrings(h.Tags),
			CreatedAt:  h.CreatedAt,
			ModifiedAt: h.ModifiedAt,
			Expired:    expired,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
	})
	return out
}

// describe returns the non-secret subtitle of a record and whether it has
// expired at now.
func describe(record any, now time.Time) (detail string, expired bool) {
	switch v := record.(type) {
	case *LoginItem:
		return joinNonEmpty(" @ ", v.Username, v.Domain()), false
	case *SecureNote:
		return "", false
	case *CreditCard:
		return joinNonEmpty(" ", string(v.Brand()), v.MaskedNumber()), v.ExpiredAt(now)
	case *Identity:
		return string(v.IdentityType), v.ExpiredAt(now)
	case *WiFiPassword:
		return v.SSID, false
	case *APIKey:
		return joinNonEmpty(" ", v.ServiceName, v.MaskedKey()), v.ExpiredAt(now)
	}
	return "", false
}
