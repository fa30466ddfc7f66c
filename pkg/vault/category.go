package vault

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Category groups records. Categories are stored unencrypted.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Icon      string    `json:"icon"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

// Tag labels records. Tags are stored unencrypted.
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// DefaultCategories returns the categories created for a new vault.
func DefaultCategories(now time.Time) []Category {
	return []Category{
		{ID: uuid.NewString(), Name: "Personal", Icon: "person.fill", Color: "blue", CreatedAt: now},
		{ID: uuid.NewString(), Name: "Work", Icon: "briefcase.fill", Color: "purple", CreatedAt: now},
		{ID: uuid.NewString(), Name: "Finance", Icon: "dollarsign.circle.fill", Color: "green", CreatedAt: now},
		{ID: uuid.NewString(), Name: "Social", Icon: "bubble.left.and.bubble.right.fill", Color: "pink", CreatedAt: now},
	}
}

// SaveCategory inserts c or replaces the category with the same ID.
func (r *Repository) SaveCategory(ctx context.Context, c Category) (Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready {
		return Category{}, ErrNotInitialized
	}
	if strings.TrimSpace(c.Name) == "" {
		return Category{}, ErrInvalidItem
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Icon == "" {
		c.Icon = "folder.fill"
	}
	if c.Color == "" {
		c.Color = "blue"
	}

	if prev := createdAtOf(r.data.Categories, c.ID, func(x Category) (string, time.Time) { return x.ID, x.CreatedAt }); !prev.IsZero() {
		c.CreatedAt = prev
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = r.stamp()
	}

	next, created := upsertByID(r.data.Categories, c, func(x Category) string { return x.ID })
	if err := r.persistPlain(ctx, KeyCategories, next); err != nil {
		return Category{}, err
	}
	r.data.Categories = next
	r.logger.Debug("category saved", zap.Bool("created", created))
	return c, nil
}

// DeleteCategory removes the category with id. Records that reference it keep
// the dangling CategoryID. Unknown ids are a no-op.
func (r *Repository) DeleteCategory(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready {
		return ErrNotInitialized
	}
	next, removed := removeByID(r.data.Categories, id, func(x Category) string { return x.ID })
	if !removed {
		return nil
	}
	if err := r.persistPlain(ctx, KeyCategories, next); err != nil {
		return err
	}
	r.data.Categories = next
	return nil
}

// Categories returns a copy of all categories.
func (r *Repository) Categories() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Category{}, r.data.Categories...)
}

// SaveTag inserts t or replaces the tag with the same ID.
func (r *Repository) SaveTag(ctx context.Context, t Tag) (Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready {
		return Tag{}, ErrNotInitialized
	}
	if strings.TrimSpace(t.Name) == "" {
		return Tag{}, ErrInvalidItem
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	if prev := createdAtOf(r.data.Tags, t.ID, func(x Tag) (string, time.Time) { return x.ID, x.CreatedAt }); !prev.IsZero() {
		t.CreatedAt = prev
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = r.stamp()
	}

	next, _ := upsertByID(r.data.Tags, t, func(x Tag) string { return x.ID })
	if err := r.persistPlain(ctx, KeyTags, next); err != nil {
		return Tag{}, err
	}
	r.data.Tags = next
	return t, nil
}

// DeleteTag removes the tag with id. Unknown ids are a no-op.
func (r *Repository) DeleteTag(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready {
		return ErrNotInitialized
	}
	next, removed := removeByID(r.data.Tags, id, func(x Tag) string { return x.ID })
	if !removed {
		return nil
	}
	if err := r.persistPlain(ctx, KeyTags, next); err != nil {
		return err
	}
	r.data.Tags = next
	return nil
}

// Tags returns a copy of all tags.
func (r *Repository) Tags() []Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Tag{}, r.data.Tags...)
}

// upsertByID returns a new slice with v replacing the element of the same id,
// or appended. created reports whether v was appended.
func upsertByID[T any](items []T, v T, id func(T) string) (next []T, created bool) {
	next = make([]T, 0, len(items)+1)
	created = true
	for _, x := range items {
		if id(x) == id(v) {
			next = append(next, v)
			created = false
			continue
		}
		next = append(next, x)
	}
	if created {
		next = append(next, v)
	}
	return next, created
}

func removeByID[T any](items []T, id string, idOf func(T) string) ([]T, bool) {
	next := make([]T, 0, len(items))
	for _, x := range items {
		if idOf(x) != id {
			next = append(next, x)
		}
	}
	return next, len(next) != len(items)
}

func createdAtOf[T any](items []T, id string, f func(T) (string, time.Time)) time.Time {
	for _, x := range items {
		if xid, at := f(x); xid == id {
			return at
		}
	}
	return time.Time{}
}

// EnsureTags adds every name missing from the tag list, matching existing
// tags case-insensitively.
func (r *Repository) EnsureTags(ctx context.Context, names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready {
		return ErrNotInitialized
	}

	next := r.data.Tags
	added := false
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || slices.ContainsFunc(next, func(t Tag) bool { return strings.EqualFold(t.Name, name) }) {
			continue
		}
		next = append(slices.Clip(next), Tag{ID: uuid.NewString(), Name: name, CreatedAt: r.stamp()})
		added = true
	}
	if !added {
		return nil
	}
	if err := r.persistPlain(ctx, KeyTags, next); err != nil {
		return err
	}
	r.data.Tags = next
	return nil
}
