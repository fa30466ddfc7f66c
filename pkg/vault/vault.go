// Package vault holds the decrypted record collections of an unlocked vault
// and persists each collection, encrypted, through a secretstore.Store.
//
// Each of the six record kinds lives in its own collection, serialized as a
// JSON array, sealed with AES-256-GCM under the working key and written under
// its own storage key. Categories and tags are plaintext metadata.
//
// A mutation re-encrypts and persists only the affected collection, and the
// in-memory state changes only after the write succeeded.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/lokivault/pkg/crypto"
	"github.com/forest6511/lokivault/pkg/secretstore"
)

// Storage keys
const (
	KeySalt       = "vault.salt"
	KeyLogins     = "vault.logins"
	KeyNotes      = "vault.notes"
	KeyCards      = "vault.cards"
	KeyIdentities = "vault.identities"
	KeyWiFi       = "vault.wifi"
	KeyAPIKeys    = "vault.apikeys"
	KeyCategories = "vault.categories"
	KeyTags       = "vault.tags"
	KeySubkeySeed = "vault.subkey"
)

// Errors
var (
	ErrNotInitialized = errors.New("vault: vault not initialized")
	ErrCorrupted      = errors.New("vault: stored collection is corrupted")
	ErrNotFound       = errors.New("vault: item not found")
	ErrInvalidItem    = errors.New("vault: invalid item")
)

// Snapshot is a full copy of the vault contents.
type Snapshot struct {
	Logins     []LoginItem    `json:"loginItems"`
	Notes      []SecureNote   `json:"secureNotes"`
	Cards      []CreditCard   `json:"creditCards"`
	Identities []Identity     `json:"identities"`
	WiFi       []WiFiPassword `json:"wifiPasswords"`
	APIKeys    []APIKey       `json:"apiKeys"`
	Categories []Category     `json:"categories"`
	Tags       []Tag          `json:"tags"`
}

// Count returns the number of records across all six collections.
func (s *Snapshot) Count() int {
	return len(s.Logins) + len(s.Notes) + len(s.Cards) + len(s.Identities) + len(s.WiFi) + len(s.APIKeys)
}

// collection describes how one record kind is stored.
type collection struct {
	key    string
	encode func(*Snapshot) ([]byte, error)
	decode func(*Snapshot, []byte) error
	count    func(*Snapshot) int
	clone    func(dst, src *Snapshot)
	validate func(*Snapshot) error
	list   func(*Snapshot, Filter, time.Time) []Summary
}

func collectionOf[T any, P Record[T]](key string) collection {
	slot := func(s *Snapshot) *[]T { return P(new(T)).slot(s) }
	return collection{
		key: key,
		encode: func(s *Snapshot) ([]byte, error) {
			items := *slot(s)
			if items == nil {
				items = []T{}
			}
			return json.Marshal(items)
		},
		decode: func(s *Snapshot, data []byte) error {
			var items []T
			if err := json.Unmarshal(data, &items); err != nil {
				return err
			}
			*slot(s) = items
			return nil
		},
		count: func(s *Snapshot) int { return len(*slot(s)) },
		clone: func(dst, src *Snapshot) { *slot(dst) = cloneItems[T, P](*slot(src)) },
		validate: func(s *Snapshot) error {
			items := *slot(s)
			seen := make(map[string]bool, len(items))
			for i := range items {
				h := P(&items[i]).header()
				switch {
				case h.ID == "":
					return fmt.Errorf("%w: %s item without id", ErrInvalidItem, P(new(T)).Kind())
				case seen[h.ID]:
					return fmt.Errorf("%w: duplicate %s id %s", ErrInvalidItem, P(new(T)).Kind(), h.ID)
				case h.ModifiedAt.Before(h.CreatedAt):
					return fmt.Errorf("%w: %s %s modified before it was created", ErrInvalidItem, P(new(T)).Kind(), h.ID)
				}
				seen[h.ID] = true
			}
			return nil
		},
		list:  func(s *Snapshot, f Filter, now time.Time) []Summary { return summarize[T, P](*slot(s), f, now) },
	}
}

var collections = map[Kind]collection{
	KindLogin:    collectionOf[LoginItem](KeyLogins),
	KindNote:     collectionOf[SecureNote](KeyNotes),
	KindCard:     collectionOf[CreditCard](KeyCards),
	KindIdentity: collectionOf[Identity](KeyIdentities),
	KindWiFi:     collectionOf[WiFiPassword](KeyWiFi),
	KindAPIKey:   collectionOf[APIKey](KeyAPIKeys),
}

// StorageKey returns the store key of a record kind.
func StorageKey(k Kind) string {
	return collections[k].key
}

// Repository owns the decrypted collections of one unlocked session.
type Repository struct {
	mu sync.RWMutex

	store      secretstore.Store
	key        []byte
	seed       []byte
	data       Snapshot
	ready      bool
	iterations int
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures a Repository.
type Option func(*Repository)

// WithIterations overrides the PBKDF2 iteration count.
func WithIterations(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.iterations = n
		}
	}
}

// WithLogger sets the repository logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock sets the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a repository bound to store. It is unusable until Initialize.
func New(store secretstore.Store, opts ...Option) *Repository {
	r := &Repository{
		store:      store,
		iterations: crypto.DefaultIterations,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize derives the working key from password and loads every collection.
//
// The vault salt is created on first use. Missing collections load as empty,
// missing categories are replaced by the defaults. If any collection fails to
// decrypt the repository stays uninitialized.
func (r *Repository) Initialize(ctx context.Context, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()

	salt, err := r.store.Retrieve(ctx, KeySalt)
	if err != nil {
		return fmt.Errorf("vault: failed to read salt: %w", err)
	}
	if salt == nil {
		if salt, err = crypto.GenerateSalt(); err != nil {
			return err
		}
		if err := r.store.Save(ctx, KeySalt, salt, false); err != nil {
			return fmt.Errorf("vault: failed to save salt: %w", err)
		}
	}

	key, err := crypto.DeriveKey(password, salt, r.iterations, crypto.KeyLength)
	if err != nil {
		return err
	}

	var data Snapshot
	if err := r.load(ctx, key, &data); err != nil {
		crypto.SecureWipe(key)
		return err
	}
	seed, err := r.loadSeed(ctx, key)
	if err != nil {
		crypto.SecureWipe(key)
		return err
	}

	r.key = key
	r.data = data
	r.ready = true

	if seed == nil {
		if seed, err = crypto.GenerateSalt(); err != nil {
			r.closeLocked()
			return err
		}
		if err := r.persistSealed(ctx, KeySubkeySeed, append([]byte{}, seed...)); err != nil {
			crypto.SecureWipe(seed)
			r.closeLocked()
			return err
		}
	}
	r.seed = seed

	if data.Categories == nil {
		data.Categories = DefaultCategories(r.stamp())
		if err := r.persistPlain(ctx, KeyCategories, data.Categories); err != nil {
			r.closeLocked()
			return err
		}
		r.data.Categories = data.Categories
	}

	r.logger.Info("vault initialized", zap.Int("items", r.data.Count()))
	return nil
}

func (r *Repository) load(ctx context.Context, key []byte, data *Snapshot) error {
	for _, kind := range Kinds {
		c := collections[kind]
		raw, err := r.store.Retrieve(ctx, c.key)
		if err != nil {
			return fmt.Errorf("vault: failed to read %s: %w", c.key, err)
		}
		if len(raw) == 0 {
			continue
		}

		var blob crypto.Blob
		if err := json.Unmarshal(raw, &blob); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupted, c.key, err)
		}
		plaintext, err := crypto.Decrypt(key, &blob)
		if err != nil {
			return fmt.Errorf("vault: failed to decrypt %s: %w", c.key, err)
		}
		err = c.decode(data, plaintext)
		crypto.SecureWipe(plaintext)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupted, c.key, err)
		}
	}

	if err := loadPlain(ctx, r.store, KeyCategories, &data.Categories); err != nil {
		return err
	}
	return loadPlain(ctx, r.store, KeyTags, &data.Tags)
}

// loadSeed returns the decrypted sub-key seed, or nil if none is stored yet.
func (r *Repository) loadSeed(ctx context.Context, key []byte) ([]byte, error) {
	raw, err := r.store.Retrieve(ctx, KeySubkeySeed)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read %s: %w", KeySubkeySeed, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var blob crypto.Blob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, KeySubkeySeed, err)
	}
	seed, err := crypto.Decrypt(key, &blob)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to decrypt %s: %w", KeySubkeySeed, err)
	}
	return seed, nil
}

func loadPlain[T any](ctx context.Context, store secretstore.Store, key string, dst *[]T) error {
	raw, err := store.Retrieve(ctx, key)
	if err != nil {
		return fmt.Errorf("vault: failed to read %s: %w", key, err)
	}
	if raw == nil {
		return nil
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupted, key, err)
	}
	if items == nil {
		items = []T{}
	}
	*dst = items
	return nil
}

// IsInitialized reports whether the repository holds a working key.
func (r *Repository) IsInitialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// Close wipes the working key and drops all decrypted records.
// It is safe to call more than once.
func (r *Repository) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *Repository) closeLocked() {
	if r.key != nil {
		crypto.SecureWipe(r.key)
		r.key = nil
	}
	if r.seed != nil {
		crypto.SecureWipe(r.seed)
		r.seed = nil
	}
	r.data = Snapshot{}
	r.ready = false
}

// Save inserts item, or replaces the record with the same ID.
//
// A new record gets a fresh ID when it has none. Replacing keeps the original
// CreatedAt and stamps ModifiedAt with the current time. The returned value is
// the record as stored.
func Save[T any, P Record[T]](ctx context.Context, r *Repository, item T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if !r.ready {
		return zero, ErrNotInitialized
	}

	p := P(&item)
	h := p.header()
	now := r.stamp()
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	h.Tags = cloneStrings(h.Tags)

	items := *p.slot(&r.data)
	next := make([]T, 0, len(items)+1)
	replaced := false
	for _, existing := range items {
		eh := P(&existing).header()
		if eh.ID == h.ID {
			h.CreatedAt = eh.CreatedAt
			h.ModifiedAt = now
			next = append(next, item)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		if h.CreatedAt.IsZero() {
			h.CreatedAt = now
		}
		h.ModifiedAt = now
		next = append(next, item)
	}
	if h.ModifiedAt.Before(h.CreatedAt) {
		h.ModifiedAt = h.CreatedAt
	}

	if err := r.persistItems(ctx, p.Kind(), next); err != nil {
		return zero, err
	}
	*p.slot(&r.data) = next

	r.logger.Debug("record saved", zap.String("kind", string(p.Kind())), zap.Bool("replaced", replaced))
	return cloneItem[T, P](item), nil
}

// Delete removes the record with id. Unknown ids are a no-op.
func Delete[T any, P Record[T]](ctx context.Context, r *Repository, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready {
		return ErrNotInitialized
	}

	kind := P(new(T)).Kind()
	items := *P(new(T)).slot(&r.data)
	next := make([]T, 0, len(items))
	for _, existing := range items {
		if P(&existing).header().ID != id {
			next = append(next, existing)
		}
	}
	if len(next) == len(items) {
		return nil
	}

	if err := r.persistItems(ctx, kind, next); err != nil {
		return err
	}
	*P(new(T)).slot(&r.data) = next

	r.logger.Debug("record deleted", zap.String("kind", string(kind)))
	return nil
}

// Items returns a copy of every record of kind T.
func Items[T any, P Record[T]](r *Repository) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneItems[T, P](*P(new(T)).slot(&r.data))
}

// Get returns the record of kind T with id.
func Get[T any, P Record[T]](r *Repository, id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if !r.ready {
		return zero, ErrNotInitialized
	}
	for _, item := range *P(new(T)).slot(&r.data) {
		if P(&item).header().ID == id {
			return cloneItem[T, P](item), nil
		}
	}
	return zero, ErrNotFound
}

// Counts returns the number of records per kind.
func (r *Repository) Counts() map[Kind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[Kind]int, len(collections))
	for kind, c := range collections {
		counts[kind] = c.count(&r.data)
	}
	return counts
}

// Snapshot returns a deep copy of every collection, categories and tags.
func (r *Repository) Snapshot() (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.ready {
		return nil, ErrNotInitialized
	}
	return r.snapshotLocked(), nil
}

func (r *Repository) snapshotLocked() *Snapshot {
	s := &Snapshot{
		Categories: append([]Category{}, r.data.Categories...),
		Tags:       append([]Tag{}, r.data.Tags...),
	}
	for _, c := range collections {
		c.clone(s, &r.data)
	}
	return s
}

// Replace swaps every collection, categories and tags for those in s and
// persists each one. s is rejected with ErrInvalidItem before anything is
// written if a collection has empty or duplicate ids or a record modified
// before it was created. A collection whose write fails keeps its previous
// contents; the failures are returned joined.
func (r *Repository) Replace(ctx context.Context, s *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready {
		return ErrNotInitialized
	}
	if s == nil {
		return ErrInvalidItem
	}
	if err := validateSnapshot(s); err != nil {
		return err
	}

	var errs []error
	for _, kind := range Kinds {
		c := collections[kind]
		if err := r.persistCollection(ctx, c, s); err != nil {
			errs = append(errs, err)
			continue
		}
		c.clone(&r.data, s)
	}

	categories := s.Categories
	if categories == nil {
		categories = []Category{}
	}
	if err := r.persistPlain(ctx, KeyCategories, categories); err != nil {
		errs = append(errs, err)
	} else {
		r.data.Categories = append([]Category{}, categories...)
	}

	tags := s.Tags
	if tags == nil {
		tags = []Tag{}
	}
	if err := r.persistPlain(ctx, KeyTags, tags); err != nil {
		errs = append(errs, err)
	} else {
		r.data.Tags = append([]Tag{}, tags...)
	}

	r.logger.Info("vault replaced", zap.Int("items", r.data.Count()), zap.Int("failures", len(errs)))
	return errors.Join(errs...)
}

func validateSnapshot(s *Snapshot) error {
	for _, kind := range Kinds {
		if err := collections[kind].validate(s); err != nil {
			return err
		}
	}
	if err := uniqueIDs(s.Categories, "category", func(c Category) string { return c.ID }); err != nil {
		return err
	}
	return uniqueIDs(s.Tags, "tag", func(t Tag) string { return t.ID })
}

func uniqueIDs[T any](items []T, what string, id func(T) string) error {
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		v := id(item)
		if v == "" || seen[v] {
			return fmt.Errorf("%w: empty or duplicate %s id %q", ErrInvalidItem, what, v)
		}
		seen[v] = true
	}
	return nil
}

// Rekey re-encrypts every collection under a key derived from newPassword and
// a fresh salt.
//
// Collections are rewritten before the new salt is stored. If any write fails,
// the collections already rewritten are restored to their previous ciphertext
// and the old key stays in effect.
func (r *Repository) Rekey(ctx context.Context, newPassword string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready {
		return ErrNotInitialized
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	newKey, err := crypto.DeriveKey(newPassword, salt, r.iterations, crypto.KeyLength)
	if err != nil {
		return err
	}

	previous := make(map[string][]byte, len(Kinds)+2)
	rollback := func() error {
		var errs []error
		for key, raw := range previous {
			var err error
			if raw == nil {
				err = r.store.Delete(ctx, key)
			} else {
				err = r.store.Save(ctx, key, raw, false)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("vault: failed to restore %s: %w", key, err))
			}
		}
		return errors.Join(errs...)
	}

	keys := make([]string, 0, len(Kinds)+2)
	for _, kind := range Kinds {
		keys = append(keys, collections[kind].key)
	}
	keys = append(keys, KeySubkeySeed, KeySalt)
	for _, key := range keys {
		raw, err := r.store.Retrieve(ctx, key)
		if err != nil {
			crypto.SecureWipe(newKey)
			return fmt.Errorf("vault: failed to read %s: %w", key, err)
		}
		previous[key] = raw
	}

	for _, kind := range Kinds {
		c := collections[kind]
		raw, err := sealCollection(c, &r.data, newKey)
		if err == nil {
			err = r.store.Save(ctx, c.key, raw, false)
		}
		if err != nil {
			crypto.SecureWipe(newKey)
			return errors.Join(fmt.Errorf("vault: failed to rekey %s: %w", c.key, err), rollback())
		}
	}
	if err := r.sealSeed(ctx, newKey); err != nil {
		crypto.SecureWipe(newKey)
		return errors.Join(err, rollback())
	}
	if err := r.store.Save(ctx, KeySalt, salt, false); err != nil {
		crypto.SecureWipe(newKey)
		return errors.Join(fmt.Errorf("vault: failed to save salt: %w", err), rollback())
	}

	crypto.SecureWipe(r.key)
	r.key = newKey
	r.logger.Info("vault rekeyed")
	return nil
}

func (r *Repository) sealSeed(ctx context.Context, key []byte) error {
	blob, err := crypto.Encrypt(key, r.seed)
	if err != nil {
		return fmt.Errorf("vault: failed to rekey %s: %w", KeySubkeySeed, err)
	}
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("vault: failed to encode %s: %w", KeySubkeySeed, err)
	}
	if err := r.store.Save(ctx, KeySubkeySeed, raw, false); err != nil {
		return fmt.Errorf("vault: failed to rekey %s: %w", KeySubkeySeed, err)
	}
	return nil
}

// DeriveSubkey derives a 32-byte key bound to info.
//
// Sub-keys come from a random seed stored sealed under the working key, so
// they stay the same when the master password changes.
func (r *Repository) DeriveSubkey(info string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.ready {
		return nil, ErrNotInitialized
	}
	out := make([]byte, crypto.KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, r.seed, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("vault: failed to derive subkey: %w", err)
	}
	return out, nil
}

func (r *Repository) stamp() time.Time {
	return r.now().UTC()
}

// persistItems writes items as the collection of kind, leaving r.data untouched.
func (r *Repository) persistItems(ctx context.Context, kind Kind, items any) error {
	c := collections[kind]
	plaintext, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("vault: failed to encode %s: %w", c.key, err)
	}
	return r.persistSealed(ctx, c.key, plaintext)
}

func (r *Repository) persistCollection(ctx context.Context, c collection, s *Snapshot) error {
	raw, err := sealCollection(c, s, r.key)
	if err != nil {
		return fmt.Errorf("vault: failed to seal %s: %w", c.key, err)
	}
	if err := r.store.Save(ctx, c.key, raw, false); err != nil {
		return fmt.Errorf("vault: failed to save %s: %w", c.key, err)
	}
	return nil
}

func (r *Repository) persistSealed(ctx context.Context, key string, plaintext []byte) error {
	defer crypto.SecureWipe(plaintext)

	blob, err := crypto.Encrypt(r.key, plaintext)
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt %s: %w", key, err)
	}
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("vault: failed to encode %s: %w", key, err)
	}
	if err := r.store.Save(ctx, key, raw, false); err != nil {
		return fmt.Errorf("vault: failed to save %s: %w", key, err)
	}
	return nil
}

func sealCollection(c collection, s *Snapshot, key []byte) ([]byte, error) {
	plaintext, err := c.encode(s)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(plaintext)

	blob, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	return json.Marshal(blob)
}

func (r *Repository) persistPlain(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("vault: failed to encode %s: %w", key, err)
	}
	if err := r.store.Save(ctx, key, raw, false); err != nil {
		return fmt.Errorf("vault: failed to save %s: %w", key, err)
	}
	return nil
}

func cloneItem[T any, P Record[T]](item T) T {
	h := P(&item).header()
	h.Tags = cloneStrings(h.Tags)
	return item
}

func cloneItems[T any, P Record[T]](items []T) []T {
	out := make([]T, len(items))
	for i, item := range items {
		out[i] = cloneItem[T, P](item)
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}
