package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/lokivault/pkg/crypto"
	"github.com/forest6511/lokivault/pkg/secretstore"
)

const testIterations = 1000

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRepo(t *testing.T, store secretstore.Store, clock *fakeClock) *Repository {
	t.Helper()
	r := New(store, WithIterations(testIterations), WithClock(clock.Now))
	require.NoError(t, r.Initialize(context.Background(), "testpassword123"))
	t.Cleanup(r.Close)
	return r
}

func TestInitializeCreatesSaltAndDefaults(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	r := newTestRepo(t, store, clock)

	assert.True(t, r.IsInitialized())

	salt, err := store.Retrieve(ctx, KeySalt)
	require.NoError(t, err)
	assert.Len(t, salt, crypto.SaltLength)

	cats := r.Categories()
	require.Len(t, cats, 4)
	names := []string{cats[0].Name, cats[1].Name, cats[2].Name, cats[3].Name}
	assert.Equal(t, []string{"Personal", "Work", "Finance", "Social"}, names)

	ok, err := store.Exists(ctx, KeyCategories)
	require.NoError(t, err)
	assert.True(t, ok, "default categories should be persisted")

	assert.Empty(t, r.Tags())
	for _, kind := range Kinds {
		assert.Zero(t, r.Counts()[kind])
	}
}

func TestOperationsBeforeInitialize(t *testing.T) {
	ctx := context.Background()
	r := New(secretstore.NewMemoryStore(), WithIterations(testIterations))

	_, err := Save(ctx, r, LoginItem{Header: Header{Title: "x"}})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, Delete[LoginItem](ctx, r, "id"), ErrNotInitialized)
	_, err = Get[LoginItem](r, "id")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = r.Snapshot()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = r.SaveCategory(ctx, Category{Name: "x"})
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = r.SaveTag(ctx, Tag{Name: "x"})
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = r.DeriveSubkey("audit")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, r.Rekey(ctx, "newpassword"), ErrNotInitialized)
	assert.Empty(t, Items[LoginItem](r))
}

func TestSaveUpsertPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newTestRepo(t, store, clock)

	saved, err := Save(ctx, r, LoginItem{
		Header:   Header{Title: "Email"},
		Username: "alice",
		Password: "p1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	t1 := clock.t
	assert.Equal(t, t1, saved.CreatedAt)
	assert.Equal(t, t1, saved.ModifiedAt)

	clock.Advance(time.Hour)
	update := saved
	update.Password = "p2"
	update.CreatedAt = time.Time{}
	updated, err := Save(ctx, r, update)
	require.NoError(t, err)

	items := Items[LoginItem](r)
	require.Len(t, items, 1)
	assert.Equal(t, saved.ID, items[0].ID)
	assert.Equal(t, "p2", items[0].Password)
	assert.Equal(t, t1, items[0].CreatedAt)
	assert.Equal(t, t1.Add(time.Hour), items[0].ModifiedAt)
	assert.Equal(t, items[0], updated)

	// Persisted ciphertext decrypts to the updated collection after reload
	r2 := New(store, WithIterations(testIterations))
	require.NoError(t, r2.Initialize(ctx, "testpassword123"))
	defer r2.Close()
	reloaded, err := Get[LoginItem](r2, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "p2", reloaded.Password)
	assert.True(t, reloaded.CreatedAt.Equal(t1))
}

func TestSaveKeepsIDs(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, secretstore.NewMemoryStore(), &fakeClock{t: time.Now().UTC()})

	saved, err := Save(ctx, r, SecureNote{Header: Header{ID: "note-1", Title: "n"}, Content: "c"})
	require.NoError(t, err)
	assert.Equal(t, "note-1", saved.ID)

	_, err = Save(ctx, r, SecureNote{Header: Header{Title: "m"}, Content: "d"})
	require.NoError(t, err)
	assert.Len(t, Items[SecureNote](r), 2)
}

func TestModifiedAtNeverBeforeCreatedAt(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newTestRepo(t, secretstore.NewMemoryStore(), clock)

	future := clock.t.Add(24 * time.Hour)
	saved, err := Save(ctx, r, WiFiPassword{Header: Header{Title: "home", CreatedAt: future}, SSID: "net"})
	require.NoError(t, err)
	assert.False(t, saved.ModifiedAt.Before(saved.CreatedAt))
}

func TestEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	r := newTestRepo(t, store, &fakeClock{t: time.Now().UTC()})

	_, err := Save(ctx, r, APIKey{Header: Header{Title: "Stripe"}, ServiceName: "stripe", Key: "sk_live_supersecret"})
	require.NoError(t, err)

	raw, err := store.Retrieve(ctx, KeyAPIKeys)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("sk_live_supersecret")))

	var blob crypto.Blob
	require.NoError(t, json.Unmarshal(raw, &blob))
	assert.Len(t, blob.Nonce, crypto.NonceLength)
}

func TestFreshNonceOnEverySave(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	r := newTestRepo(t, store, &fakeClock{t: time.Now().UTC()})

	item, err := Save(ctx, r, SecureNote{Header: Header{Title: "n"}, Content: "same"})
	require.NoError(t, err)
	first, _ := store.Retrieve(ctx, KeyNotes)

	_, err = Save(ctx, r, item)
	require.NoError(t, err)
	second, _ := store.Retrieve(ctx, KeyNotes)

	var a, b crypto.Blob
	require.NoError(t, json.Unmarshal(first, &a))
	require.NoError(t, json.Unmarshal(second, &b))
	assert.NotEqual(t, a.Nonce, b.Nonce)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, secretstore.NewMemoryStore(), &fakeClock{t: time.Now().UTC()})

	card, err := Save(ctx, r, CreditCard{Header: Header{Title: "Visa"}, CardNumber: "4111111111111111"})
	require.NoError(t, err)

	require.NoError(t, Delete[CreditCard](ctx, r, card.ID))
	assert.Empty(t, Items[CreditCard](r))

	// Deleting again, or an unknown id, is a no-op
	require.NoError(t, Delete[CreditCard](ctx, r, card.ID))
	require.NoError(t, Delete[CreditCard](ctx, r, "missing"))

	_, err = Get[CreditCard](r, card.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFailedPersistLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	r := newTestRepo(t, store, &fakeClock{t: time.Now().UTC()})

	login, err := Save(ctx, r, LoginItem{Header: Header{Title: "a"}, Password: "p"})
	require.NoError(t, err)
	note, err := Save(ctx, r, SecureNote{Header: Header{Title: "n"}, Content: "c"})
	require.NoError(t, err)
	notesBefore, _ := store.Retrieve(ctx, KeyNotes)

	boom := errors.New("write failed")
	store.FailSave = func(key string) error {
		if key == KeyLogins {
			return boom
		}
		return nil
	}

	_, err = Save(ctx, r, LoginItem{Header: Header{Title: "b"}})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, Delete[LoginItem](ctx, r, login.ID), boom)

	items := Items[LoginItem](r)
	require.Len(t, items, 1)
	assert.Equal(t, login.ID, items[0].ID)

	// Other collections are untouched
	notesAfter, _ := store.Retrieve(ctx, KeyNotes)
	assert.Equal(t, notesBefore, notesAfter)
	got, err := Get[SecureNote](r, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "c", got.Content)
}

func TestItemsReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, secretstore.NewMemoryStore(), &fakeClock{t: time.Now().UTC()})

	_, err := Save(ctx, r, LoginItem{Header: Header{Title: "a", Tags: []string{"t1"}}})
	require.NoError(t, err)

	items := Items[LoginItem](r)
	items[0].Title = "mutated"
	items[0].Tags[0] = "mutated"

	again := Items[LoginItem](r)
	assert.Equal(t, "a", again[0].Title)
	assert.Equal(t, []string{"t1"}, again[0].Tags)
}

func TestInitializeWrongPasswordFails(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	r := newTestRepo(t, store, &fakeClock{t: time.Now().UTC()})
	_, err := Save(ctx, r, LoginItem{Header: Header{Title: "a"}})
	require.NoError(t, err)

	other := New(store, WithIterations(testIterations))
	err = other.Initialize(ctx, "wrongpassword")
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	assert.False(t, other.IsInitialized())
	assert.Empty(t, Items[LoginItem](other))
}

func TestInitializeCorruptBlob(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	require.NoError(t, store.Save(ctx, KeyCards, []byte("not json"), false))

	r := New(store, WithIterations(testIterations))
	err := r.Initialize(ctx, "testpassword123")
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.False(t, r.IsInitialized())
}

func TestCloseWipesState(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, secretstore.NewMemoryStore(), &fakeClock{t: time.Now().UTC()})
	_, err := Save(ctx, r, SecureNote{Header: Header{Title: "n"}})
	require.NoError(t, err)

	key := r.key
	r.Close()
	r.Close()

	assert.False(t, r.IsInitialized())
	assert.Empty(t, Items[SecureNote](r))
	assert.Equal(t, make([]byte, crypto.KeyLength), key, "key bytes should be zeroed")
}

func TestRekey(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	r := newTestRepo(t, store, &fakeClock{t: time.Now().UTC()})

	login, err := Save(ctx, r, LoginItem{Header: Header{Title: "a"}, Password: "secret"})
	require.NoError(t, err)
	oldSalt, _ := store.Retrieve(ctx, KeySalt)

	require.NoError(t, r.Rekey(ctx, "newpassword456"))

	newSalt, _ := store.Retrieve(ctx, KeySalt)
	assert.NotEqual(t, oldSalt, newSalt)

	// Writes after rekey use the new key
	_, err = Save(ctx, r, SecureNote{Header: Header{Title: "n"}})
	require.NoError(t, err)

	stale := New(store, WithIterations(testIterations))
	assert.Error(t, stale.Initialize(ctx, "testpassword123"))

	fresh := New(store, WithIterations(testIterations))
	require.NoError(t, fresh.Initialize(ctx, "newpassword456"))
	defer fresh.Close()
	got, err := Get[LoginItem](fresh, login.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret", got.Password)
	assert.Len(t, Items[SecureNote](fresh), 1)
}

func TestRekeyRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	r := newTestRepo(t, store, &fakeClock{t: time.Now().UTC()})

	_, err := Save(ctx, r, LoginItem{Header: Header{Title: "a"}})
	require.NoError(t, err)

	boom := errors.New("write failed")
	store.FailSave = func(key string) error {
		if key == KeyWiFi {
			return boom
		}
		return nil
	}
	assert.ErrorIs(t, r.Rekey(ctx, "newpassword456"), boom)
	store.FailSave = nil

	// The old password still opens every collection
	again := New(store, WithIterations(testIterations))
	require.NoError(t, again.Initialize(ctx, "testpassword123"))
	defer again.Close()
	assert.Len(t, Items[LoginItem](again), 1)

	// And the live repository still writes with the old key
	_, err = Save(ctx, r, SecureNote{Header: Header{Title: "n"}})
	require.NoError(t, err)
}

func TestSnapshotAndReplace(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	r := newTestRepo(t, store, &fakeClock{t: time.Now().UTC()})

	_, err := Save(ctx, r, LoginItem{Header: Header{Title: "old"}})
	require.NoError(t, err)

	replacement := &Snapshot{
		Notes:      []SecureNote{{Header: Header{ID: "n1", Title: "imported"}, Content: "x"}},
		Categories: []Category{{ID: "c1", Name: "Only"}},
		Tags:       []Tag{{ID: "t1", Name: "tag"}},
	}
	require.NoError(t, r.Replace(ctx, replacement))

	snap, err := r.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Logins)
	require.Len(t, snap.Notes, 1)
	assert.Equal(t, "imported", snap.Notes[0].Title)
	assert.Equal(t, []Category{{ID: "c1", Name: "Only"}}, snap.Categories)
	assert.Equal(t, 1, snap.Count())

	reloaded := New(store, WithIterations(testIterations))
	require.NoError(t, reloaded.Initialize(ctx, "testpassword123"))
	defer reloaded.Close()
	assert.Empty(t, Items[LoginItem](reloaded))
	assert.Len(t, Items[SecureNote](reloaded), 1)
	assert.Len(t, reloaded.Tags(), 1)
}

func TestReplaceRejectsInvalidSnapshot(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		snap *Snapshot
	}{
		{"duplicate ids", &Snapshot{Logins: []LoginItem{
			{Header: Header{ID: "a", Title: "one"}},
			{Header: Header{ID: "a", Title: "two"}},
		}}},
		{"empty id", &Snapshot{Cards: []CreditCard{{Header: Header{Title: "no id"}}}}},
		{"modified before created", &Snapshot{Notes: []SecureNote{
			{Header: Header{ID: "n", CreatedAt: created, ModifiedAt: created.Add(-time.Hour)}},
		}}},
		{"duplicate tag ids", &Snapshot{Tags: []Tag{{ID: "t", Name: "x"}, {ID: "t", Name: "y"}}}},
		{"empty category id", &Snapshot{Categories: []Category{{Name: "Nameless"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := secretstore.NewMemoryStore()
			r := newTestRepo(t, store, &fakeClock{t: created})
			kept, err := Save(ctx, r, LoginItem{Header: Header{Title: "kept"}})
			require.NoError(t, err)

			err = r.Replace(ctx, tt.snap)
			require.ErrorIs(t, err, ErrInvalidItem)

			got, err := Get[LoginItem](r, kept.ID)
			require.NoError(t, err, "vault untouched after rejected replace")
			assert.Equal(t, "kept", got.Title)
			assert.Len(t, r.Categories(), 4)
		})
	}
}

func TestReplaceJoinsFailures(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	r := newTestRepo(t, store, &fakeClock{t: time.Now().UTC()})

	_, err := Save(ctx, r, LoginItem{Header: Header{ID: "keep", Title: "old"}})
	require.NoError(t, err)

	boom := errors.New("write failed")
	store.FailSave = func(key string) error {
		if key == KeyLogins {
			return boom
		}
		return nil
	}
	err = r.Replace(ctx, &Snapshot{
		Notes: []SecureNote{{Header: Header{ID: "n1", Title: "imported"}}},
	})
	assert.ErrorIs(t, err, boom)

	// The failed collection keeps its contents, the others are replaced
	assert.Len(t, Items[LoginItem](r), 1)
	assert.Len(t, Items[SecureNote](r), 1)
}

func TestDeriveSubkey(t *testing.T) {
	r := newTestRepo(t, secretstore.NewMemoryStore(), &fakeClock{t: time.Now().UTC()})

	a, err := r.DeriveSubkey("lokivault-audit")
	require.NoError(t, err)
	b, err := r.DeriveSubkey("lokivault-audit")
	require.NoError(t, err)
	c, err := r.DeriveSubkey("other")
	require.NoError(t, err)

	assert.Len(t, a, crypto.KeyLength)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, r.key)
}

func TestDeriveSubkeyStableAcrossRekeyAndReopen(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	r := newTestRepo(t, store, &fakeClock{t: time.Now().UTC()})

	before, err := r.DeriveSubkey("lokivault-audit")
	require.NoError(t, err)

	require.NoError(t, r.Rekey(ctx, "newpassword456"))
	afterRekey, err := r.DeriveSubkey("lokivault-audit")
	require.NoError(t, err)
	assert.Equal(t, before, afterRekey)

	reopened := New(store, WithIterations(testIterations))
	require.NoError(t, reopened.Initialize(ctx, "newpassword456"))
	defer reopened.Close()
	afterReopen, err := reopened.DeriveSubkey("lokivault-audit")
	require.NoError(t, err)
	assert.Equal(t, before, afterReopen)
}

func TestCategoriesAndTags(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemoryStore()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	r := newTestRepo(t, store, clock)

	cat, err := r.SaveCategory(ctx, Category{Name: "Travel"})
	require.NoError(t, err)
	assert.NotEmpty(t, cat.ID)
	assert.Equal(t, "folder.fill", cat.Icon)
	assert.Len(t, r.Categories(), 5)

	clock.Advance(time.Hour)
	cat.Name = "Trips"
	renamed, err := r.SaveCategory(ctx, cat)
	require.NoError(t, err)
	assert.Equal(t, cat.CreatedAt, renamed.CreatedAt)
	assert.Len(t, r.Categories(), 5)

	require.NoError(t, r.DeleteCategory(ctx, cat.ID))
	require.NoError(t, r.DeleteCategory(ctx, cat.ID))
	assert.Len(t, r.Categories(), 4)

	_, err = r.SaveCategory(ctx, Category{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidItem)

	tag, err := r.SaveTag(ctx, Tag{Name: "2fa"})
	require.NoError(t, err)
	assert.Len(t, r.Tags(), 1)

	// Plaintext metadata is readable straight from the store
	raw, err := store.Retrieve(ctx, KeyTags)
	require.NoError(t, err)
	var tags []Tag
	require.NoError(t, json.Unmarshal(raw, &tags))
	require.Len(t, tags, 1)
	assert.Equal(t, "2fa", tags[0].Name)

	require.NoError(t, r.DeleteTag(ctx, tag.ID))
	assert.Empty(t, r.Tags())
}

func TestEnsureTags(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, secretstore.NewMemoryStore(), &fakeClock{t: time.Now().UTC()})

	_, err := r.SaveTag(ctx, Tag{Name: "Work"})
	require.NoError(t, err)

	require.NoError(t, r.EnsureTags(ctx, []string{"work", "travel", " ", "travel"}))
	names := []string{}
	for _, tag := range r.Tags() {
		names = append(names, tag.Name)
	}
	assert.Equal(t, []string{"Work", "travel"}, names)

	// Nothing new leaves the list untouched
	require.NoError(t, r.EnsureTags(ctx, []string{"TRAVEL"}))
	assert.Len(t, r.Tags(), 2)

	r.Close()
	assert.ErrorIs(t, r.EnsureTags(ctx, []string{"x"}), ErrNotInitialized)
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, secretstore.NewMemoryStore(), &fakeClock{t: time.Now().UTC()})

	_, _ = Save(ctx, r, LoginItem{Header: Header{Title: "a"}})
	_, _ = Save(ctx, r, LoginItem{Header: Header{Title: "b"}})
	_, _ = Save(ctx, r, Identity{Header: Header{Title: "passport"}, IdentityType: IdentityPassport})

	counts := r.Counts()
	assert.Equal(t, 2, counts[KindLogin])
	assert.Equal(t, 1, counts[KindIdentity])
	assert.Equal(t, 0, counts[KindAPIKey])
}

func TestStorageKey(t *testing.T) {
	tests := map[Kind]string{
		KindLogin:    "vault.logins",
		KindNote:     "vault.notes",
		KindCard:     "vault.cards",
		KindIdentity: "vault.identities",
		KindWiFi:     "vault.wifi",
		KindAPIKey:   "vault.apikeys",
	}
	for kind, want := range tests {
		if got := StorageKey(kind); got != want {
			t.Errorf("StorageKey(%s) = %q, want %q", kind, got, want)
		}
	}
}
