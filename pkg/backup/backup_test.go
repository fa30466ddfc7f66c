package backup

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/forest6511/lokivault/pkg/secretstore"
	"github.com/forest6511/lokivault/pkg/vault"
)

const (
	testIterations = 1000
	vaultPassword  = "vault-password-123"
	exportPassword = "export-password-456"
)

var testNow = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

func testOptions() Options {
	return Options{Iterations: testIterations, Now: func() time.Time { return testNow }}
}

func newTestRepo(t *testing.T) *vault.Repository {
	t.Helper()
	repo := vault.New(secretstore.NewMemoryStore(),
		vault.WithIterations(testIterations),
		vault.WithClock(func() time.Time { return testNow }))
	if err := repo.Initialize(context.Background(), vaultPassword); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

// populatedRepo returns a repository holding one record of each of three kinds
// plus a tag.
func populatedRepo(t *testing.T) *vault.Repository {
	t.Helper()
	ctx := context.Background()
	repo := newTestRepo(t)

	if _, err := vault.Save(ctx, repo, vault.LoginItem{
		Header:   vault.Header{Title: "GitHub", Tags: []string{"dev"}},
		Username: "octocat",
		Password: "hunter22",
		URL:      "https://github.com",
	}); err != nil {
		t.Fatalf("Save login failed: %v", err)
	}
	if _, err := vault.Save(ctx, repo, vault.SecureNote{
		Header:  vault.Header{Title: "Recovery codes"},
		Content: "1111-2222-3333",
	}); err != nil {
		t.Fatalf("Save note failed: %v", err)
	}
	if _, err := vault.Save(ctx, repo, vault.APIKey{
		Header:      vault.Header{Title: "Stripe"},
		ServiceName: "stripe",
		Key:         "sk_test_abcdefghijkl",
	}); err != nil {
		t.Fatalf("Save API key failed: %v", err)
	}
	if _, err := repo.SaveTag(ctx, vault.Tag{Name: "dev"}); err != nil {
		t.Fatalf("SaveTag failed: %v", err)
	}
	return repo
}

func exportTestRepo(t *testing.T) []byte {
	t.Helper()
	data, err := Export(populatedRepo(t), exportPassword, testOptions())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	return data
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := populatedRepo(t)
	data, err := Export(src, exportPassword, testOptions())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if !bytes.HasPrefix(data, MagicNumber[:]) {
		t.Fatalf("Export does not start with magic number")
	}
	for _, secret := range []string{"hunter22", "1111-2222-3333", "sk_test_abcdefghijkl", "octocat"} {
		if bytes.Contains(data, []byte(secret)) {
			t.Errorf("Export contains plaintext %q", secret)
		}
	}

	dst := newTestRepo(t)
	result, err := Import(ctx, dst, data, exportPassword)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.ItemCount != 3 {
		t.Errorf("Expected 3 items imported, got %d", result.ItemCount)
	}
	if result.Tags != 1 {
		t.Errorf("Expected 1 tag imported, got %d", result.Tags)
	}
	if result.Categories != 4 {
		t.Errorf("Expected 4 categories imported, got %d", result.Categories)
	}
	if !result.ExportedAt.Equal(testNow) {
		t.Errorf("Expected ExportedAt %v, got %v", testNow, result.ExportedAt)
	}

	want, _ := src.Snapshot()
	got, _ := dst.Snapshot()
	if len(got.Logins) != 1 || got.Logins[0].ID != want.Logins[0].ID {
		t.Fatalf("Login not imported with original id: %+v", got.Logins)
	}
	if got.Logins[0].Password != "hunter22" {
		t.Errorf("Login password mismatch: %q", got.Logins[0].Password)
	}
	if !got.Logins[0].CreatedAt.Equal(want.Logins[0].CreatedAt) {
		t.Errorf("CreatedAt not preserved")
	}
	if len(got.Notes) != 1 || got.Notes[0].Content != "1111-2222-3333" {
		t.Errorf("Note mismatch: %+v", got.Notes)
	}
	if len(got.APIKeys) != 1 || got.APIKeys[0].Key != "sk_test_abcdefghijkl" {
		t.Errorf("API key mismatch: %+v", got.APIKeys)
	}
	if len(got.Cards) != 0 || len(got.Identities) != 0 || len(got.WiFi) != 0 {
		t.Errorf("Unexpected records in empty collections")
	}
}

func TestImport_ReplacesExistingContents(t *testing.T) {
	ctx := context.Background()
	data := exportTestRepo(t)

	dst := newTestRepo(t)
	if _, err := vault.Save(ctx, dst, vault.WiFiPassword{
		Header: vault.Header{Title: "Home"},
		SSID:   "home-net",
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := Import(ctx, dst, data, exportPassword); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if n := len(vault.Items[vault.WiFiPassword](dst)); n != 0 {
		t.Errorf("Expected existing WiFi entries replaced, found %d", n)
	}
}

func TestImport_PersistsThroughRepository(t *testing.T) {
	ctx := context.Background()
	data := exportTestRepo(t)

	store := secretstore.NewMemoryStore()
	dst := vault.New(store, vault.WithIterations(testIterations))
	if err := dst.Initialize(ctx, vaultPassword); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, err := Import(ctx, dst, data, exportPassword); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	dst.Close()

	reopened := vault.New(store, vault.WithIterations(testIterations))
	if err := reopened.Initialize(ctx, vaultPassword); err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()
	if n := len(vault.Items[vault.LoginItem](reopened)); n != 1 {
		t.Errorf("Expected 1 login after reopen, got %d", n)
	}
}

func TestImport_WrongPassword(t *testing.T) {
	ctx := context.Background()
	data := exportTestRepo(t)
	dst := newTestRepo(t)

	_, err := Import(ctx, dst, data, "not-the-password")
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("Expected ErrDecryptionFailed, got %v", err)
	}
	if err.Error() != "backup: invalid password or corrupted data" {
		t.Errorf("Unexpected message: %q", err.Error())
	}
	if n := dst.Counts()[vault.KindLogin]; n != 0 {
		t.Errorf("Repository modified by failed import: %d logins", n)
	}
}

func TestImport_TamperedData(t *testing.T) {
	data := exportTestRepo(t)
	pkg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	headerEnd := len(MagicNumber) + 4
	ciphertextStart := len(pkg.signed) - len(pkg.EncryptedData.Ciphertext)

	tests := []struct {
		name   string
		offset int
	}{
		{"header", headerEnd + 2},
		{"nonce", ciphertextStart - 5},
		{"ciphertext", ciphertextStart + 1},
		{"hmac", len(data) - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := append([]byte{}, data...)
			tampered[tt.offset] ^= 0x01

			_, err := Import(context.Background(), newTestRepo(t), tampered, exportPassword)
			if err == nil {
				t.Fatal("Expected error for tampered data")
			}
			// A flipped header byte may break the JSON before the MAC is checked
			if tt.name != "header" && !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("Expected ErrDecryptionFailed, got %v", err)
			}
		})
	}
}

func TestImport_RejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	snapshot := &vault.Snapshot{Logins: []vault.LoginItem{
		{Header: vault.Header{ID: "dup", Title: "first"}},
		{Header: vault.Header{ID: "dup", Title: "second"}},
	}}
	data, err := seal(snapshot, exportPassword, testOptions())
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	dst := populatedRepo(t)
	before := dst.Counts()

	_, err = Import(ctx, dst, data, exportPassword)
	if !errors.Is(err, vault.ErrInvalidItem) {
		t.Fatalf("Import error = %v, want ErrInvalidItem", err)
	}
	if errors.Is(err, ErrPartialImport) {
		t.Errorf("rejected import reported as partial: %v", err)
	}
	after := dst.Counts()
	for _, kind := range vault.Kinds {
		if before[kind] != after[kind] {
			t.Errorf("%s count changed from %d to %d", kind, before[kind], after[kind])
		}
	}
}

func TestImport_EmptyPassword(t *testing.T) {
	data := exportTestRepo(t)
	if _, err := Import(context.Background(), newTestRepo(t), data, ""); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("Expected ErrEmptyPassword, got %v", err)
	}
}

func TestExport_EmptyPassword(t *testing.T) {
	if _, err := Export(newTestRepo(t), "", testOptions()); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("Expected ErrEmptyPassword, got %v", err)
	}
}

func TestExport_LockedRepository(t *testing.T) {
	repo := vault.New(secretstore.NewMemoryStore(), vault.WithIterations(testIterations))
	if _, err := Export(repo, exportPassword, testOptions()); !errors.Is(err, vault.ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
}

func TestExport_FreshSaltAndNonce(t *testing.T) {
	repo := populatedRepo(t)
	a, err := Export(repo, exportPassword, testOptions())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	b, err := Export(repo, exportPassword, testOptions())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	pa, _ := Parse(a)
	pb, _ := Parse(b)
	if bytes.Equal(pa.Header.KDF.Salt, pb.Header.KDF.Salt) {
		t.Error("Two exports should use different salts")
	}
	if bytes.Equal(pa.EncryptedData.Nonce, pb.EncryptedData.Nonce) {
		t.Error("Two exports should use different nonces")
	}
}

func TestParse(t *testing.T) {
	data := exportTestRepo(t)
	pkg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	h := pkg.Header
	if h.Version != FormatVersion {
		t.Errorf("Expected version %d, got %d", FormatVersion, h.Version)
	}
	if !h.CreatedAt.Equal(testNow) {
		t.Errorf("Expected CreatedAt %v, got %v", testNow, h.CreatedAt)
	}
	if h.ItemCount != 3 {
		t.Errorf("Expected item count 3, got %d", h.ItemCount)
	}
	if h.KDF.Iterations != testIterations || h.KDF.KeyLength != KeyLength || len(h.KDF.Salt) != SaltLength {
		t.Errorf("Unexpected KDF params: %+v", h.KDF)
	}
	if len(pkg.MAC) != HMACLength {
		t.Errorf("Expected MAC length %d, got %d", HMACLength, len(pkg.MAC))
	}
}

func TestParse_Errors(t *testing.T) {
	valid := exportTestRepo(t)

	withHeader := func(mutate func(h *Header)) []byte {
		pkg, err := Parse(valid)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		mutate(&pkg.Header)
		data, err := pkg.marshal()
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		return append(data, pkg.MAC...)
	}

	oversized := append([]byte{}, MagicNumber[:]...)
	oversized = binary.BigEndian.AppendUint32(oversized, maxHeaderSize+1)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrInvalidMagic},
		{"short", []byte("LOKI"), ErrInvalidMagic},
		{"wrong magic", append([]byte("SCTL_BKP"), valid[8:]...), ErrInvalidMagic},
		{"truncated header length", valid[:10], ErrInvalidPackage},
		{"oversized header", oversized, ErrInvalidPackage},
		{"truncated", valid[:len(valid)-HMACLength-1], ErrInvalidPackage},
		{"trailing bytes", append(append([]byte{}, valid...), 0x00), ErrInvalidPackage},
		{"future version", withHeader(func(h *Header) { h.Version = FormatVersion + 1 }), ErrUnsupportedVersion},
		{"zero version", withHeader(func(h *Header) { h.Version = 0 }), ErrUnsupportedVersion},
		{"unknown cipher", withHeader(func(h *Header) { h.Cipher = "rot13" }), ErrInvalidPackage},
		{"unknown kdf", withHeader(func(h *Header) { h.KDF.Algorithm = "md5" }), ErrInvalidPackage},
		{"zero iterations", withHeader(func(h *Header) { h.KDF.Iterations = 0 }), ErrInvalidPackage},
		{"short salt", withHeader(func(h *Header) { h.KDF.Salt = h.KDF.Salt[:4] }), ErrInvalidPackage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	data := exportTestRepo(t)

	result, err := Verify(data, exportPassword)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Fatalf("Expected valid export, got error %q", result.Error)
	}
	if result.ItemCount != 3 || result.Version != FormatVersion || !result.CreatedAt.Equal(testNow) {
		t.Errorf("Unexpected verify result: %+v", result)
	}

	result, err = Verify(data, "wrong-password")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid {
		t.Error("Expected invalid result for wrong password")
	}
	if result.Error != ErrDecryptionFailed.Error() {
		t.Errorf("Unexpected error %q", result.Error)
	}

	result, _ = Verify([]byte("garbage"), exportPassword)
	if result.Valid || result.Error == "" {
		t.Errorf("Expected invalid result for garbage input: %+v", result)
	}
}

func TestDeriveKeys(t *testing.T) {
	kdf := KDFParams{
		Algorithm:  kdfAlgorithm,
		Iterations: testIterations,
		KeyLength:  KeyLength,
		Salt:       bytes.Repeat([]byte{7}, SaltLength),
	}

	encKey, macKey, err := deriveKeys(exportPassword, kdf)
	if err != nil {
		t.Fatalf("deriveKeys failed: %v", err)
	}
	if len(encKey) != KeyLength || len(macKey) != KeyLength {
		t.Fatalf("Unexpected key lengths %d/%d", len(encKey), len(macKey))
	}
	if bytes.Equal(encKey, macKey) {
		t.Error("Encryption and MAC keys should be different")
	}

	encKey2, macKey2, err := deriveKeys(exportPassword, kdf)
	if err != nil {
		t.Fatalf("deriveKeys failed: %v", err)
	}
	if !bytes.Equal(encKey, encKey2) || !bytes.Equal(macKey, macKey2) {
		t.Error("Same password and salt should produce the same keys")
	}

	if _, _, err := deriveKeys("", kdf); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("Expected ErrEmptyPassword, got %v", err)
	}
}
