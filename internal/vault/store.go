package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/companion-pipeline/internal/store"
)

// TTL is the lifetime of every vault entry.
const TTL = 7 * 24 * time.Hour

// Store persists sealed content keyed by (run, stage).
type Store struct {
	db  *store.DB
	c   *Cipher
	now func() time.Time
}

// NewStore binds a cipher to the storage collaborator.
func NewStore(db *store.DB, c *Cipher) *Store {
	return &Store{db: db, c: c, now: time.Now}
}

// Put seals v and upserts it for (run, stage). Returns the vault reference.
func (s *Store) Put(ctx context.Context, runID, stage string, v any) (string, error) {
	sealed, err := s.c.Encrypt(v)
	if err != nil {
		return "", err
	}
	now := s.now()
	row := store.VaultRow{
		RunID:      runID,
		Stage:      stage,
		Ciphertext: base64.StdEncoding.EncodeToString(sealed.Ciphertext),
		IV:         base64.StdEncoding.EncodeToString(sealed.IV),
		Tag:        base64.StdEncoding.EncodeToString(sealed.Tag),
		CreatedAt:  store.FormatTime(now),
		ExpiresAt:  store.FormatTime(now.Add(TTL)),
	}
	if err := s.db.UpsertVaultEntry(ctx, row); err != nil {
		return "", fmt.Errorf("put vault entry: %w", err)
	}
	return Ref(runID, stage), nil
}

// Get resolves ref, verifies and decodes the content into out. Expired
// entries that have not been swept yet are reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, ref string, out any) error {
	runID, stage, err := ParseRef(ref)
	if err != nil {
		return err
	}
	row, err := s.db.GetVaultEntry(ctx, runID, stage)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get vault entry: %w", err)
	}
	if !s.now().Before(store.ParseTime(row.ExpiresAt)) {
		return ErrNotFound
	}

	var sealed Sealed
	for _, f := range []struct {
		src string
		dst *[]byte
	}{{row.Ciphertext, &sealed.Ciphertext}, {row.IV, &sealed.IV}, {row.Tag, &sealed.Tag}} {
		b, err := base64.StdEncoding.DecodeString(f.src)
		if err != nil {
			return ErrDecrypt
		}
		*f.dst = b
	}
	return s.c.Decrypt(sealed, out)
}

// DeleteExpired removes entries whose expiry is at or before now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.db.DeleteExpiredVaultEntries(ctx, now)
}
