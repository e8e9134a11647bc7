// Package snapshot persists opportunistic on-disk snapshots of the spawn
// catalog and the account roster, loaded on startup and written on
// shutdown. Their absence is non-fatal — the catalog falls back to a
// database query and the account roster falls back to configuration.
//
// Snapshots are encoding/gob files: same-process round-trip
// serialization with no schema to maintain. Each is signed with the
// engine's Ed25519
// signing identity (internal/security) and re-verified on load, so a
// snapshot edited or corrupted outside the engine is rejected rather
// than silently trusted back into the catalog or account roster.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/overwatch-scan/overwatch/internal/domain"
	"github.com/overwatch-scan/overwatch/internal/security"
)

// Store reads and writes snapshot files under a base directory.
type Store struct {
	dir    string
	signer *security.Keypair
}

// NewStore returns a Store rooted at dir. The directory is created lazily
// on first write. signer may be nil, in which case snapshots are written
// and read unsigned.
func NewStore(dir string, signer *security.Keypair) *Store {
	return &Store{dir: dir, signer: signer}
}

type catalogSnapshot struct {
	Spawns    []domain.Spawn
	Mysteries []domain.Mystery
}

// SaveCatalog writes the spawn catalog snapshot.
func (s *Store) SaveCatalog(spawns []domain.Spawn, mysteries []domain.Mystery) error {
	return s.save("spawns.gob", catalogSnapshot{Spawns: spawns, Mysteries: mysteries})
}

// LoadCatalog reads the spawn catalog snapshot. ok is false (with a nil
// error) when no snapshot file exists yet.
func (s *Store) LoadCatalog() (spawns []domain.Spawn, mysteries []domain.Mystery, ok bool, err error) {
	var snap catalogSnapshot
	ok, err = s.load("spawns.gob", &snap)
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	return snap.Spawns, snap.Mysteries, true, nil
}

// SaveAccounts writes the account roster snapshot.
func (s *Store) SaveAccounts(accounts []domain.Account) error {
	return s.save("accounts.gob", accounts)
}

// LoadAccounts reads the account roster snapshot.
func (s *Store) LoadAccounts() (accounts []domain.Account, ok bool, err error) {
	ok, err = s.load("accounts.gob", &accounts)
	return accounts, ok, err
}

func (s *Store) save(name string, v any) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode snapshot %s: %w", name, err)
	}
	tmp := filepath.Join(s.dir, name+".tmp")
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write snapshot %s: %w", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
		return err
	}
	if s.signer != nil {
		sigPath := filepath.Join(s.dir, name+".sig")
		if err := os.WriteFile(sigPath, []byte(s.signer.SignHex(buf.Bytes())), 0600); err != nil {
			return fmt.Errorf("write snapshot signature %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) load(name string, v any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read snapshot %s: %w", name, err)
	}

	if s.signer != nil {
		if err := s.verify(name, data); err != nil {
			return false, err
		}
	}

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", domain.ErrSnapshotCorrupt, name, err)
	}
	return true, nil
}

// verify checks data against the .sig sidecar written alongside name. A
// missing sidecar is tolerated (snapshots predating signing, or written
// by a Store with no signer) but a present, non-matching one is not.
func (s *Store) verify(name string, data []byte) error {
	sigBytes, err := os.ReadFile(filepath.Join(s.dir, name+".sig"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot signature %s: %w", name, err)
	}
	if !security.VerifyHex(data, string(sigBytes), s.signer.PublicKeyHex()) {
		return fmt.Errorf("%w: %s: signature mismatch", domain.ErrSnapshotCorrupt, name)
	}
	return nil
}
