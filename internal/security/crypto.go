// Package security provides the engine's on-disk signing identity. The
// keypair is generated once per install and reused to sign every
// snapshot the engine writes to disk, so a snapshot tampered with (or
// corrupted) between a save and the next load is caught before it's
// trusted back into the catalog or account roster.
package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Keypair holds the process's Ed25519 signing identity.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a new Ed25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return &Keypair{Public: pub, Private: priv}, nil
}

// LoadOrCreateKeypair loads the keypair persisted under
// overwatchHome/keys/, or generates and persists a new one on first run.
func LoadOrCreateKeypair(overwatchHome string) (*Keypair, error) {
	keyDir := filepath.Join(overwatchHome, "keys")
	pubPath := filepath.Join(keyDir, "signer.pub")
	privPath := filepath.Join(keyDir, "signer.key")

	if pubBytes, pubErr := os.ReadFile(pubPath); pubErr == nil {
		if privBytes, privErr := os.ReadFile(privPath); privErr == nil {
			return decodeKeypair(pubBytes, privBytes)
		}
	}

	kp, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}
	if err := kp.persist(keyDir, pubPath, privPath); err != nil {
		return nil, err
	}
	return kp, nil
}

func decodeKeypair(pubHex, privHex []byte) (*Keypair, error) {
	pub, err := hex.DecodeString(string(pubHex))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	priv, err := hex.DecodeString(string(privHex))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	return &Keypair{Public: ed25519.PublicKey(pub), Private: ed25519.PrivateKey(priv)}, nil
}

func (kp *Keypair) persist(keyDir, pubPath, privPath string) error {
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(kp.Public)), 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(kp.Private)), 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	return nil
}

// PublicKeyHex returns the public key as a hex string, the form
// persisted alongside each signature.
func (kp *Keypair) PublicKeyHex() string {
	return hex.EncodeToString(kp.Public)
}

// Sign signs a message with the process's private key.
func (kp *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.Private, message)
}

// SignHex signs a message and returns the signature hex-encoded, the
// form snapshot.Store writes to its .sig sidecar files.
func (kp *Keypair) SignHex(message []byte) string {
	return hex.EncodeToString(kp.Sign(message))
}

// Verify checks a signature against a public key.
func Verify(message, signature []byte, publicKey ed25519.PublicKey) bool {
	return ed25519.Verify(publicKey, message, signature)
}

// VerifyHex checks a hex-encoded signature against a hex-encoded public
// key, returning false (never an error) on any malformed input.
func VerifyHex(message []byte, signatureHex, publicKeyHex string) bool {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false
	}
	return Verify(message, sig, pub)
}
