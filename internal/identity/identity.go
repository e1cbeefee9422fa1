// Package identity holds the service key pair used to sign relay events and to
// encrypt records only the service can read back.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip19"
)

const (
	keyHexLength     = 64
	prefixPublicKey  = "npub"
	prefixPrivateKey = "nsec"
)

var (
	ErrInvalidKey  = errors.New("invalid key")
	ErrKeyMismatch = errors.New("public key does not match private key")
	ErrEncryption  = errors.New("self encryption failed")
)

// SecretStore encrypts data for the service itself and decrypts what it encrypted.
type SecretStore interface {
	EncryptForSelf(plaintext string) (string, error)
	DecryptOwn(ciphertext string) (string, error)
}

// Signer signs relay events as the service.
type Signer interface {
	PublicKey() string
	Sign(event *nostr.Event) error
}

// Identity is the service key pair. It implements SecretStore and Signer.
type Identity struct {
	privateKey string
	publicKey  string
	selfSecret []byte
}

// New builds an Identity from hex or bech32 keys. rawPublicKey may be empty, in which
// case it is derived; otherwise it must match the private key.
func New(rawPrivateKey string, rawPublicKey string) (*Identity, error) {
	privateKey, err := ParsePrivateKey(rawPrivateKey)
	if err != nil {
		return nil, err
	}
	derived, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", reward.ErrInvalidConfig, ErrInvalidKey, err)
	}
	if strings.TrimSpace(rawPublicKey) != "" {
		publicKey, err := ParsePublicKey(rawPublicKey)
		if err != nil {
			return nil, err
		}
		if publicKey != derived {
			return nil, fmt.Errorf("%w: %w", reward.ErrInvalidConfig, ErrKeyMismatch)
		}
	}
	secret, err := nip04.ComputeSharedSecret(derived, privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", reward.ErrInvalidConfig, ErrInvalidKey, err)
	}
	return &Identity{privateKey: privateKey, publicKey: derived, selfSecret: secret}, nil
}

// PublicKey returns the hex public key.
func (identity *Identity) PublicKey() string {
	return identity.publicKey
}

// Sign sets the event's pubkey, id and signature.
func (identity *Identity) Sign(event *nostr.Event) error {
	return event.Sign(identity.privateKey)
}

// EncryptForSelf encrypts plaintext so only this identity can decrypt it.
func (identity *Identity) EncryptForSelf(plaintext string) (string, error) {
	ciphertext, err := nip04.Encrypt(plaintext, identity.selfSecret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return ciphertext, nil
}

// DecryptOwn reverses EncryptForSelf.
func (identity *Identity) DecryptOwn(ciphertext string) (string, error) {
	plaintext, err := nip04.Decrypt(ciphertext, identity.selfSecret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return plaintext, nil
}

// SharedSecret derives the NIP-04 conversation key with peerPublicKey.
func (identity *Identity) SharedSecret(peerPublicKey string) ([]byte, error) {
	return nip04.ComputeSharedSecret(peerPublicKey, identity.privateKey)
}

// ParsePublicKey accepts a 64-char hex key or an npub and returns lower-case hex.
func ParsePublicKey(raw string) (string, error) {
	return parseKey(raw, prefixPublicKey)
}

// ParsePrivateKey accepts a 64-char hex key or an nsec and returns lower-case hex.
func ParsePrivateKey(raw string) (string, error) {
	return parseKey(raw, prefixPrivateKey)
}

func parseKey(raw string, bech32Prefix string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: %w: empty %s", reward.ErrInvalidConfig, ErrInvalidKey, bech32Prefix)
	}
	if strings.HasPrefix(trimmed, bech32Prefix+"1") {
		prefix, value, err := nip19.Decode(trimmed)
		if err != nil {
			return "", fmt.Errorf("%w: %w: %v", reward.ErrInvalidConfig, ErrInvalidKey, err)
		}
		decoded, ok := value.(string)
		if prefix != bech32Prefix || !ok {
			return "", fmt.Errorf("%w: %w: unexpected %s entity", reward.ErrInvalidConfig, ErrInvalidKey, prefix)
		}
		trimmed = decoded
	}
	normalized := strings.ToLower(trimmed)
	if len(normalized) != keyHexLength {
		return "", fmt.Errorf("%w: %w: expected %d hex characters", reward.ErrInvalidConfig, ErrInvalidKey, keyHexLength)
	}
	if _, err := hex.DecodeString(normalized); err != nil {
		return "", fmt.Errorf("%w: %w: %v", reward.ErrInvalidConfig, ErrInvalidKey, err)
	}
	return normalized, nil
}
