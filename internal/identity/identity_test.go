package identity

import (
	"errors"
	"strings"
	"testing"

	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func mustIdentity(test *testing.T) (*Identity, string) {
	test.Helper()
	privateKey := nostr.GeneratePrivateKey()
	identity, err := New(privateKey, "")
	if err != nil {
		test.Fatalf("identity init failed: %v", err)
	}
	return identity, privateKey
}

func TestNewAcceptsHexAndBech32Keys(test *testing.T) {
	test.Parallel()
	privateKey := nostr.GeneratePrivateKey()
	publicKey, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		test.Fatalf("derive failed: %v", err)
	}
	nsec, err := nip19.EncodePrivateKey(privateKey)
	if err != nil {
		test.Fatalf("nsec encode failed: %v", err)
	}
	npub, err := nip19.EncodePublicKey(publicKey)
	if err != nil {
		test.Fatalf("npub encode failed: %v", err)
	}
	for _, pair := range [][2]string{{privateKey, publicKey}, {nsec, npub}, {strings.ToUpper(privateKey), ""}} {
		identity, err := New(pair[0], pair[1])
		if err != nil {
			test.Fatalf("identity init failed for %v: %v", pair, err)
		}
		if identity.PublicKey() != publicKey {
			test.Fatalf("expected %s, got %s", publicKey, identity.PublicKey())
		}
	}
}

func TestNewRejectsBadKeys(test *testing.T) {
	test.Parallel()
	privateKey := nostr.GeneratePrivateKey()
	otherPublicKey, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	testCases := []struct {
		name       string
		privateKey string
		publicKey  string
		wantErr    error
	}{
		{name: "empty", wantErr: ErrInvalidKey},
		{name: "short", privateKey: "abcd", wantErr: ErrInvalidKey},
		{name: "not hex", privateKey: strings.Repeat("z", keyHexLength), wantErr: ErrInvalidKey},
		{name: "mismatch", privateKey: privateKey, publicKey: otherPublicKey, wantErr: ErrKeyMismatch},
	}
	for _, testCase := range testCases {
		_, err := New(testCase.privateKey, testCase.publicKey)
		if !errors.Is(err, testCase.wantErr) || !errors.Is(err, reward.ErrInvalidConfig) {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.wantErr, err)
		}
	}
}

func TestSelfEncryptionRoundTrip(test *testing.T) {
	test.Parallel()
	identity, _ := mustIdentity(test)
	plaintext := `["alice","bob"]`
	ciphertext, err := identity.EncryptForSelf(plaintext)
	if err != nil {
		test.Fatalf("encrypt failed: %v", err)
	}
	if ciphertext == plaintext || !strings.Contains(ciphertext, "?iv=") {
		test.Fatalf("unexpected ciphertext %q", ciphertext)
	}
	decrypted, err := identity.DecryptOwn(ciphertext)
	if err != nil || decrypted != plaintext {
		test.Fatalf("expected %q, got %q (%v)", plaintext, decrypted, err)
	}
}

func TestDecryptOwnRejectsForeignCiphertext(test *testing.T) {
	test.Parallel()
	owner, _ := mustIdentity(test)
	stranger, _ := mustIdentity(test)
	ciphertext, err := stranger.EncryptForSelf(`["mallory"]`)
	if err != nil {
		test.Fatalf("encrypt failed: %v", err)
	}
	if plaintext, err := owner.DecryptOwn(ciphertext); err == nil && plaintext == `["mallory"]` {
		test.Fatalf("foreign ciphertext must not decrypt to the original plaintext")
	}
	if _, err := owner.DecryptOwn("not-a-ciphertext"); !errors.Is(err, ErrEncryption) {
		test.Fatalf("expected %v, got %v", ErrEncryption, err)
	}
}

func TestSignProducesVerifiableEvent(test *testing.T) {
	test.Parallel()
	identity, _ := mustIdentity(test)
	event := nostr.Event{Kind: 1, CreatedAt: nostr.Now(), Content: "hello", Tags: nostr.Tags{}}
	if err := identity.Sign(&event); err != nil {
		test.Fatalf("sign failed: %v", err)
	}
	if event.PubKey != identity.PublicKey() {
		test.Fatalf("expected pubkey %s, got %s", identity.PublicKey(), event.PubKey)
	}
	valid, err := event.CheckSignature()
	if err != nil || !valid {
		test.Fatalf("expected valid signature, got %v %v", valid, err)
	}
}
