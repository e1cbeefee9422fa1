package nwc

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/MarkoPoloResearchLab/gitsats/internal/identity"
)

const (
	schemeWalletConnect       = "nostr+walletconnect"
	schemeWalletConnectLegacy = "nostrwalletconnect"
	queryRelay                = "relay"
	querySecret               = "secret"
)

var ErrInvalidURI = errors.New("invalid wallet connect uri")

// ConnectionURI is a parsed wallet connect string.
type ConnectionURI struct {
	WalletPublicKey string
	Relays          []string
	Secret          string
}

// ParseURI parses nostr+walletconnect://<wallet pubkey>?relay=<url>&secret=<hex>.
func ParseURI(raw string) (ConnectionURI, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ConnectionURI{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if parsed.Scheme != schemeWalletConnect && parsed.Scheme != schemeWalletConnectLegacy {
		return ConnectionURI{}, fmt.Errorf("%w: unexpected scheme %q", ErrInvalidURI, parsed.Scheme)
	}
	walletKey := parsed.Host
	if walletKey == "" {
		walletKey = strings.TrimPrefix(parsed.Opaque, "//")
	}
	walletKey, err = identity.ParsePublicKey(walletKey)
	if err != nil {
		return ConnectionURI{}, fmt.Errorf("%w: wallet key: %v", ErrInvalidURI, err)
	}
	query := parsed.Query()
	var relays []string
	for _, relay := range query[queryRelay] {
		if trimmed := strings.TrimSpace(relay); trimmed != "" {
			relays = append(relays, trimmed)
		}
	}
	if len(relays) == 0 {
		return ConnectionURI{}, fmt.Errorf("%w: no relay", ErrInvalidURI)
	}
	secret := strings.TrimSpace(query.Get(querySecret))
	if _, err := identity.ParsePrivateKey(secret); err != nil {
		return ConnectionURI{}, fmt.Errorf("%w: secret: %v", ErrInvalidURI, err)
	}
	return ConnectionURI{WalletPublicKey: walletKey, Relays: relays, Secret: secret}, nil
}
