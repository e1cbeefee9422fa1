package zapissuer

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	lnurlPrefix        = "lnurl"
	lightningScheme    = "lightning:"
	wellKnownLNURLPath = "/.well-known/lnurlp/"
	tagPayRequest      = "payRequest"
	statusError        = "ERROR"
)

var ErrInvalidLNURL = errors.New("invalid lnurl")

// profileMetadata is the part of a kind-0 profile naming a payment endpoint.
type profileMetadata struct {
	LUD06 string `json:"lud06"`
	LUD16 string `json:"lud16"`
}

// payParams is the LNURL-pay first-step response.
type payParams struct {
	Tag         string `json:"tag"`
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
	AllowsNostr bool   `json:"allowsNostr"`
	NostrPubkey string `json:"nostrPubkey"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
}

// callbackResponse is the LNURL-pay second-step response.
type callbackResponse struct {
	PaymentRequest string `json:"pr"`
	Status         string `json:"status"`
	Reason         string `json:"reason"`
}

// payEndpoint is a resolved LNURL-pay endpoint. Encoded is its bech32 lnurl.
type payEndpoint struct {
	URL     string
	Encoded string
}

// resolveEndpoint prefers lud16 and falls back to lud06.
func resolveEndpoint(metadata profileMetadata) (payEndpoint, error) {
	if address := strings.TrimSpace(metadata.LUD16); address != "" {
		endpoint, err := LightningAddressURL(address)
		if err == nil {
			encoded, encodeErr := EncodeLNURL(endpoint)
			if encodeErr != nil {
				return payEndpoint{}, fmt.Errorf("%w: %v", ErrInvalidLNURL, encodeErr)
			}
			return payEndpoint{URL: endpoint, Encoded: encoded}, nil
		}
		if strings.TrimSpace(metadata.LUD06) == "" {
			return payEndpoint{}, err
		}
	}
	if encoded := strings.TrimSpace(metadata.LUD06); encoded != "" {
		endpoint, err := DecodeLNURL(encoded)
		if err != nil {
			return payEndpoint{}, err
		}
		return payEndpoint{URL: endpoint, Encoded: strings.ToLower(strings.TrimPrefix(strings.ToLower(encoded), lightningScheme))}, nil
	}
	return payEndpoint{}, fmt.Errorf("%w: profile has no lud16 or lud06", ErrInvalidLNURL)
}

// LightningAddressURL maps name@domain to its well-known LNURL-pay url.
func LightningAddressURL(address string) (string, error) {
	name, domain, found := strings.Cut(strings.TrimSpace(address), "@")
	if !found || name == "" || domain == "" || strings.ContainsAny(domain, "/@ ") {
		return "", fmt.Errorf("%w: lightning address %q", ErrInvalidLNURL, address)
	}
	return "https://" + strings.ToLower(domain) + wellKnownLNURLPath + url.PathEscape(strings.ToLower(name)), nil
}

// DecodeLNURL decodes a bech32 lnurl into its http(s) url.
func DecodeLNURL(encoded string) (string, error) {
	trimmed := strings.TrimSpace(encoded)
	if strings.HasPrefix(strings.ToLower(trimmed), lightningScheme) {
		trimmed = trimmed[len(lightningScheme):]
	}
	hrp, data, err := bech32.DecodeNoLimit(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLNURL, err)
	}
	if hrp != lnurlPrefix {
		return "", fmt.Errorf("%w: unexpected prefix %q", ErrInvalidLNURL, hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLNURL, err)
	}
	parsed, err := url.Parse(string(raw))
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		return "", fmt.Errorf("%w: decoded value is not a url", ErrInvalidLNURL)
	}
	return parsed.String(), nil
}

// EncodeLNURL bech32-encodes an http(s) url as an lnurl.
func EncodeLNURL(rawURL string) (string, error) {
	converted, err := bech32.ConvertBits([]byte(rawURL), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(lnurlPrefix, converted)
}
