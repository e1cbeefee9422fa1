// Package zapissuer issues reward invoices through the recipient's LNURL-pay endpoint,
// attaching a signed zap request when the endpoint accepts one.
package zapissuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/gitsats/internal/eventstore"
	"github.com/MarkoPoloResearchLab/gitsats/internal/identity"
	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/nbd-wtf/go-nostr"
)

const (
	KindMetadata   = 0
	KindZapRequest = 9734

	tagRelays      = "relays"
	tagAmount      = "amount"
	tagLNURL       = "lnurl"
	tagPubKey      = "p"
	queryAmount    = "amount"
	queryNostr     = "nostr"
	queryLNURL     = "lnurl"
	defaultTimeout = 20 * time.Second
	maxBodyBytes   = 64 << 10
)

// Option configures an Issuer.
type Option func(*Issuer)

// WithHTTPClient replaces the default client used for LNURL requests.
func WithHTTPClient(client *http.Client) Option {
	return func(issuer *Issuer) {
		if client != nil {
			issuer.http = client
		}
	}
}

// WithDecoder replaces the BOLT-11 decoder.
func WithDecoder(decoder InvoiceDecoder) Option {
	return func(issuer *Issuer) {
		if decoder != nil {
			issuer.decode = decoder
		}
	}
}

// WithClock overrides time.Now for zap request timestamps.
func WithClock(now func() time.Time) Option {
	return func(issuer *Issuer) {
		if now != nil {
			issuer.now = now
		}
	}
}

// Issuer implements reward.InvoiceIssuer.
type Issuer struct {
	profiles eventstore.Store
	signer   identity.Signer
	relays   []string
	http     *http.Client
	decode   InvoiceDecoder
	now      func() time.Time
}

// NewIssuer wires an Issuer. profiles is queried for recipient kind-0 metadata and
// relays is advertised in every zap request.
func NewIssuer(profiles eventstore.Store, signer identity.Signer, relays []string, network string, options ...Option) (*Issuer, error) {
	if profiles == nil {
		return nil, fmt.Errorf("%w: profile store dependency is nil", reward.ErrInvalidConfig)
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: signer dependency is nil", reward.ErrInvalidConfig)
	}
	params, err := NetworkParams(network)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", reward.ErrInvalidConfig, err)
	}
	issuer := &Issuer{
		profiles: profiles,
		signer:   signer,
		relays:   append([]string(nil), relays...),
		http:     &http.Client{Timeout: defaultTimeout},
		decode:   NewBolt11Decoder(params),
		now:      time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(issuer)
		}
	}
	return issuer, nil
}

// CreateInvoice resolves recipient's pay endpoint and requests an invoice for amount.
func (issuer *Issuer) CreateInvoice(ctx context.Context, recipient reward.PublicKey, amount reward.AmountMilliSats) (reward.Invoice, error) {
	recipientKey, err := identity.ParsePublicKey(recipient.String())
	if err != nil {
		return reward.Invoice{}, fmt.Errorf("%w: recipient key: %v", reward.ErrRecipientUnresolvable, err)
	}
	endpoint, err := issuer.lookupEndpoint(ctx, recipientKey)
	if err != nil {
		return reward.Invoice{}, fmt.Errorf("%w: %w", reward.ErrRecipientUnresolvable, err)
	}
	params, err := issuer.fetchPayParams(ctx, endpoint.URL)
	if err != nil {
		return reward.Invoice{}, fmt.Errorf("%w: %w", reward.ErrRecipientUnresolvable, err)
	}
	if amount.Int64() < params.MinSendable || amount.Int64() > params.MaxSendable {
		return reward.Invoice{}, fmt.Errorf("%w: amount %d outside [%d, %d]", reward.ErrRecipientUnresolvable, amount.Int64(), params.MinSendable, params.MaxSendable)
	}

	query := url.Values{}
	query.Set(queryAmount, strconv.FormatInt(amount.Int64(), 10))
	if params.AllowsNostr {
		zapRequest, err := issuer.zapRequest(recipientKey, amount, endpoint.Encoded)
		if err != nil {
			return reward.Invoice{}, fmt.Errorf("%w: %w", reward.ErrInvoiceCreationFailed, err)
		}
		query.Set(queryNostr, zapRequest)
		if endpoint.Encoded != "" {
			query.Set(queryLNURL, endpoint.Encoded)
		}
	}
	paymentRequest, err := issuer.requestInvoice(ctx, params.Callback, query)
	if err != nil {
		return reward.Invoice{}, fmt.Errorf("%w: %w", reward.ErrInvoiceCreationFailed, err)
	}
	decoded, err := issuer.decode(paymentRequest)
	if err != nil {
		return reward.Invoice{}, fmt.Errorf("%w: decode: %w", reward.ErrInvoiceCreationFailed, err)
	}
	if decoded.AmountMilliSats != amount.Int64() {
		return reward.Invoice{}, fmt.Errorf("%w: invoice amount %d does not match %d", reward.ErrInvoiceCreationFailed, decoded.AmountMilliSats, amount.Int64())
	}
	return reward.Invoice{PaymentRequest: paymentRequest, Amount: amount, PaymentHash: decoded.PaymentHash}, nil
}

func (issuer *Issuer) lookupEndpoint(ctx context.Context, recipientKey string) (payEndpoint, error) {
	event, err := issuer.profiles.QueryLatest(ctx, nostr.Filter{
		Kinds:   []int{KindMetadata},
		Authors: []string{recipientKey},
		Limit:   1,
	})
	if err != nil {
		return payEndpoint{}, fmt.Errorf("profile lookup: %w", err)
	}
	var metadata profileMetadata
	if err := json.Unmarshal([]byte(event.Content), &metadata); err != nil {
		return payEndpoint{}, fmt.Errorf("profile metadata: %w", err)
	}
	return resolveEndpoint(metadata)
}

func (issuer *Issuer) fetchPayParams(ctx context.Context, endpoint string) (payParams, error) {
	var params payParams
	if err := issuer.fetchJSON(ctx, endpoint, &params); err != nil {
		return payParams{}, err
	}
	if params.Status == statusError {
		return payParams{}, fmt.Errorf("pay endpoint error: %s", params.Reason)
	}
	if params.Tag != tagPayRequest {
		return payParams{}, fmt.Errorf("unexpected lnurl tag %q", params.Tag)
	}
	if params.Callback == "" {
		return payParams{}, errors.New("pay endpoint has no callback")
	}
	return params, nil
}

func (issuer *Issuer) requestInvoice(ctx context.Context, callback string, query url.Values) (string, error) {
	target, err := url.Parse(callback)
	if err != nil {
		return "", err
	}
	merged := target.Query()
	for key, values := range query {
		merged[key] = values
	}
	target.RawQuery = merged.Encode()

	var response callbackResponse
	if err := issuer.fetchJSON(ctx, target.String(), &response); err != nil {
		return "", err
	}
	if response.Status == statusError {
		return "", fmt.Errorf("callback error: %s", response.Reason)
	}
	if response.PaymentRequest == "" {
		return "", errors.New("callback returned no payment request")
	}
	return response.PaymentRequest, nil
}

// zapRequest builds the signed kind-9734 event passed to the callback.
func (issuer *Issuer) zapRequest(recipientKey string, amount reward.AmountMilliSats, encodedLNURL string) (string, error) {
	relays := append(nostr.Tag{tagRelays}, issuer.relays...)
	tags := nostr.Tags{
		relays,
		{tagAmount, strconv.FormatInt(amount.Int64(), 10)},
		{tagPubKey, recipientKey},
	}
	if encodedLNURL != "" {
		tags = append(tags, nostr.Tag{tagLNURL, encodedLNURL})
	}
	event := nostr.Event{
		Kind:      KindZapRequest,
		CreatedAt: nostr.Timestamp(issuer.now().Unix()),
		Tags:      tags,
		Content:   "",
	}
	if err := issuer.signer.Sign(&event); err != nil {
		return "", err
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (issuer *Issuer) fetchJSON(ctx context.Context, target string, out any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	response, err := issuer.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	body, err := io.ReadAll(io.LimitReader(response.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s: status %d", target, response.StatusCode)
	}
	return json.Unmarshal(body, out)
}
