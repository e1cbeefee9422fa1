// Package nwc pays invoices through a Nostr Wallet Connect session.
package nwc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/gitsats/internal/identity"
	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

const (
	KindRequest  = 23194
	KindResponse = 23195

	// DefaultResponseTimeout bounds the wait for the wallet's answer.
	DefaultResponseTimeout = 30 * time.Second

	methodPayInvoice = "pay_invoice"
	tagPubKey        = "p"
	tagEvent         = "e"
)

var (
	// ErrNotDelivered reports that the request never reached the wallet relay.
	ErrNotDelivered = errors.New("wallet request not delivered")
	ErrNoResponse   = errors.New("wallet returned no response")
)

// Session is an open channel to a wallet relay.
type Session interface {
	// Roundtrip subscribes to response, publishes request and waits for the first
	// matching event. Failures before the request is accepted wrap ErrNotDelivered.
	Roundtrip(ctx context.Context, request nostr.Event, response nostr.Filter) (*nostr.Event, error)
	Close() error
}

// Dialer opens a Session on a relay.
type Dialer func(ctx context.Context, relayURL string) (Session, error)

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the websocket dialer.
func WithDialer(dial Dialer) Option {
	return func(client *Client) {
		if dial != nil {
			client.dial = dial
		}
	}
}

// WithClock overrides time.Now for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(client *Client) {
		if now != nil {
			client.now = now
		}
	}
}

// WithResponseTimeout bounds how long Pay waits for the wallet response.
func WithResponseTimeout(timeout time.Duration) Option {
	return func(client *Client) {
		if timeout > 0 {
			client.responseTimeout = timeout
		}
	}
}

// Client implements reward.PaymentExecutor.
type Client struct {
	rawURI          string
	dial            Dialer
	now             func() time.Time
	responseTimeout time.Duration
}

// New keeps the connection string; it is parsed on every payment so a malformed
// value surfaces as ErrWalletConnectFailed.
func New(rawURI string, options ...Option) *Client {
	client := &Client{rawURI: rawURI, dial: DialRelay, now: time.Now, responseTimeout: DefaultResponseTimeout}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client
}

type payRequest struct {
	Method string            `json:"method"`
	Params map[string]string `json:"params"`
}

type payResponse struct {
	ResultType string `json:"result_type"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Result *struct {
		Preimage string `json:"preimage"`
	} `json:"result"`
}

// Pay asks the wallet to pay invoice and reports whether it settled.
func (client *Client) Pay(ctx context.Context, invoice reward.Invoice) (reward.PaymentOutcome, error) {
	connection, err := ParseURI(client.rawURI)
	if err != nil {
		return reward.PaymentOutcome{}, fmt.Errorf("%w: %w", reward.ErrWalletConnectFailed, err)
	}
	walletClient, err := identity.New(connection.Secret, "")
	if err != nil {
		return reward.PaymentOutcome{}, fmt.Errorf("%w: client key: %v", reward.ErrWalletConnectFailed, err)
	}
	sharedSecret, err := walletClient.SharedSecret(connection.WalletPublicKey)
	if err != nil {
		return reward.PaymentOutcome{}, fmt.Errorf("%w: shared secret: %v", reward.ErrWalletConnectFailed, err)
	}

	session, err := client.connect(ctx, connection.Relays)
	if err != nil {
		return reward.PaymentOutcome{}, fmt.Errorf("%w: %w", reward.ErrWalletConnectFailed, err)
	}
	defer session.Close()

	request, err := client.buildRequest(walletClient, connection.WalletPublicKey, sharedSecret, invoice.PaymentRequest)
	if err != nil {
		return reward.PaymentOutcome{}, fmt.Errorf("%w: %w", reward.ErrWalletConnectFailed, err)
	}
	// A silent wallet must leave the caller enough of its deadline to record the attempt.
	roundtripCtx, cancel := context.WithTimeout(ctx, client.responseTimeout)
	defer cancel()
	response, err := session.Roundtrip(roundtripCtx, request, nostr.Filter{
		Kinds:   []int{KindResponse},
		Authors: []string{connection.WalletPublicKey},
		Tags:    nostr.TagMap{tagEvent: []string{request.ID}},
	})
	if errors.Is(err, ErrNotDelivered) {
		return reward.PaymentOutcome{}, fmt.Errorf("%w: %w", reward.ErrWalletConnectFailed, err)
	}
	if err != nil {
		return reward.PaymentOutcome{}, fmt.Errorf("%w: %w", reward.ErrPaymentRejected, err)
	}
	if response == nil {
		return reward.PaymentOutcome{}, fmt.Errorf("%w: %w", reward.ErrPaymentRejected, ErrNoResponse)
	}
	preimage, err := readPreimage(*response, sharedSecret)
	if err != nil {
		return reward.PaymentOutcome{}, fmt.Errorf("%w: %w", reward.ErrPaymentRejected, err)
	}
	if invoice.PaymentHash != (lntypes.Hash{}) && !preimage.Matches(invoice.PaymentHash) {
		return reward.PaymentOutcome{}, fmt.Errorf("%w: preimage does not match payment hash %s", reward.ErrPaymentRejected, invoice.PaymentHash)
	}
	return reward.PaymentOutcome{Settled: true, Preimage: preimage}, nil
}

// connect tries relays in order and returns the first session that opens.
func (client *Client) connect(ctx context.Context, relays []string) (Session, error) {
	var failures []error
	for _, relayURL := range relays {
		session, err := client.dial(ctx, relayURL)
		if err == nil {
			return session, nil
		}
		failures = append(failures, fmt.Errorf("%s: %w", relayURL, err))
	}
	return nil, errors.Join(failures...)
}

func (client *Client) buildRequest(signer identity.Signer, walletKey string, sharedSecret []byte, paymentRequest string) (nostr.Event, error) {
	payload, err := json.Marshal(payRequest{
		Method: methodPayInvoice,
		Params: map[string]string{"invoice": paymentRequest},
	})
	if err != nil {
		return nostr.Event{}, err
	}
	content, err := nip04.Encrypt(string(payload), sharedSecret)
	if err != nil {
		return nostr.Event{}, err
	}
	event := nostr.Event{
		Kind:      KindRequest,
		CreatedAt: nostr.Timestamp(client.now().Unix()),
		Tags:      nostr.Tags{{tagPubKey, walletKey}},
		Content:   content,
	}
	if err := signer.Sign(&event); err != nil {
		return nostr.Event{}, err
	}
	return event, nil
}

func readPreimage(response nostr.Event, sharedSecret []byte) (lntypes.Preimage, error) {
	plaintext, err := nip04.Decrypt(response.Content, sharedSecret)
	if err != nil {
		return lntypes.Preimage{}, fmt.Errorf("decrypt response: %w", err)
	}
	var decoded payResponse
	if err := json.Unmarshal([]byte(plaintext), &decoded); err != nil {
		return lntypes.Preimage{}, fmt.Errorf("malformed response: %w", err)
	}
	if decoded.Error != nil {
		return lntypes.Preimage{}, fmt.Errorf("wallet error %s: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if decoded.Result == nil || strings.TrimSpace(decoded.Result.Preimage) == "" {
		return lntypes.Preimage{}, errors.New("response has no preimage")
	}
	return lntypes.MakePreimageFromStr(strings.TrimSpace(decoded.Result.Preimage))
}
