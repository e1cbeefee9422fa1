package zapissuer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/zpay32"
)

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
	NetworkRegtest = "regtest"
	NetworkSignet  = "signet"
)

var (
	ErrUnknownNetwork = errors.New("unknown lightning network")
	ErrAmountless     = errors.New("invoice carries no amount")
)

// DecodedInvoice is the subset of a BOLT-11 invoice the issuer checks.
type DecodedInvoice struct {
	AmountMilliSats int64
	PaymentHash     lntypes.Hash
}

// InvoiceDecoder parses a payment request.
type InvoiceDecoder func(paymentRequest string) (DecodedInvoice, error)

// NetworkParams maps a network name to its chain parameters.
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NetworkMainnet:
		return &chaincfg.MainNetParams, nil
	case NetworkTestnet:
		return &chaincfg.TestNet3Params, nil
	case NetworkRegtest:
		return &chaincfg.RegressionNetParams, nil
	case NetworkSignet:
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
}

// NewBolt11Decoder decodes invoices for network.
func NewBolt11Decoder(network *chaincfg.Params) InvoiceDecoder {
	return func(paymentRequest string) (DecodedInvoice, error) {
		invoice, err := zpay32.Decode(strings.TrimSpace(paymentRequest), network)
		if err != nil {
			return DecodedInvoice{}, err
		}
		if invoice.MilliSat == nil {
			return DecodedInvoice{}, ErrAmountless
		}
		decoded := DecodedInvoice{AmountMilliSats: int64(*invoice.MilliSat)}
		if invoice.PaymentHash != nil {
			decoded.PaymentHash = lntypes.Hash(*invoice.PaymentHash)
		}
		return decoded, nil
	}
}
