// Package app turns runtime configuration into wired reward components.
package app

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/MarkoPoloResearchLab/gitsats/internal/github"
	"github.com/MarkoPoloResearchLab/gitsats/internal/httpapi"
	"github.com/MarkoPoloResearchLab/gitsats/internal/paidledger"
	"github.com/MarkoPoloResearchLab/gitsats/internal/relaystore"
	"github.com/MarkoPoloResearchLab/gitsats/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/gitsats/internal/zapissuer"
	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/shopspring/decimal"
)

const (
	BackendRelays = "relays"
	BackendGorm   = "gorm"
	BackendPgx    = "pgx"

	defaultRewardSats = "1000"
	milliSatsPerSat   = 1000
)

// Config aggregates every runtime setting of the service.
type Config struct {
	HTTP httpapi.Config

	ServicePublicKey  string
	ServicePrivateKey string
	WalletConnectURL  string

	Relays            []string
	TargetAccount     string
	DirectoryBaseURL  string
	DirectoryMaxPages int
	RewardSats        string
	CommitPolicy      string
	LedgerIdentifier  string
	LedgerBackend     string
	DatabaseURL       string
	LightningNetwork  string

	rewardAmount reward.AmountMilliSats
	commitPolicy reward.CommitPolicy
}

// Validate applies defaults and checks every setting that does not depend on the
// service secrets. Missing secrets are reported by SecretsConfigured instead.
func (cfg *Config) Validate() error {
	if err := cfg.HTTP.Validate(); err != nil {
		return fmt.Errorf("%w: %v", reward.ErrInvalidConfig, err)
	}
	cfg.Relays = relaystore.NormalizeURLs(cfg.Relays)
	if len(cfg.Relays) == 0 {
		cfg.Relays = append([]string(nil), relaystore.DefaultRelays...)
	}
	cfg.TargetAccount = defaultIfEmpty(cfg.TargetAccount, github.DefaultAccount)
	cfg.DirectoryBaseURL = defaultIfEmpty(cfg.DirectoryBaseURL, github.DefaultBaseURL)
	if cfg.DirectoryMaxPages <= 0 {
		cfg.DirectoryMaxPages = github.DefaultMaxPages
	}
	cfg.LedgerIdentifier = defaultIfEmpty(cfg.LedgerIdentifier, paidledger.DefaultIdentifier)
	cfg.LightningNetwork = defaultIfEmpty(cfg.LightningNetwork, zapissuer.NetworkMainnet)
	if _, err := zapissuer.NetworkParams(cfg.LightningNetwork); err != nil {
		return fmt.Errorf("%w: %w", reward.ErrInvalidConfig, err)
	}

	amount, err := parseRewardSats(defaultIfEmpty(cfg.RewardSats, defaultRewardSats))
	if err != nil {
		return err
	}
	cfg.rewardAmount = amount

	policy, err := reward.ParseCommitPolicy(cfg.CommitPolicy)
	if err != nil {
		return err
	}
	cfg.commitPolicy = policy

	cfg.LedgerBackend = strings.ToLower(defaultIfEmpty(cfg.LedgerBackend, BackendRelays))
	switch cfg.LedgerBackend {
	case BackendRelays:
	case BackendGorm:
		if _, err := gormstore.Dialector(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("the gorm ledger backend needs a database url: %w", err)
		}
	case BackendPgx:
		if !isPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("%w: the pgx ledger backend needs a postgres database url", reward.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", reward.ErrInvalidConfig, cfg.LedgerBackend)
	}
	return nil
}

// SecretsConfigured reports whether the service keys and wallet connection are set.
func (cfg Config) SecretsConfigured() bool {
	return strings.TrimSpace(cfg.ServicePublicKey) != "" &&
		strings.TrimSpace(cfg.ServicePrivateKey) != "" &&
		strings.TrimSpace(cfg.WalletConnectURL) != ""
}

// RewardAmount returns the validated reward in milli-satoshis.
func (cfg Config) RewardAmount() reward.AmountMilliSats {
	return cfg.rewardAmount
}

// Policy returns the validated commit policy.
func (cfg Config) Policy() reward.CommitPolicy {
	return cfg.commitPolicy
}

// parseRewardSats converts a decimal sat amount into whole milli-satoshis.
func parseRewardSats(raw string) (reward.AmountMilliSats, error) {
	sats, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: reward sats %q: %v", reward.ErrInvalidConfig, raw, err)
	}
	milliSats := sats.Mul(decimal.NewFromInt(milliSatsPerSat))
	if !milliSats.IsInteger() {
		return 0, fmt.Errorf("%w: reward sats %q is finer than one millisatoshi", reward.ErrInvalidConfig, raw)
	}
	amount, err := reward.NewAmountMilliSats(milliSats.IntPart())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", reward.ErrInvalidConfig, err)
	}
	return amount, nil
}

func isPostgresURL(databaseURL string) bool {
	parsed, err := url.Parse(strings.TrimSpace(databaseURL))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return scheme == "postgres" || scheme == "postgresql"
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
