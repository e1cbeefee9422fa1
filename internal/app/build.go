package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MarkoPoloResearchLab/gitsats/internal/eventstore"
	"github.com/MarkoPoloResearchLab/gitsats/internal/github"
	"github.com/MarkoPoloResearchLab/gitsats/internal/httpapi"
	"github.com/MarkoPoloResearchLab/gitsats/internal/identity"
	"github.com/MarkoPoloResearchLab/gitsats/internal/nwc"
	"github.com/MarkoPoloResearchLab/gitsats/internal/paidledger"
	"github.com/MarkoPoloResearchLab/gitsats/internal/relaystore"
	"github.com/MarkoPoloResearchLab/gitsats/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/gitsats/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/gitsats/internal/zapissuer"
	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var ErrSecretsMissing = errors.New("service keys or wallet connection are not configured")

// BuildOption customizes component construction.
type BuildOption func(*buildSettings)

type buildSettings struct {
	relayDialer  relaystore.Dialer
	walletDialer nwc.Dialer
	httpClient   *http.Client
}

// WithRelayDialer replaces the websocket dialer used for relay access.
func WithRelayDialer(dial relaystore.Dialer) BuildOption {
	return func(settings *buildSettings) {
		settings.relayDialer = dial
	}
}

// WithWalletDialer replaces the dialer used for wallet connect sessions.
func WithWalletDialer(dial nwc.Dialer) BuildOption {
	return func(settings *buildSettings) {
		settings.walletDialer = dial
	}
}

// WithHTTPClient sets the client used for the follower directory and LNURL calls.
func WithHTTPClient(client *http.Client) BuildOption {
	return func(settings *buildSettings) {
		settings.httpClient = client
	}
}

// Components holds the wired collaborators. Identity, Ledger and Service are nil
// when the service secrets are missing.
type Components struct {
	Directory *github.Directory
	Identity  *identity.Identity
	Ledger    *paidledger.Ledger
	Service   *reward.Service
	Followers httpapi.FollowerChecker

	closers []func() error
}

// Build constructs every component cfg describes. cfg must be validated.
func Build(ctx context.Context, cfg Config, logger *zap.Logger, options ...BuildOption) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := buildSettings{}
	for _, option := range options {
		if option != nil {
			option(&settings)
		}
	}

	directory, err := github.New(github.Config{
		BaseURL:  cfg.DirectoryBaseURL,
		Account:  cfg.TargetAccount,
		MaxPages: cfg.DirectoryMaxPages,
		HTTP:     settings.httpClient,
	})
	if err != nil {
		return nil, err
	}
	components := &Components{Directory: directory, Followers: httpapi.DirectoryChecker{Directory: directory}}

	if !cfg.SecretsConfigured() {
		logger.Warn("rewards disabled: missing environment variables",
			zap.Bool("service_public_key", cfg.ServicePublicKey != ""),
			zap.Bool("service_private_key", cfg.ServicePrivateKey != ""),
			zap.Bool("wallet_connect_url", cfg.WalletConnectURL != ""),
		)
		return components, nil
	}

	serviceIdentity, err := identity.New(cfg.ServicePrivateKey, cfg.ServicePublicKey)
	if err != nil {
		return nil, err
	}
	components.Identity = serviceIdentity
	if _, err := nwc.ParseURI(cfg.WalletConnectURL); err != nil {
		logger.Warn("wallet connect url is malformed; payments will fail", zap.Error(err))
	}

	relayOptions := []relaystore.Option{}
	if settings.relayDialer != nil {
		relayOptions = append(relayOptions, relaystore.WithDialer(settings.relayDialer))
	}
	relays, err := relaystore.New(cfg.Relays, relayOptions...)
	if err != nil {
		return nil, err
	}

	ledgerStore, err := components.openLedgerStore(ctx, cfg, relays)
	if err != nil {
		_ = components.Close()
		return nil, err
	}
	ledger, err := paidledger.New(ledgerStore, serviceIdentity, serviceIdentity, cfg.LedgerIdentifier)
	if err != nil {
		_ = components.Close()
		return nil, err
	}
	components.Ledger = ledger

	issuerOptions := []zapissuer.Option{}
	if settings.httpClient != nil {
		issuerOptions = append(issuerOptions, zapissuer.WithHTTPClient(settings.httpClient))
	}
	issuer, err := zapissuer.NewIssuer(relays, serviceIdentity, relays.URLs(), cfg.LightningNetwork, issuerOptions...)
	if err != nil {
		_ = components.Close()
		return nil, err
	}

	payer := nwc.New(cfg.WalletConnectURL, nwc.WithDialer(settings.walletDialer))

	service, err := reward.NewService(directory, ledger, issuer, payer, cfg.RewardAmount(),
		reward.WithCommitPolicy(cfg.Policy()),
		reward.WithOperationLogger(httpapi.NewZapOperationLogger(logger)),
	)
	if err != nil {
		_ = components.Close()
		return nil, err
	}
	components.Service = service
	components.Followers = service

	logger.Info("reward service ready",
		zap.String("service_public_key", serviceIdentity.PublicKey()),
		zap.String("ledger_backend", cfg.LedgerBackend),
		zap.String("ledger_identifier", ledger.Identifier()),
		zap.String("commit_policy", string(cfg.Policy())),
		zap.Int64("reward_msat", cfg.RewardAmount().Int64()),
		zap.Strings("relays", relays.URLs()),
	)
	return components, nil
}

// RequireLedger returns the ledger or ErrSecretsMissing.
func (components *Components) RequireLedger() (*paidledger.Ledger, error) {
	if components.Ledger == nil {
		return nil, fmt.Errorf("%w: %w", reward.ErrInvalidConfig, ErrSecretsMissing)
	}
	return components.Ledger, nil
}

// Dependencies adapts the components to the HTTP facade.
func (components *Components) Dependencies(logger *zap.Logger) httpapi.Dependencies {
	deps := httpapi.Dependencies{Logger: logger, Followers: components.Followers}
	if components.Service != nil {
		deps.Rewards = components.Service
	}
	if components.Ledger != nil {
		deps.Ledger = components.Ledger
	}
	return deps
}

// Close releases database handles opened by Build.
func (components *Components) Close() error {
	var errs []error
	for index := len(components.closers) - 1; index >= 0; index-- {
		if err := components.closers[index](); err != nil {
			errs = append(errs, err)
		}
	}
	components.closers = nil
	return errors.Join(errs...)
}

func (components *Components) openLedgerStore(ctx context.Context, cfg Config, relays *relaystore.Store) (eventstore.Store, error) {
	switch cfg.LedgerBackend {
	case BackendGorm:
		store, closeStore, err := gormstore.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		components.closers = append(components.closers, closeStore)
		return store, nil
	case BackendPgx:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database open: %w", err)
		}
		components.closers = append(components.closers, func() error {
			pool.Close()
			return nil
		})
		store := pgstore.New(pool)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return relays, nil
	}
}
