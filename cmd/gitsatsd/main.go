package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/gitsats/internal/app"
	"github.com/MarkoPoloResearchLab/gitsats/internal/httpapi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagConfig            = "config"
	flagListenAddr        = "listen-addr"
	flagServicePublicKey  = "service-public-key"
	flagServicePrivateKey = "service-private-key"
	flagWalletConnectURL  = "nwc-url"
	flagRelays            = "relays"
	flagTargetAccount     = "target-account"
	flagDirectoryBaseURL  = "directory-base-url"
	flagDirectoryMaxPages = "directory-max-pages"
	flagRewardSats        = "reward-sats"
	flagCommitPolicy      = "commit-policy"
	flagLedgerIdentifier  = "ledger-identifier"
	flagLedgerBackend     = "ledger-backend"
	flagDatabaseURL       = "database-url"
	flagLightningNetwork  = "lightning-network"
	flagRequestTimeout    = "request-timeout"
	flagAllowedOrigins    = "allowed-origins"
	flagJWTSigningKey     = "jwt-signing-key"
	flagJWTIssuer         = "jwt-issuer"
	flagJWTCookieName     = "jwt-cookie-name"
	flagAdminUserIDs      = "admin-user-ids"
	envPrefix             = "GITSATS"
)

var boundFlags = []string{
	flagListenAddr, flagServicePublicKey, flagServicePrivateKey, flagWalletConnectURL,
	flagRelays, flagTargetAccount, flagDirectoryBaseURL, flagDirectoryMaxPages,
	flagRewardSats, flagCommitPolicy, flagLedgerIdentifier, flagLedgerBackend,
	flagDatabaseURL, flagLightningNetwork, flagRequestTimeout, flagAllowedOrigins,
	flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName, flagAdminUserIDs,
}

// legacyEnv lists the unprefixed variable names accepted for the secrets.
var legacyEnv = map[string]string{
	flagServicePublicKey:  "NDK_PUBLIC_KEY",
	flagServicePrivateKey: "NDK_PRIVATE_KEY",
	flagWalletConnectURL:  "NWC_URL",
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gitsatsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &app.Config{}
	cmd := &cobra.Command{
		Use:           "gitsatsd",
		Short:         "Rewards followers of a GitHub account with Nostr zaps",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, *cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagConfig, "", "optional config file (yaml, toml or json)")
	flags.String(flagListenAddr, ":8080", "HTTP listen address")
	flags.String(flagServicePublicKey, "", "service public key (hex or npub)")
	flags.String(flagServicePrivateKey, "", "service private key (hex or nsec)")
	flags.String(flagWalletConnectURL, "", "nostr wallet connect URI")
	flags.String(flagRelays, "", "comma-separated relay URLs")
	flags.String(flagTargetAccount, "", "GitHub account whose followers are rewarded")
	flags.String(flagDirectoryBaseURL, "", "base URL of the follower directory")
	flags.Int(flagDirectoryMaxPages, 0, "maximum follower pages scanned per check")
	flags.String(flagRewardSats, "1000", "reward amount in sats")
	flags.String(flagCommitPolicy, "always", "ledger commit policy (always or settled)")
	flags.String(flagLedgerIdentifier, "", "d-tag of the paid ledger record")
	flags.String(flagLedgerBackend, app.BackendRelays, "ledger storage (relays, gorm or pgx)")
	flags.String(flagDatabaseURL, "", "database url for the gorm or pgx ledger backend")
	flags.String(flagLightningNetwork, "mainnet", "lightning network of accepted invoices")
	flags.Duration(flagRequestTimeout, 0, "per-request timeout (e.g. 60s)")
	flags.String(flagAllowedOrigins, "*", "comma-separated list of allowed CORS origins")
	flags.String(flagJWTSigningKey, "", "TAuth JWT signing key enabling admin routes")
	flags.String(flagJWTIssuer, "tauth", "expected JWT issuer")
	flags.String(flagJWTCookieName, "app_session", "JWT cookie name")
	flags.String(flagAdminUserIDs, "", "comma-separated TAuth user ids allowed on admin routes")

	cmd.AddCommand(newLedgerCommand(cfg))
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *app.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range boundFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}
	for flagName, legacyName := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
		if err := v.BindEnv(flagName, prefixed, legacyName); err != nil {
			return err
		}
	}

	if configFile, _ := cmd.Flags().GetString(flagConfig); strings.TrimSpace(configFile) != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	*cfg = app.Config{
		HTTP: httpapi.Config{
			ListenAddr:        strings.TrimSpace(v.GetString(flagListenAddr)),
			AllowedOrigins:    httpapi.ParseList(v.GetString(flagAllowedOrigins)),
			RequestTimeout:    v.GetDuration(flagRequestTimeout),
			SessionSigningKey: v.GetString(flagJWTSigningKey),
			SessionIssuer:     strings.TrimSpace(v.GetString(flagJWTIssuer)),
			SessionCookieName: strings.TrimSpace(v.GetString(flagJWTCookieName)),
			AdminUserIDs:      httpapi.ParseList(v.GetString(flagAdminUserIDs)),
		},
		ServicePublicKey:  strings.TrimSpace(v.GetString(flagServicePublicKey)),
		ServicePrivateKey: strings.TrimSpace(v.GetString(flagServicePrivateKey)),
		WalletConnectURL:  strings.TrimSpace(v.GetString(flagWalletConnectURL)),
		Relays:            httpapi.ParseList(v.GetString(flagRelays)),
		TargetAccount:     strings.TrimSpace(v.GetString(flagTargetAccount)),
		DirectoryBaseURL:  strings.TrimSpace(v.GetString(flagDirectoryBaseURL)),
		DirectoryMaxPages: v.GetInt(flagDirectoryMaxPages),
		RewardSats:        strings.TrimSpace(v.GetString(flagRewardSats)),
		CommitPolicy:      strings.TrimSpace(v.GetString(flagCommitPolicy)),
		LedgerIdentifier:  strings.TrimSpace(v.GetString(flagLedgerIdentifier)),
		LedgerBackend:     strings.TrimSpace(v.GetString(flagLedgerBackend)),
		DatabaseURL:       strings.TrimSpace(v.GetString(flagDatabaseURL)),
		LightningNetwork:  strings.TrimSpace(v.GetString(flagLightningNetwork)),
	}
	return cfg.Validate()
}

func runServer(ctx context.Context, cfg app.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("component init: %w", err)
	}
	defer func() { _ = components.Close() }()

	return httpapi.Run(ctx, cfg.HTTP, components.Dependencies(logger))
}
