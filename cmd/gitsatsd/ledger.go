package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/MarkoPoloResearchLab/gitsats/internal/app"
	"github.com/MarkoPoloResearchLab/gitsats/internal/paidledger"
	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	flagFormat   = "format"
	formatJSON   = "json"
	formatYAML   = "yaml"
	indentSpaces = 2
)

type ledgerReport struct {
	Identifier     string   `json:"identifier" yaml:"identifier"`
	Author         string   `json:"author" yaml:"author"`
	UpdatedUnixUTC int64    `json:"updated_unix_utc" yaml:"updated_unix_utc"`
	Count          int      `json:"count" yaml:"count"`
	Paid           []string `json:"paid" yaml:"paid"`
}

func newLedgerCommand(cfg *app.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or bootstrap the paid ledger record",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Publish an empty ledger record when none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, *cfg, func(ledger *paidledger.Ledger, author string) error {
				_, created, err := ledger.Initialize(cmd.Context())
				if err != nil {
					return err
				}
				if created {
					fmt.Fprintf(cmd.OutOrStdout(), "published empty ledger %s\n", ledger.Identifier())
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ledger %s already exists\n", ledger.Identifier())
				return nil
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the rewarded usernames",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString(flagFormat)
			return withLedger(cmd, *cfg, func(ledger *paidledger.Ledger, author string) error {
				snapshot, err := ledger.Load(cmd.Context())
				if err != nil {
					return err
				}
				return writeReport(cmd.OutOrStdout(), format, newLedgerReport(ledger.Identifier(), author, snapshot))
			})
		},
	}
	showCmd.Flags().String(flagFormat, formatJSON, "output format (json or yaml)")

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func withLedger(cmd *cobra.Command, cfg app.Config, run func(*paidledger.Ledger, string) error) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	components, err := app.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("component init: %w", err)
	}
	defer func() { _ = components.Close() }()

	ledger, err := components.RequireLedger()
	if err != nil {
		return err
	}
	return run(ledger, components.Identity.PublicKey())
}

func newLedgerReport(identifier string, author string, snapshot reward.LedgerSnapshot) ledgerReport {
	paid := snapshot.Usernames()
	sort.Strings(paid)
	report := ledgerReport{Identifier: identifier, Author: author, Count: len(paid), Paid: paid}
	if !snapshot.Version().IsZero() {
		report.UpdatedUnixUTC = snapshot.Version().UTC().Unix()
	}
	return report
}

func writeReport(out io.Writer, format string, report ledgerReport) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case formatJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", strings.Repeat(" ", indentSpaces))
		return encoder.Encode(report)
	case formatYAML:
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(indentSpaces)
		if err := encoder.Encode(report); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}
