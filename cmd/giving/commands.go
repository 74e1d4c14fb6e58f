package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sapliy/nightly-giving/internal/config"
	"github.com/sapliy/nightly-giving/internal/notification"
	"github.com/sapliy/nightly-giving/internal/policy"
	"github.com/sapliy/nightly-giving/pkg/client"
)

const cliTokenTTL = 5 * time.Minute

// newClient builds an API client. Without --token an admin token is minted
// from admin.jwt_secret, which must match the server's.
func newClient() (*client.Client, error) {
	tok := token
	if tok == "" {
		cfg, err := config.Load(config.New(cfgFile))
		if err != nil {
			return nil, err
		}
		if cfg.Admin.JWTSecret != "" {
			tok, err = policy.IssueAdminToken(cfg.Admin.JWTSecret, "giving-cli", []policy.Role{policy.RoleAdmin}, cliTokenTTL)
			if err != nil {
				return nil, err
			}
		}
	}
	return client.NewClient(tok, client.WithBaseURL(strings.TrimRight(serverURL, "/"))), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var aggregatesCmd = &cobra.Command{
	Use:   "aggregates",
	Short: "Show total and per-night donation totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		agg, err := c.Aggregates(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), agg)
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate-webhook",
	Short: "Confirm a random pending click as if the charity sent a webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("amount")
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("invalid --amount %q: %w", raw, err)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		rec, err := c.SimulateWebhook(cmd.Context(), amount)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all donation state and cancel every reminder",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Reset(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ledger reset")
		return nil
	},
}

var sendTestEmailCmd = &cobra.Command{
	Use:   "send-test-email",
	Short: "Send a sample confirmation or reminder email",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		to, _ := cmd.Flags().GetString("to")
		c, err := newClient()
		if err != nil {
			return err
		}
		receipt, err := c.SendTestEmail(cmd.Context(), notification.Kind(kind), to)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), receipt)
	},
}

var fireReminderCmd = &cobra.Command{
	Use:   "fire-reminder <pledge-id> <night>",
	Short: "Send one night's reminder for a pledge now",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var night int
		if _, err := fmt.Sscanf(args[1], "%d", &night); err != nil {
			return fmt.Errorf("invalid night %q: %w", args[1], err)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.FireReminder(cmd.Context(), args[0], night); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reminder for night %d sent\n", night)
		return nil
	},
}

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token",
	Short: "Mint an admin bearer token from admin.jwt_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		roles, _ := cmd.Flags().GetStringSlice("roles")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, err := config.Load(config.New(cfgFile))
		if err != nil {
			return err
		}
		rs := make([]policy.Role, 0, len(roles))
		for _, r := range roles {
			rs = append(rs, policy.Role(r))
		}
		tok, err := policy.IssueAdminToken(cfg.Admin.JWTSecret, subject, rs, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	simulateCmd.Flags().String("amount", "25", "donation amount")

	sendTestEmailCmd.Flags().String("kind", string(notification.KindConfirmation), "confirmation or reminder")
	sendTestEmailCmd.Flags().String("to", "", "recipient address")
	_ = sendTestEmailCmd.MarkFlagRequired("to")

	issueTokenCmd.Flags().String("subject", "operator", "token subject")
	issueTokenCmd.Flags().StringSlice("roles", []string{string(policy.RoleOperator)}, "roles to grant")
	issueTokenCmd.Flags().Duration("ttl", time.Hour, "token lifetime")

	rootCmd.AddCommand(aggregatesCmd, simulateCmd, resetCmd, sendTestEmailCmd, fireReminderCmd, issueTokenCmd)
}
