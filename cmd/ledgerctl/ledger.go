package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/TriageLedger/pkg/client"
	"github.com/jmerrifield20/TriageLedger/pkg/fingerprint"
)

// ── token ────────────────────────────────────────────────────────────────────

func (a *cli) tokenCmd() *cobra.Command {
	var (
		adminSecret string
		save        bool
	)
	cmd := &cobra.Command{
		Use:   "token <identity>",
		Short: "Mint a caller token bound to an identity",
		Long: `Token exchanges the server's bootstrap admin secret for a caller token.

  ledgerctl token clinician-1 --admin-secret "$LEDGER_ADMIN_SECRET" --save

With --save the token is written to the config file and used by later commands.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if adminSecret == "" {
				adminSecret = a.cfg.GetString("admin_secret")
			}
			if adminSecret == "" {
				return errors.New("--admin-secret is required (or set LEDGERCTL_ADMIN_SECRET)")
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			defer cancel()

			res, err := c.MintToken(ctx, adminSecret, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if save {
				path, err := a.saveToken(res.Token)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "token for %s saved to %s (expires in %ds)\n", res.Identity, path, res.ExpiresIn)
				return nil
			}
			if a.format == "json" {
				return printJSON(out, res)
			}
			fmt.Fprintln(out, res.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminSecret, "admin-secret", "", "Bootstrap admin secret configured on the server")
	cmd.Flags().BoolVar(&save, "save", false, "Store the token in the config file")
	return cmd
}

// ── events ───────────────────────────────────────────────────────────────────

func (a *cli) eventsCmd() *cobra.Command {
	var (
		q   client.EventQuery
		all bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Replay the audit event log",
		Long: `Events lists audit events in sequence order.

  ledgerctl events --resource-id Patient/123
  ledgerctl events --kind shared --actor clinician-1 --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.lookup(cmd, func(ctx context.Context, c *client.Client) error {
				var events []client.Event
				for {
					page, err := c.Events(ctx, q)
					if err != nil {
						return err
					}
					events = append(events, page.Events...)
					if !all || page.Count == 0 || page.Next <= q.After {
						break
					}
					q.After = page.Next
				}
				out := cmd.OutOrStdout()
				if a.format == "json" {
					if events == nil {
						events = []client.Event{}
					}
					return printJSON(out, events)
				}
				if len(events) == 0 {
					fmt.Fprintln(out, "no events")
					return nil
				}
				return printEventTable(out, events)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&q.RecordID, "record-id", "", "Only events for this record ID (hex)")
	f.StringVar(&q.ResourceID, "resource-id", "", "Only events for this resource")
	f.StringVar(&q.Actor, "actor", "", "Only events caused by this identity")
	f.StringVar(&q.Kind, "kind", "", "Only events of this kind (created, accessed, updated, shared, revoked_access, deleted, ...)")
	f.Uint64Var(&q.After, "after", 0, "Only events with a sequence number above this")
	f.IntVar(&q.Limit, "limit", 0, "Page size (server default when 0)")
	f.BoolVar(&all, "all", false, "Follow the cursor until the log is exhausted")
	return cmd
}

// ── status / verify ──────────────────────────────────────────────────────────

func (a *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ledger bookkeeping state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.lookup(cmd, func(ctx context.Context, c *client.Client) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.format == "json" {
					return printJSON(out, st)
				}
				fmt.Fprintf(out, "Records:       %d\n", st.RecordCount)
				fmt.Fprintf(out, "Events:        %d\n", st.Events)
				fmt.Fprintf(out, "Paused:        %t\n", st.Paused)
				fmt.Fprintf(out, "Administrator: %s\n", dash(st.Administrator))
				fmt.Fprintf(out, "Root:          %s\n", st.Root)
				return nil
			})
		},
	}
}

func (a *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the integrity of the audit event hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.lookup(cmd, func(ctx context.Context, c *client.Client) error {
				res, err := c.Verify(ctx)
				if err != nil {
					return err
				}
				if a.format == "json" {
					if err := printJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				} else if res.Valid {
					fmt.Fprintln(cmd.OutOrStdout(), "✓ audit event chain is intact")
				}
				if !res.Valid {
					return fmt.Errorf("audit event chain is broken: %s", res.Error)
				}
				return nil
			})
		},
	}
}

// ── administrator ────────────────────────────────────────────────────────────

func (a *cli) pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Suspend record operations (administrator only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.mutation(cmd, func(ctx context.Context, c *client.Client) (*client.Event, error) {
				return c.Pause(ctx)
			})
		},
	}
}

func (a *cli) unpauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpause",
		Short: "Resume record operations (administrator only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.mutation(cmd, func(ctx context.Context, c *client.Client) (*client.Event, error) {
				return c.Unpause(ctx)
			})
		},
	}
}

func (a *cli) transferAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer-admin <identity>",
		Short: "Hand administration to another identity (administrator only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutation(cmd, func(ctx context.Context, c *client.Client) (*client.Event, error) {
				return c.TransferAdministrator(ctx, args[0])
			})
		},
	}
}

func (a *cli) renounceAdminCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "renounce-admin",
		Short: "Leave the ledger without an administrator (irreversible)",
		Long: `Renounce-admin removes the administrator. Afterwards nobody can pause or
unpause the ledger, and a paused ledger stays paused for good.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				fmt.Fprint(cmd.OutOrStdout(), "This cannot be undone. Renounce administration? [y/N]: ")
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				answer = strings.ToLower(strings.TrimSpace(answer))
				if answer != "y" && answer != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}
			return a.mutation(cmd, func(ctx context.Context, c *client.Client) (*client.Event, error) {
				return c.RenounceAdministrator(ctx)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

// ── fingerprint ──────────────────────────────────────────────────────────────

func fingerprintCmd() *cobra.Command {
	var canonical bool
	cmd := &cobra.Command{
		Use:   "fingerprint <file> [file...]",
		Short: "Print the digest the ledger would record for local files",
		Long: `Fingerprint hashes files locally with SHA-256. Nothing is sent to the server.
Use "-" to read standard input.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, path := range args {
				var (
					hex string
					err error
				)
				if path == "-" {
					var sum [fingerprint.Size]byte
					sum, err = fingerprint.SumReader(cmd.InOrStdin())
					hex = fingerprint.Hex(sum)
				} else {
					hex, err = fingerprintFile(path, canonical)
				}
				if err != nil {
					return err
				}
				if len(args) == 1 {
					fmt.Fprintln(out, hex)
				} else {
					fmt.Fprintf(out, "%s  %s\n", hex, path)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&canonical, "canonical-json", false, "Hash the canonical JSON form of each file")
	return cmd
}
