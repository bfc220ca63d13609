package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/TriageLedger/pkg/client"
	"github.com/jmerrifield20/TriageLedger/pkg/fingerprint"
)

// digestFlags selects where a record's fingerprint comes from.
type digestFlags struct {
	hash      string
	file      string
	canonical bool
}

func (d *digestFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.hash, "hash", "", "Hex digest of the payload (0x-prefixed or bare, 64 digits)")
	cmd.Flags().StringVar(&d.file, "file", "", "Payload file to fingerprint locally (SHA-256); only the digest is sent")
	cmd.Flags().BoolVar(&d.canonical, "canonical-json", false, "With --file: hash the canonical JSON form, so key order and whitespace do not matter")
}

// resolve returns the digest in API form ("0x" + 64 hex digits).
func (d *digestFlags) resolve() (string, error) {
	switch {
	case d.hash != "" && d.file != "":
		return "", errors.New("use either --hash or --file, not both")
	case d.hash != "":
		sum, err := fingerprint.Parse(d.hash)
		if err != nil {
			return "", fmt.Errorf("--hash: %w", err)
		}
		return fingerprint.Hex(sum), nil
	case d.file != "":
		return fingerprintFile(d.file, d.canonical)
	default:
		return "", errors.New("one of --hash or --file is required")
	}
}

func fingerprintFile(path string, canonical bool) (string, error) {
	if !canonical {
		sum, err := fingerprint.SumFile(path)
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", path, err)
		}
		return fingerprint.Hex(sum), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("%s is not valid JSON: %w", path, err)
	}
	sum, err := fingerprint.SumJSON(doc)
	if err != nil {
		return "", err
	}
	return fingerprint.Hex(sum), nil
}

func requireFlag(name, value string) error {
	if value == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}

// mutation wraps the common shape of an authenticated event-producing call.
func (a *cli) mutation(cmd *cobra.Command, fn func(context.Context, *client.Client) (*client.Event, error)) error {
	c, err := a.authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
	defer cancel()
	ev, err := fn(ctx, c)
	if err != nil {
		return err
	}
	return a.printEvent(cmd, ev)
}

// ── create / update ──────────────────────────────────────────────────────────

func (a *cli) createCmd() *cobra.Command {
	var (
		owner string
		dg    digestFlags
	)
	cmd := &cobra.Command{
		Use:   "create <resource-id>",
		Short: "File a new record fingerprint for a resource",
		Long: `Create files a record for (resource-id, owner). The caller becomes its creator.

  ledgerctl create Patient/123 --owner patient-7 --file bundle.json --canonical-json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("owner", owner); err != nil {
				return err
			}
			hash, err := dg.resolve()
			if err != nil {
				return err
			}
			return a.mutation(cmd, func(ctx context.Context, c *client.Client) (*client.Event, error) {
				return c.CreateRecord(ctx, args[0], hash, owner)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Identity that owns the record (required)")
	dg.bind(cmd)
	return cmd
}

func (a *cli) updateCmd() *cobra.Command {
	var dg digestFlags
	cmd := &cobra.Command{
		Use:   "update <resource-id>",
		Short: "Replace the fingerprint of a record you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := dg.resolve()
			if err != nil {
				return err
			}
			return a.mutation(cmd, func(ctx context.Context, c *client.Client) (*client.Event, error) {
				return c.UpdateRecord(ctx, args[0], hash)
			})
		},
	}
	dg.bind(cmd)
	return cmd
}

// ── delete / force-delete ────────────────────────────────────────────────────

func (a *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <resource-id>",
		Short: "Delete a record you own and created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutation(cmd, func(ctx context.Context, c *client.Client) (*client.Event, error) {
				return c.DeleteRecord(ctx, args[0])
			})
		},
	}
}

func (a *cli) forceDeleteCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "force-delete <resource-id>",
		Short: "Delete a record you created on behalf of its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("owner", owner); err != nil {
				return err
			}
			return a.mutation(cmd, func(ctx context.Context, c *client.Client) (*client.Event, error) {
				return c.ForceDeleteRecord(ctx, args[0], owner)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner of the record (required)")
	return cmd
}

// ── access / share / revoke ──────────────────────────────────────────────────

func (a *cli) accessCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "access <resource-id>",
		Short: "Log that you accessed a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("owner", owner); err != nil {
				return err
			}
			return a.mutation(cmd, func(ctx context.Context, c *client.Client) (*client.Event, error) {
				return c.LogAccess(ctx, args[0], owner)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner of the record (required)")
	return cmd
}

func (a *cli) shareCmd() *cobra.Command {
	var owner, recipient string
	cmd := &cobra.Command{
		Use:   "share <resource-id>",
		Short: "Log that the owner shared a record with a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("owner", owner); err != nil {
				return err
			}
			if err := requireFlag("recipient", recipient); err != nil {
				return err
			}
			return a.mutation(cmd, func(ctx context.Context, c *client.Client) (*client.Event, error) {
				return c.LogShareAccess(ctx, args[0], owner, recipient)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner of the record (required, must be the caller)")
	cmd.Flags().StringVar(&recipient, "recipient", "", "Identity receiving access (required)")
	return cmd
}

func (a *cli) revokeCmd() *cobra.Command {
	var owner, user string
	cmd := &cobra.Command{
		Use:   "revoke <resource-id>",
		Short: "Log that the owner revoked a user's access to a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("owner", owner); err != nil {
				return err
			}
			if err := requireFlag("user", user); err != nil {
				return err
			}
			return a.mutation(cmd, func(ctx context.Context, c *client.Client) (*client.Event, error) {
				return c.LogRevokeAccess(ctx, args[0], owner, user)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner of the record (required, must be the caller)")
	cmd.Flags().StringVar(&user, "user", "", "Identity losing access (required)")
	return cmd
}

// ── lookups ──────────────────────────────────────────────────────────────────

func (a *cli) lookup(cmd *cobra.Command, fn func(context.Context, *client.Client) error) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
	defer cancel()
	return fn(ctx, c)
}

func (a *cli) getCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "get <resource-id>",
		Short: "Show a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.lookup(cmd, func(ctx context.Context, c *client.Client) error {
				rec, err := c.GetRecord(ctx, args[0], owner)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.format == "json" {
					return printJSON(out, rec)
				}
				fmt.Fprintf(out, "Resource:      %s\n", rec.ResourceID)
				fmt.Fprintf(out, "Owner:         %s\n", rec.Owner)
				fmt.Fprintf(out, "Creator:       %s\n", rec.Creator)
				fmt.Fprintf(out, "Data hash:     %s\n", rec.DataHash)
				fmt.Fprintf(out, "Record ID:     %s\n", rec.RecordID)
				fmt.Fprintf(out, "Created:       %s\n", rec.CreatedAt.Format("2006-01-02T15:04:05.000000Z07:00"))
				fmt.Fprintf(out, "Last modified: %s\n", rec.LastModified.Format("2006-01-02T15:04:05.000000Z07:00"))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner of the record")
	return cmd
}

func (a *cli) existsCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "exists <resource-id>",
		Short: "Report whether a record exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.lookup(cmd, func(ctx context.Context, c *client.Client) error {
				ok, err := c.RecordExists(ctx, args[0], owner)
				if err != nil {
					return err
				}
				if a.format == "json" {
					return printJSON(cmd.OutOrStdout(), map[string]bool{"exists": ok})
				}
				fmt.Fprintln(cmd.OutOrStdout(), ok)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner of the record")
	return cmd
}

func (a *cli) recordIDCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "record-id <resource-id>",
		Short: "Print the correlation ID of (resource-id, owner)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.lookup(cmd, func(ctx context.Context, c *client.Client) error {
				id, err := c.RecordID(ctx, args[0], owner)
				if err != nil {
					return err
				}
				if a.format == "json" {
					return printJSON(cmd.OutOrStdout(), map[string]string{"record_id": id})
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner of the record")
	return cmd
}
