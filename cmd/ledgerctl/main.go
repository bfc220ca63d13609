package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/TriageLedger/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

const defaultLedgerURL = "http://localhost:8080"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the persistent flags and config shared by every subcommand.
type cli struct {
	cfg       *viper.Viper
	cfgFile   string
	ledgerURL string
	token     string
	format    string
	timeout   time.Duration
}

func newRootCmd() *cobra.Command {
	app := &cli{cfg: viper.New()}

	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Triage audit ledger CLI",
		Long: `ledgerctl talks to a ledgerd server.

It files record fingerprints, logs access, sharing and revocation, replays
the audit event log and runs administrator operations. Clinical payloads
never leave this machine: --file hashes them locally and only the digest
is sent.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.loadConfig()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&app.cfgFile, "config", "", "config file (default ~/.ledgerctl/config.yaml)")
	pf.StringVar(&app.ledgerURL, "ledger", "", "ledgerd base URL (default "+defaultLedgerURL+")")
	pf.StringVar(&app.token, "token", "", "caller bearer token (default from config or LEDGERCTL_TOKEN)")
	pf.StringVar(&app.format, "format", "text", "Output format: text or json")
	pf.DurationVar(&app.timeout, "timeout", 30*time.Second, "Request timeout")

	root.AddCommand(
		app.tokenCmd(),
		app.createCmd(), app.updateCmd(), app.deleteCmd(), app.forceDeleteCmd(),
		app.accessCmd(), app.shareCmd(), app.revokeCmd(),
		app.getCmd(), app.existsCmd(), app.recordIDCmd(),
		app.eventsCmd(), app.statusCmd(), app.verifyCmd(),
		app.pauseCmd(), app.unpauseCmd(), app.transferAdminCmd(), app.renounceAdminCmd(),
		fingerprintCmd(),
		versionCmd(),
	)
	return root
}

func (a *cli) configPath() string {
	if a.cfgFile != "" {
		return a.cfgFile
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ledgerctl", "config.yaml")
}

func (a *cli) loadConfig() error {
	a.cfg.SetConfigFile(a.configPath())
	a.cfg.SetConfigType("yaml")
	a.cfg.SetEnvPrefix("ledgerctl")
	a.cfg.AutomaticEnv()
	if err := a.cfg.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	if a.ledgerURL == "" {
		a.ledgerURL = a.cfg.GetString("ledger_url")
	}
	if a.ledgerURL == "" {
		a.ledgerURL = defaultLedgerURL
	}
	if a.token == "" {
		a.token = a.cfg.GetString("token")
	}
	if a.format != "text" && a.format != "json" {
		return fmt.Errorf("--format must be text or json, got %q", a.format)
	}
	return nil
}

// saveToken persists token to the config file so later calls pick it up.
func (a *cli) saveToken(token string) (string, error) {
	path := a.configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	a.cfg.Set("token", token)
	if a.cfg.GetString("ledger_url") == "" {
		a.cfg.Set("ledger_url", a.ledgerURL)
	}
	if err := a.cfg.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func (a *cli) client() (*client.Client, error) {
	var opts []client.Option
	if a.token != "" {
		opts = append(opts, client.WithBearerToken(a.token))
	}
	return client.New(a.ledgerURL, opts...)
}

// authedClient is client() for commands that need a caller token.
func (a *cli) authedClient() (*client.Client, error) {
	if a.token == "" {
		return nil, errors.New("no caller token: run 'ledgerctl token <identity> --save' or pass --token")
	}
	return a.client()
}

// ── output ───────────────────────────────────────────────────────────────────

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *cli) printEvent(cmd *cobra.Command, ev *client.Event) error {
	out := cmd.OutOrStdout()
	if a.format == "json" {
		return printJSON(out, ev)
	}
	fmt.Fprintf(out, "✓ %s (seq %d)\n\n", ev.Kind, ev.Seq)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  Resource:\t%s\n", ev.ResourceID)
	if ev.Owner != "" {
		fmt.Fprintf(w, "  Owner:\t%s\n", ev.Owner)
	}
	fmt.Fprintf(w, "  Actor:\t%s\n", ev.Actor)
	if ev.Subject != "" {
		fmt.Fprintf(w, "  Subject:\t%s\n", ev.Subject)
	}
	if ev.DataHash != "" && ev.Kind != "deleted" && ev.Kind != "accessed" {
		fmt.Fprintf(w, "  Data hash:\t%s\n", ev.DataHash)
	}
	fmt.Fprintf(w, "  Event ID:\t%s\n", ev.ID)
	fmt.Fprintf(w, "  Hash:\t%s\n", ev.Hash)
	return w.Flush()
}

func printEventTable(out io.Writer, events []client.Event) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tKIND\tRESOURCE\tOWNER\tACTOR\tSUBJECT\tTIME")
	fmt.Fprintln(w, "---\t----\t--------\t-----\t-----\t-------\t----")
	for _, ev := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Seq, ev.Kind, dash(ev.ResourceID), dash(ev.Owner), dash(ev.Actor), dash(ev.Subject),
			ev.Timestamp.Format(time.RFC3339))
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ledgerctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ledgerctl %s\n", version)
		},
	}
}
