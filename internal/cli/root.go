// Package cli implements escrowctl, the operator command line for a
// safetransfer server.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mbd888/safetransfer/internal/apiclient"
	"github.com/mbd888/safetransfer/internal/signing"
)

// EnvPrefix namespaces environment overrides, e.g. ESCROWCTL_API_URL.
const EnvPrefix = "ESCROWCTL"

type app struct {
	v   *viper.Viper
	out io.Writer
}

// Execute runs escrowctl with os.Args and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree. Each call gets its own viper
// instance so commands can be run repeatedly in tests.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "escrowctl",
		Short: "Drive two-party token escrows on a safetransfer server",
		Long: `escrowctl signs and submits escrow requests (initialize, complete,
pull-back) and inspects records and balances.

Settings come from flags, ESCROWCTL_* environment variables, or an
escrowctl.yaml file in the working directory or ~/.config/safetransfer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()
			return a.loadConfig()
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default escrowctl.yaml)")
	pf.String("api-url", "http://localhost:8080", "safetransfer server base URL")
	pf.String("key-file", "", "file holding the hex private key used to sign")
	pf.String("key", "", "hex private key used to sign (prefer --key-file)")
	pf.String("scheme", "schnorr", "signature scheme: schnorr or recoverable")
	pf.String("program", "safetransfer", "program name for offline derivation")
	pf.StringP("output", "o", "text", "output format: text or json")
	_ = a.v.BindPFlags(pf)

	root.AddCommand(
		a.keygenCmd(),
		a.deriveCmd(),
		a.initCmd(),
		a.completeCmd(),
		a.pullBackCmd(),
		a.showCmd(),
		a.balanceCmd(),
		a.fundCmd(),
	)
	return root
}

func (a *app) loadConfig() error {
	a.v.SetEnvPrefix(EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	explicit := a.v.GetString("config")
	if explicit != "" {
		a.v.SetConfigFile(explicit)
	} else {
		a.v.SetConfigName("escrowctl")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			a.v.AddConfigPath(home + "/.config/safetransfer")
		}
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	switch a.v.GetString("output") {
	case "text", "json":
	default:
		return fmt.Errorf("--output must be text or json, got %q", a.v.GetString("output"))
	}
	return nil
}

func (a *app) client() *apiclient.Client {
	return apiclient.New(a.v.GetString("api-url"))
}

func (a *app) scheme() (signing.Scheme, error) {
	return signing.ParseScheme(a.v.GetString("scheme"))
}

// signingKey loads the key from --key, or --key-file when --key is unset.
func (a *app) signingKey() (*signing.Key, error) {
	if hex := a.v.GetString("key"); hex != "" {
		return signing.KeyFromHex(hex)
	}
	path := a.v.GetString("key-file")
	if path == "" {
		return nil, errors.New("no signing key: set --key-file or ESCROWCTL_KEY_FILE")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return signing.KeyFromHex(string(raw))
}
