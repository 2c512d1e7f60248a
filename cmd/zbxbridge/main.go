// Package main is the entry point for the weewx to Zabbix bridge.
// It reads weather packets, encodes them into Zabbix samples and forwards
// them in batches through zabbix_sender, the trapper protocol or the
// history.push API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weewx-zbxsender/bridge/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

// Exit codes.
const (
	exitError       = 1
	exitConfigError = 2
)

type globalFlags struct {
	configPath string
	cli        config.CLIOverrides
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "zbxbridge",
		Short: "Forward weewx observations to Zabbix",
		Long: `zbxbridge turns weewx weather packets into Zabbix item values.

Every observation field becomes one sample keyed <prefix><field>. Samples
are batched and delivered with retry and exponential backoff; values that
cannot be delivered are dropped and logged with the reason.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate("zbxbridge {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to the configuration file (default: search standard locations)")
	pf.StringVar(&flags.cli.RelayType, "relay", "", "relay transport: exec, trapper or history")
	pf.StringVar(&flags.cli.RelayTarget, "relay-target", "", "zabbix_sender path, trapper address or frontend URL")
	pf.StringVar(&flags.cli.SourceHost, "source-host", "", "Zabbix host name attached to every sample")
	pf.StringVar(&flags.cli.LogLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newRunCmd(flags),
		newValidateCmd(flags),
		newEncodeCmd(flags),
		newVersionCmd(),
		newInstallCmd(flags),
		newUninstallCmd(),
	)
	return root
}

// loadConfig loads and validates the layered configuration.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadLayered(f.cli, f.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "zbxbridge: %v\n", err)
		if config.IsConfigError(err) {
			os.Exit(exitConfigError)
		}
		os.Exit(exitError)
	}
}
