package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/weewx-zbxsender/bridge/internal/autostart"
	"github.com/weewx-zbxsender/bridge/internal/config"
	"github.com/weewx-zbxsender/bridge/internal/models"
	"github.com/weewx-zbxsender/bridge/internal/sender"
	"github.com/weewx-zbxsender/bridge/internal/source"
)

func newValidateCmd(flags *globalFlags) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and optionally probe the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if check {
				logger := initLogger(cfg, cmd.ErrOrStderr())
				defer logger.Sync()

				client, err := sender.New(cfg.Relay, logger)
				if err != nil {
					return err
				}
				if err := client.Check(cmd.Context()); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok (relay %s → %s)\n", cfg.Relay.Type, cfg.Relay.Target)
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "also check that the relay is reachable")
	return cmd
}

func newEncodeCmd(flags *globalFlags) *cobra.Command {
	var timestamps bool
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode packets from stdin and print the zabbix_sender input lines",
		Long: `encode reads weewx packets as newline-delimited JSON objects from stdin
and prints the lines that would be delivered, without contacting Zabbix.
Fields that cannot be encoded are reported on stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			logger := initLogger(cfg, cmd.ErrOrStderr())
			defer logger.Sync()

			enc, err := newEncoder(cfg)
			if err != nil {
				return err
			}

			var seq uint64
			reader := source.NewReader(cmd.InOrStdin(), cfg.Input.Source, nil, logger)
			err = reader.Run(cmd.Context(), func(obs models.Observation) {
				samples, skipped := enc.Encode(obs)
				for _, s := range skipped {
					fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %s\n", s.Field, s.Reason)
				}
				entries := make([]models.Entry, len(samples))
				for i, s := range samples {
					entries[i] = models.Entry{Sample: s}
				}
				seq++
				batch := models.Seal(seq, time.Now(), entries)
				cmd.OutOrStdout().Write(sender.EncodeLines(batch, timestamps))
			})
			if isInputClosed(err) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&timestamps, "timestamps", "T", false, "print sample clocks as zabbix_sender -T expects")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "zbxbridge %s\n", version)
		},
	}
}

func newInstallCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install and start the bridge as a system service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Input.Mode == config.InputStdin {
				return &models.ConfigError{Field: "input.mode",
					Err: errors.New("a service has no stdin; use nats or none")}
			}
			configPath := flags.configPath
			if configPath == "" {
				configPath = config.Locate()
			}
			if configPath == "" {
				return errors.New("no configuration file found; pass --config")
			}
			if configPath, err = filepath.Abs(configPath); err != nil {
				return err
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolving executable path: %w", err)
			}

			mgr := autostart.New()
			if err := mgr.Install(execPath, configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed and started %s\n", mgr.ServiceName())
			return nil
		},
	}
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the system service",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := autostart.New()
			installed, err := mgr.IsInstalled()
			if err != nil {
				return err
			}
			if !installed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not installed\n", mgr.ServiceName())
				return nil
			}
			if err := mgr.Uninstall(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", mgr.ServiceName())
			return nil
		},
	}
}
