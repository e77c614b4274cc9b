package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alexey-f/origin-server/pkg/config"
	"github.com/alexey-f/origin-server/pkg/proxy"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "portproxy",
		Short: "portproxy - persistent iptables TCP port forwarding",
		Long: "Maps host TCP ports to ip:port targets with iptables DNAT rules, applied live " +
			"and persisted to the rule files replayed at boot.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return errors.New("a command is required")
		},
		// Argument errors print usage; failures after that only print the error.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SilenceUsage = true
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "path to config file")

	rootCmd.AddCommand(newAddProxyCommand())
	rootCmd.AddCommand(newRemoveProxyCommand())
	rootCmd.AddCommand(newShowProxyCommand())
	rootCmd.AddCommand(newFixAddrCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newAddProxyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "addproxy <port> <ip:port> [<port> <ip:port>...]",
		Short: "Forward host ports to targets",
		Args:  pairArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, func(ctrl *proxy.Controller) error {
				return ctrl.AddProxies(args)
			})
		},
	}
}

func newRemoveProxyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "removeproxy <port> [<port>...]",
		Short: "Remove the forwarding of host ports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, func(ctrl *proxy.Controller) error {
				return ctrl.RemoveProxies(args)
			})
		},
	}
}

func newShowProxyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "showproxy <port> [<port>...]",
		Short: "Print the target of forwarded host ports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, func(ctrl *proxy.Controller) error {
				return ctrl.ShowProxies(cmd.OutOrStdout(), args)
			})
		},
	}
}

func newFixAddrCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fixaddr",
		Short: "Rewrite persisted nat rules to the current host address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, func(ctrl *proxy.Controller) error {
				return ctrl.FixAddr()
			})
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "portproxy version %s\n", version)
		},
	}
}

// pairArgs accepts one or more <port> <ip:port> pairs.
func pairArgs(cmd *cobra.Command, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("requires at least 2 arg(s), only received %d", len(args))
	}
	if len(args)%2 != 0 {
		return fmt.Errorf("requires <port> <ip:port> pairs, received %d arg(s)", len(args))
	}
	return nil
}

// withController loads the configuration, builds a Controller and runs fn.
func withController(cmd *cobra.Command, fn func(*proxy.Controller) error) error {
	// An explicitly given config file must exist; the default one is optional.
	cfg, err := config.Load(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg.Global.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Debug("running command",
		zap.String("command", cmd.Name()),
		zap.String("version", version),
		zap.String("config", configPath),
	)

	ctrl, err := proxy.NewController(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	return fn(ctrl)
}

// newLogger creates a production zap logger with console encoding for readability.
// Output goes to stderr so that stdout carries only command results.
func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	loggerConfig := zap.Config{
		Level:            atomicLevel,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
