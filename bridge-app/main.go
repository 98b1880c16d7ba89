package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/universe-player/bridge/bridge-app/config"
	"github.com/universe-player/bridge/log"
	"github.com/universe-player/bridge/x/bridge"
	"github.com/universe-player/bridge/x/logqueue"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:           "bridge",
		Short:         "Universe Player companion bridge",
		Long:          banner + "\n\nLaunches the player companion and relays commands, results and updates over a framed channel.",
		RunE:          runApp,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Launch the companion and measure round trips",
		Args:  cobra.NoArgs,
		RunE:  runPing,
	}

	queryCmd = &cobra.Command{
		Use:   "query <url>",
		Short: "Ask the companion for song metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	configPrintCmd = &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  runConfigPrint,
	}
)

const banner = `
╦ ╦╔╗╔╦╦  ╦╔═╗╦═╗╔═╗╔═╗
║ ║║║║║╚╗╔╝║╣ ╠╦╝╚═╗║╣
╚═╝╝╚╝╩ ╚╝ ╚═╝╩╚═╚═╝╚═╝
╔╗ ╦═╗╦╔╦╗╔═╗╔═╗
╠╩╗╠╦╝║ ║║║ ╦║╣
╚═╝╩╚═╩═╩╝╚═╝╚═╝`

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	initCommands()
	return rootCmd.Execute()
}

func initCommands() {
	rootCmd.AddCommand(versionCmd, pingCmd, queryCmd, configCmd)
	configCmd.AddCommand(configPrintCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "bridge-app/configs/config.yaml", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "enable pretty logging")

	// Companion flags
	rootCmd.PersistentFlags().String("companion-mode", "", "how the companion is reached (process, socket, stdio)")
	rootCmd.PersistentFlags().String("companion-path", "", "companion executable")
	rootCmd.PersistentFlags().StringSlice("companion-args", nil, "companion arguments")
	rootCmd.PersistentFlags().String("codec", "", "wire codec (json, protobuf)")
	rootCmd.PersistentFlags().String("byte-order", "", "frame length byte order (native, little, big)")
	rootCmd.PersistentFlags().Duration("command-timeout", 0, "default command timeout")
	rootCmd.PersistentFlags().Bool("serial", false, "send one command at a time")

	// Service flags
	rootCmd.PersistentFlags().Bool("api", false, "enable the HTTP control API")
	rootCmd.PersistentFlags().String("api-addr", "", "HTTP control API listen address")
	rootCmd.PersistentFlags().Bool("metrics", false, "enable metrics")
	rootCmd.PersistentFlags().String("metrics-addr", "", "metrics listen address when the API is disabled")
	rootCmd.PersistentFlags().Bool("heartbeat", true, "ping the companion periodically")
	rootCmd.PersistentFlags().Bool("forward-logs", false, "forward host logs to the companion")

	pingCmd.Flags().Int("count", 3, "number of pings")
	pingCmd.Flags().Duration("timeout", 0, "per-ping timeout (defaults to the command timeout)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func runApp(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// stdout belongs to the companion channel in stdio mode.
	if cfg.Companion.Mode != config.ModeStdio {
		fmt.Fprintln(os.Stderr, banner)
		fmt.Fprintln(os.Stderr)
	}

	var queue *logqueue.Queue
	var logger *log.Logger
	if cfg.LogForward.Enabled {
		lvl, _ := zerolog.ParseLevel(cfg.LogForward.Level)
		queue = logqueue.NewQueue(cfg.LogForward.Capacity)
		logger = log.New(cfg.Log.Level, cfg.Log.Pretty,
			logqueue.NewWriter(queue, lvl, logqueue.ComponentName, bridge.CompanionLogComponent))
	} else {
		logger = log.New(cfg.Log.Level, cfg.Log.Pretty)
	}

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("go_version", runtime.Version()).
		Msg("Build information")

	logger.Info().
		Str("config_file", cfgFile).
		Str("companion_mode", cfg.Companion.Mode).
		Str("companion_path", cfg.Companion.Path).
		Str("codec", cfg.Transport.Codec).
		Bool("api_enabled", cfg.API.Enabled).
		Bool("metrics_enabled", cfg.Metrics.Enabled).
		Bool("heartbeat_enabled", cfg.Heartbeat.Enabled).
		Bool("log_forward_enabled", cfg.LogForward.Enabled).
		Str("log_level", cfg.Log.Level).
		Msg("Configuration loaded")

	application, err := NewApp(cmd.Context(), cfg, logger.Logger, queue)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(cmd.Context())
}

// oneShot launches the companion, runs fn against a running bridge and stops it.
func oneShot(cmd *cobra.Command, fn func(ctx context.Context, b *bridge.Bridge, cfg *config.Config) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	b, err := newBridge(ctx, cfg, launcher(cfg), logger.Logger)
	if err != nil {
		return err
	}
	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	select {
	case <-b.Ready():
	case err := <-runErr:
		_ = b.Stop()
		return err
	}

	err = fn(ctx, b, cfg)
	if stopErr := b.Stop(); stopErr != nil {
		logger.Debug().Err(stopErr).Msg("Companion did not exit cleanly")
	}
	return err
}

func runPing(cmd *cobra.Command, _ []string) error {
	count, _ := cmd.Flags().GetInt("count")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	return oneShot(cmd, func(ctx context.Context, b *bridge.Bridge, cfg *config.Config) error {
		if timeout <= 0 {
			timeout = cfg.Bridge.CommandTimeout
		}
		out := cmd.OutOrStdout()
		for i := 0; i < count; i++ {
			start := time.Now()
			res, err := b.PingNumber(ctx, i, timeout)
			if err != nil {
				return fmt.Errorf("ping %d: %w", i, err)
			}
			if err := res.Err(); err != nil {
				return fmt.Errorf("ping %d: %w", i, err)
			}
			fmt.Fprintf(out, "seq=%d value=%s time=%s\n", i, res.Value.Raw(), time.Since(start).Round(time.Microsecond))
		}
		return nil
	})
}

func runQuery(cmd *cobra.Command, args []string) error {
	return oneShot(cmd, func(ctx context.Context, b *bridge.Bridge, cfg *config.Config) error {
		res, err := b.QuerySongData(ctx, args[0], cfg.Bridge.CommandTimeout)
		if err != nil {
			return err
		}
		if err := res.Err(); err != nil {
			return err
		}
		var meta any
		if err := res.Value.Decode(&meta); err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(meta)
	})
}

func runConfigPrint(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

func runVersion(cmd *cobra.Command, _ []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, banner)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Universe Player Bridge\n")
	fmt.Fprintf(out, "Version:    %s\n", Version)
	fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
	fmt.Fprintf(out, "Go Version: %s\n", runtime.Version())
	fmt.Fprintf(out, "OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-pretty") {
		cfg.Log.Pretty, _ = flags.GetBool("log-pretty")
	}

	if flags.Changed("companion-mode") {
		cfg.Companion.Mode, _ = flags.GetString("companion-mode")
	}
	if flags.Changed("companion-path") {
		cfg.Companion.Path, _ = flags.GetString("companion-path")
	}
	if flags.Changed("companion-args") {
		cfg.Companion.Args, _ = flags.GetStringSlice("companion-args")
	}
	if flags.Changed("codec") {
		cfg.Transport.Codec, _ = flags.GetString("codec")
	}
	if flags.Changed("byte-order") {
		cfg.Transport.ByteOrder, _ = flags.GetString("byte-order")
	}
	if flags.Changed("command-timeout") {
		cfg.Bridge.CommandTimeout, _ = flags.GetDuration("command-timeout")
	}
	if flags.Changed("serial") {
		cfg.Bridge.SerialRequests, _ = flags.GetBool("serial")
	}

	if flags.Changed("api") {
		cfg.API.Enabled, _ = flags.GetBool("api")
	}
	if flags.Changed("api-addr") {
		cfg.API.ListenAddr, _ = flags.GetString("api-addr")
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Enabled, _ = flags.GetBool("metrics")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.ListenAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("heartbeat") {
		cfg.Heartbeat.Enabled, _ = flags.GetBool("heartbeat")
	}
	if flags.Changed("forward-logs") {
		cfg.LogForward.Enabled, _ = flags.GetBool("forward-logs")
	}
}
