package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hrygo/punctuator/cache"
	"github.com/hrygo/punctuator/internal/logging"
	"github.com/hrygo/punctuator/internal/profile"
	"github.com/hrygo/punctuator/internal/version"
	"github.com/hrygo/punctuator/metrics"
	"github.com/hrygo/punctuator/punct"
	"github.com/hrygo/punctuator/punct/labeler"
	"github.com/hrygo/punctuator/server"
	"github.com/hrygo/punctuator/worker"
)

var (
	rootCmd = &cobra.Command{
		Use:   "punctuator",
		Short: "Restores punctuation and capitalization of text sent as JSON lines on stdin.",
		Long: `punctuator reads {"text","taskId"} requests from stdin, one per line, and
writes one {"isSuccess",...,"taskId"} response per line to stdout until stdin
is closed. Diagnostics go to stderr.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Systemd units provide their environment themselves.
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context())
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.StringFull())
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of the worker, "prod" or "dev"`)
	flags.String("labeler", profile.LabelerProcess, "labeler backend: process, http, llm or rule")
	flags.String("labeler-command", "python3", "process labeler: model host executable")
	flags.StringSlice("labeler-args", []string{"scripts/punct_labeler.py"}, "process labeler: model host arguments")
	flags.String("labeler-dir", "", "process labeler: model host working directory")
	flags.String("labeler-url", "", "http labeler: base url of the model server")
	flags.Float64("labeler-rps", 0, "http labeler: max predictions per second, 0 = unlimited")
	flags.Duration("labeler-timeout", 0, "timeout of one prediction, 0 = none")
	flags.Duration("labeler-startup-timeout", 5*time.Minute, "time allowed for the model to load")
	flags.Int("chunk-size", profile.DefaultChunkSize, "llm labeler: words per request")
	flags.Bool("capitalize", true, "capitalize sentence starts")
	flags.Int("cache-size", 256, "entries in the label cache, 0 disables it")
	flags.Duration("cache-ttl", 10*time.Minute, "lifetime of label cache entries")
	flags.String("http-addr", "", "address of the diagnostics server (/metrics, /healthz), empty = off")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json, empty = json in prod mode, text otherwise")
	flags.Bool("mirror-io", false, "log every request and response line")
	flags.Int("mirror-max-len", 200, "truncate mirrored lines to this many characters")

	flags.VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	})

	viper.SetEnvPrefix("punctuator")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.AddCommand(versionCmd, restoreCmd)
}

// loadProfile builds the validated profile from flags, environment and .env.
func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:                  viper.GetString("mode"),
		Labeler:               viper.GetString("labeler"),
		LabelerCommand:        viper.GetString("labeler-command"),
		LabelerArgs:           viper.GetStringSlice("labeler-args"),
		LabelerDir:            viper.GetString("labeler-dir"),
		LabelerURL:            viper.GetString("labeler-url"),
		LabelerRPS:            viper.GetFloat64("labeler-rps"),
		LabelerTimeout:        viper.GetDuration("labeler-timeout"),
		LabelerStartupTimeout: viper.GetDuration("labeler-startup-timeout"),
		ChunkSize:             viper.GetInt("chunk-size"),
		Capitalize:            viper.GetBool("capitalize"),
		CacheSize:             viper.GetInt("cache-size"),
		CacheTTL:              viper.GetDuration("cache-ttl"),
		HTTPAddr:              viper.GetString("http-addr"),
		LogLevel:              viper.GetString("log-level"),
		LogFormat:             viper.GetString("log-format"),
		MirrorIO:              viper.GetBool("mirror-io"),
		MirrorMaxLen:          viper.GetInt("mirror-max-len"),
		Version:               version.String(),
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return p, nil
}

// newRestorer loads the labeler selected by p.
func newRestorer(ctx context.Context, p *profile.Profile, exporter *metrics.Exporter, logger *slog.Logger) (*punct.Restorer, error) {
	l, err := labeler.New(ctx, p, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "initialize %s labeler", p.Labeler)
	}

	opts := []punct.RestorerOption{punct.WithMetrics(exporter), punct.WithLogger(logger)}
	if p.CacheSize > 0 {
		c := cache.New[string, []punct.LabeledWord](p.CacheSize, p.CacheTTL)
		opts = append(opts, punct.WithCache(c), punct.WithCacheSweep(p.CacheTTL))
		logger.Debug("label cache enabled", "capacity", c.Capacity(), "ttl", p.CacheTTL.String())
	}
	return punct.NewRestorer(l, punct.NewReconstructor(p.Capitalize), opts...), nil
}

func runWorker(ctx context.Context) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, p.LogLevel, p.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	if !version.IsValid(version.Version) {
		logger.Warn("build version is not a semantic version", "version", version.Version)
	}

	logger.Info("starting punctuator",
		"version", p.Version,
		"mode", p.Mode,
		"labeler", p.Labeler,
		"capitalize", p.Capitalize,
		"cache_size", p.CacheSize)

	exporter := metrics.NewExporter(metrics.DefaultConfig())

	var diag *server.Server
	if p.HTTPAddr != "" {
		diag = server.New(exporter, logger)
		if _, err := diag.Start(p.HTTPAddr); err != nil {
			return err
		}
	}

	start := time.Now()
	restorer, err := newRestorer(ctx, p, exporter, logger)
	if err != nil {
		shutdownServer(diag)
		return err
	}
	logger.Info("labeler loaded", "labeler", p.Labeler, "startup_ms", time.Since(start).Milliseconds())
	if diag != nil {
		diag.MarkReady(p.Labeler)
	}

	// Reading stdin cannot be interrupted, so a signal ends the process here.
	c := make(chan os.Signal, 1)
	signal.Notify(c, terminationSignals...)
	go func() {
		sig := <-c
		logger.Warn("received signal, shutting down", "signal", sig.String())
		_ = restorer.Close()
		shutdownServer(diag)
		os.Exit(1)
	}()

	opts := []worker.Option{
		worker.WithLogger(logger),
		worker.WithMetrics(exporter),
		worker.WithStackTraces(p.IsDev()),
	}
	if p.MirrorIO {
		opts = append(opts, worker.WithMirror(p.MirrorMaxLen))
	}
	serveErr := worker.New(restorer, opts...).Serve(ctx, os.Stdin, os.Stdout)

	signal.Stop(c)
	if summary, err := exporter.ExportText(); err == nil {
		logger.Debug("final metrics", "summary", summary)
	}
	if err := restorer.Close(); err != nil {
		logger.Warn("failed to close labeler", "error", err)
	}
	shutdownServer(diag)
	return serveErr
}

func shutdownServer(s *server.Server) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		slog.Warn("failed to stop diagnostics server", "error", err)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
