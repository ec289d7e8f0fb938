package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jmylchreest/go-retitler/internal/config"
	"github.com/jmylchreest/go-retitler/internal/logging"
	"github.com/jmylchreest/go-retitler/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commonFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to config file (default: ./config.yaml or /app/config.yaml)",
		},
		&cli.StringFlag{
			Name:  "data",
			Usage: "Directory for persistent data (strikes, archive); overrides general.data_dir",
		},
	}

	app := &cli.Command{
		Name:    "go-retitler",
		Usage:   "Retitle Paperless-ngx documents with a language model",
		Version: version.Version,
		Flags:   commonFlags,
		Action:  serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and scheduler (default)",
				Flags:  commonFlags,
				Action: serveAction,
			},
			{
				Name:  "outliers",
				Usage: "Print the most isolated documents in the vector index",
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "k",
						Usage: "Number of neighbours to average over",
						Value: 5,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of documents to print",
						Value: 50,
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format: json or table",
						Value: "json",
					},
				}, commonFlags...),
				Action: outliersAction,
			},
			{
				Name:   "version",
				Usage:  "Show version and exit",
				Action: versionAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("go-retitler failed", "error", err)
		os.Exit(1)
	}
}

func versionAction(_ context.Context, _ *cli.Command) error {
	info := version.Get()
	fmt.Printf("go-retitler %s\n", info.Version)
	fmt.Printf("  Commit:     %s\n", info.Commit)
	fmt.Printf("  Built:      %s\n", info.BuildDate)
	fmt.Printf("  Go version: %s\n", info.GoVersion)
	fmt.Printf("  OS/Arch:    %s\n", info.Platform)
	return nil
}

// setup loads configuration and installs the process logger writing to w
func setup(cmd *cli.Command, w io.Writer) (*config.Config, *slog.Logger, error) {
	if dir := cmd.String("data"); dir != "" {
		if err := os.Setenv(config.EnvPrefix+"_GENERAL_DATA_DIR", dir); err != nil {
			return nil, nil, fmt.Errorf("set data dir: %w", err)
		}
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// env vars override config
	logLevel := cfg.General.LogLevel
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		logLevel = envLevel
	}
	logFormat := cfg.General.LogFormat
	if envFormat := os.Getenv("LOG_FORMAT"); envFormat != "" {
		logFormat = envFormat
	}
	logger := logging.New(w, logLevel, logFormat)
	for _, kind := range cfg.General.DebugJobs {
		logging.AddJobFilter(kind)
	}

	return cfg, logger, nil
}
