package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jmylchreest/go-retitler/internal/archive"
	"github.com/jmylchreest/go-retitler/internal/config"
	"github.com/jmylchreest/go-retitler/internal/httpapi"
	"github.com/jmylchreest/go-retitler/internal/jobs"
	"github.com/jmylchreest/go-retitler/internal/llm"
	"github.com/jmylchreest/go-retitler/internal/outliers"
	"github.com/jmylchreest/go-retitler/internal/paperless"
	"github.com/jmylchreest/go-retitler/internal/pipeline"
	"github.com/jmylchreest/go-retitler/internal/schedule"
	"github.com/jmylchreest/go-retitler/internal/strikes"
	"github.com/jmylchreest/go-retitler/internal/vectorindex"
	"github.com/jmylchreest/go-retitler/internal/version"
	"github.com/jmylchreest/go-retitler/pkg/httpclient"
)

const shutdownTimeout = 15 * time.Second

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd, os.Stdout)
	if err != nil {
		return err
	}

	info := version.Get()
	logger.Info("starting go-retitler",
		"version", info.Version,
		"commit", info.Commit,
		"built", info.BuildDate,
		"data_dir", cfg.General.DataDir,
		"dry_run", cfg.General.DryRun,
	)
	if cfg.General.DryRun {
		logger.Info("running in DRY RUN mode - no titles will be changed")
	}

	docs, err := paperless.NewClient(paperless.ClientConfig{
		BaseURL:  cfg.Paperless.URL,
		Token:    cfg.Paperless.Token,
		Timeout:  cfg.Paperless.RequestTimeout,
		PageSize: cfg.Paperless.PageSize,
		SkipTLS:  cfg.Paperless.SkipTLSVerify,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("paperless client: %w", err)
	}
	defer docs.Close()
	if err := docs.Ping(ctx); err != nil {
		logger.Warn("paperless is not reachable yet", "url", cfg.Paperless.URL, "error", err)
	}

	llmHTTP := newLLMTransport(cfg.LLM.Timeout)
	defer llmHTTP.Close()

	gen, err := llm.NewClient(llm.Config{
		BaseURL:              cfg.LLM.BaseURL,
		APIKey:               cfg.LLM.APIKey,
		Model:                cfg.LLM.Model,
		VisionModel:          cfg.LLM.VisionModel,
		Language:             cfg.LLM.Language,
		PromptTemplate:       cfg.LLM.PromptTemplate,
		VisionPromptTemplate: cfg.LLM.VisionPromptTemplate,
		MaxContentTokens:     cfg.LLM.MaxContentTokens,
		ExampleTokens:        cfg.LLM.ExampleTokens,
		Timeout:              cfg.LLM.Timeout,
		MaxRetries:           cfg.LLM.MaxRetries,
		HTTPClient:           llmHTTP.Standard(),
		Logger:               logger,
	})
	if err != nil {
		return fmt.Errorf("llm client: %w", err)
	}

	index, store, err := openIndex(ctx, cfg, llmHTTP)
	if err != nil {
		return err
	}
	defer store.Close()
	if n, err := store.Count(ctx); err != nil {
		logger.Warn("could not count indexed documents", "error", err)
	} else {
		logger.Info("vector index ready", "table", cfg.VectorIndex.Table, "documents", n)
	}

	arch, err := archive.Open(cfg.Archive.Path)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	defer func() {
		if err := arch.Close(); err != nil {
			logger.Error("failed to close archive", "error", err)
		}
	}()

	pipe := pipeline.New(docs, gen, index, arch, pipeline.Config{
		DryRun:           cfg.General.DryRun,
		SimilarDocuments: cfg.VectorIndex.SimilarDocuments,
	}, logger)

	manager := jobs.NewManager(jobs.Config{
		BadTitle:   regexp.MustCompile(cfg.Jobs.BadTitleRegex),
		Workers:    cfg.Jobs.Workers,
		MaxStrikes: cfg.Jobs.MaxStrikes,
		PageSize:   cfg.Paperless.PageSize,
	}, jobs.Deps{
		Lister:    docs,
		Processor: pipe,
		Indexer:   index,
		Archive:   arch,
		Strikes:   strikes.NewHandler(filepath.Join(cfg.General.DataDir, "strikes.json"), logger),
	}, jobs.NewRegistry(cfg.Jobs.ProgressInterval), logger)
	defer manager.Close()

	if cfg.Scheduler.Enabled {
		sched := schedule.New(cfg.Scheduler.Cron, manager, logger)
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
	}

	ranker := outliers.NewRanker(index, cfg.VectorIndex.MaxConcurrency, logger)
	api := httpapi.New(manager, ranker, arch, httpapi.Config{
		DefaultWait: cfg.Server.DefaultWait,
		MaxWait:     cfg.Server.MaxWait,
		Checks: map[string]httpapi.Pinger{
			"paperless":    docs,
			"vector_index": store,
			"archive":      arch,
		},
	}, logger)

	return listen(ctx, cfg.Server.Addr, api.Router(), logger)
}

// listen serves until ctx is done, then shuts the server down
func listen(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server did not shut down cleanly", "error", err)
		_ = srv.Close()
	}
	return nil
}

// newLLMTransport builds the HTTP client shared by chat and embeddings. A
// single request may not outlive the generation timeout.
func newLLMTransport(timeout time.Duration) *httpclient.Client {
	c := httpclient.DefaultConfig()
	c.Timeout = timeout
	return httpclient.New(c)
}

// openIndex connects to pgvector and pairs it with the embedder
func openIndex(ctx context.Context, cfg *config.Config, transport *httpclient.Client) (*vectorindex.Service, *vectorindex.Store, error) {
	store, err := vectorindex.Open(ctx, cfg.VectorIndex.DSN, cfg.VectorIndex.Table, cfg.Embedding.Dimension)
	if err != nil {
		return nil, nil, fmt.Errorf("vector index: %w", err)
	}
	emb := llm.NewEmbedder(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimension, transport.Standard())
	return vectorindex.NewService(emb, store), store, nil
}
