package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jmylchreest/go-retitler/internal/outliers"
)

func outliersAction(ctx context.Context, cmd *cli.Command) error {
	format := cmd.String("format")
	if format != "json" && format != "table" {
		return fmt.Errorf("unknown format %q (want json or table)", format)
	}

	// stdout carries the result
	cfg, logger, err := setup(cmd, os.Stderr)
	if err != nil {
		return err
	}

	transport := newLLMTransport(cfg.LLM.Timeout)
	defer transport.Close()

	index, store, err := openIndex(ctx, cfg, transport)
	if err != nil {
		return err
	}
	defer store.Close()

	scores, err := outliers.NewRanker(index, cfg.VectorIndex.MaxConcurrency, logger).
		Rank(ctx, cmd.Int("k"), cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("rank outliers: %w", err)
	}

	if format == "table" {
		return renderOutliers(os.Stdout, scores)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"count":    len(scores),
		"outliers": scores,
	})
}

func renderOutliers(w io.Writer, scores []outliers.Score) error {
	table := tablewriter.NewWriter(w)
	table.Header("Rank", "Document", "Title", "Score")
	for i, s := range scores {
		if err := table.Append(
			strconv.Itoa(i+1),
			s.DocumentID,
			s.Title,
			strconv.FormatFloat(s.Score, 'f', 4, 64),
		); err != nil {
			return err
		}
	}
	return table.Render()
}
