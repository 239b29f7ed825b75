package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/senseline/internal/feed"
	"github.com/hurttlocker/senseline/internal/pipeline"
	"github.com/hurttlocker/senseline/internal/store"
)

var (
	runReconcile   bool
	runForceAssign bool
	runDryRun      bool
)

var runCmd = &cobra.Command{
	Use:   "run [documents.json]",
	Short: "Process documents through discovery, merge and assignment",
	Long: `Reads an array of documents ({id, title, summary, region,
importance}) from the given JSON or YAML file, or JSON from stdin when
the path is "-" or omitted. The persisted topic registry seeds the run;
the updated lines and assignments are written back and the result
printed as JSON.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runReconcile, "reconcile", false, "re-score all documents against the final lines")
	runCmd.Flags().BoolVar(&runForceAssign, "force-assign", false, "with --reconcile, assign the best line even below threshold")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print the result without persisting anything")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	articles, err := readArticles(args)
	if err != nil {
		return err
	}
	if len(articles) == 0 {
		return fmt.Errorf("no documents in input")
	}

	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	engineCfg := cfg.Engine
	if runReconcile {
		engineCfg.Reconcile = true
	}
	if runForceAssign {
		engineCfg.Reconcile = true
		engineCfg.ForceAssign = true
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	seed, err := st.LoadLines(ctx)
	if err != nil {
		return err
	}
	prior, err := st.LoadAssignments(ctx)
	if err != nil {
		return err
	}

	opts, err := buildOptions(cfg)
	if err != nil {
		return err
	}
	opts = append(opts, pipeline.WithSeedRegistry(seed))

	orch, err := pipeline.New(engineCfg, opts...)
	if err != nil {
		return err
	}

	started := time.Now()
	result, err := orch.Run(ctx, articles)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if !runDryRun {
		merged := feed.OverlayAssignments(prior, result.Assignments, result.Lines)
		if err := st.SaveState(ctx, result.Lines, merged); err != nil {
			return fmt.Errorf("saving state: %w", err)
		}
		statsJSON, _ := json.Marshal(result.Stats)
		err = st.RecordRun(ctx, store.Run{
			ID:         result.Stats.RunID,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Documents:  result.Stats.Documents,
			Lines:      result.Stats.Lines,
			Batches:    result.Stats.Batches,
			Merged:     result.Stats.Merged,
			StatsJSON:  string(statsJSON),
		})
		if err != nil {
			return fmt.Errorf("recording run: %w", err)
		}
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func readArticles(args []string) ([]feed.Article, error) {
	var raw []byte
	var err error
	path := "-"
	if len(args) > 0 {
		path = args[0]
	}
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
	} else {
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	var articles []feed.Article
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &articles); err != nil {
			return nil, fmt.Errorf("parsing documents YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &articles); err != nil {
			return nil, fmt.Errorf("parsing documents JSON: %w", err)
		}
	}
	return articles, nil
}
