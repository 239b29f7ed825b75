package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hurttlocker/senseline/internal/batch"
	"github.com/hurttlocker/senseline/internal/collab"
	"github.com/hurttlocker/senseline/internal/config"
	"github.com/hurttlocker/senseline/internal/embed"
	"github.com/hurttlocker/senseline/internal/llm"
	"github.com/hurttlocker/senseline/internal/pipeline"
	"github.com/hurttlocker/senseline/internal/store"
)

const version = "0.1.0-dev"

var (
	flagConfig string
	flagDB     string
	flagLLM    string
	flagEmbed  string
)

var rootCmd = &cobra.Command{
	Use:   "senseline",
	Short: "Incremental topic discovery and assignment for article streams",
	Long: `Senseline groups short incoming documents into named topic lines.
Each run discovers new lines, merges duplicates against the persisted
registry, and assigns every document it can to exactly one line.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.senseline/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database file override")
	rootCmd.PersistentFlags().StringVar(&flagLLM, "llm", "", "LLM collaborator as provider/model, or \"none\"")
	rootCmd.PersistentFlags().StringVar(&flagEmbed, "embed", "", "embedding provider: onnx, http, or \"none\"")
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func resolveConfig() (config.Resolved, error) {
	return config.Resolve(config.ResolveOptions{
		ConfigPath: flagConfig,
		CLIDBPath:  flagDB,
		CLILLM:     flagLLM,
		CLIEmbed:   flagEmbed,
	})
}

func openStore(cfg config.Resolved) (*store.Store, error) {
	s, err := store.Open(cfg.DBPath.Value)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", cfg.DBPath.Value, err)
	}
	return s, nil
}

// buildOptions assembles the orchestrator collaborators from resolved
// config. Everything is optional; with nothing configured the engine runs
// on its deterministic fallbacks alone.
func buildOptions(cfg config.Resolved) ([]pipeline.Option, error) {
	var opts []pipeline.Option

	switch cfg.EmbedProvider.Value {
	case "", "none":
	case "onnx":
		e, err := embed.NewONNXEmbedder(embed.ONNXConfig{
			ModelPath:     cfg.ONNXModel.Value,
			TokenizerPath: cfg.TokenizerPath.Value,
		})
		if err != nil {
			return nil, fmt.Errorf("onnx embedder: %w", err)
		}
		opts = append(opts, pipeline.WithEmbedder(embed.AsSignal(e, nil)))
	default:
		client, err := embed.NewClient(embed.Config{
			Provider:    cfg.EmbedProvider.Value,
			Model:       cfg.EmbedModel.Value,
			Endpoint:    cfg.EmbedEndpoint.Value,
			APIKey:      cfg.EmbedAPIKey.Value,
			MaxRetries:  3,
			TimeoutSecs: 30,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding client: %w", err)
		}
		opts = append(opts, pipeline.WithEmbedder(embed.AsSignal(client, nil)))
	}

	if cfg.TokenizerPath.Value != "" {
		counter, err := batch.NewHFCounter(cfg.TokenizerPath.Value)
		if err != nil {
			return nil, fmt.Errorf("token counter: %w", err)
		}
		opts = append(opts, pipeline.WithTokenCounter(counter))
	}

	if v := cfg.LLMProvider.Value; v != "" && v != "none" {
		llmCfg, err := llm.ParseFlag(v)
		if err != nil {
			return nil, err
		}
		provider, err := llm.NewProvider(llmCfg)
		if err != nil {
			return nil, fmt.Errorf("llm provider: %w", err)
		}
		opts = append(opts,
			pipeline.WithClassifier(collab.NewLineClassifier(provider)),
			pipeline.WithProposer(collab.NewGroupProposer(provider)),
			pipeline.WithTieBreaker(collab.NewMergeTieBreaker(provider)),
			pipeline.WithSynthesizer(collab.NewLineSynthesizer(provider)),
		)
	}

	return opts, nil
}
