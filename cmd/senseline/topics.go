package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var topicsJSON bool

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the current topic lines",
	Args:  cobra.NoArgs,
	RunE:  runTopics,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent pipeline runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	topicsCmd.Flags().BoolVar(&topicsJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(runsCmd)
}

func runTopics(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	lines, err := st.LoadLines(ctx)
	if err != nil {
		return err
	}
	counts, err := st.CountByLine(ctx)
	if err != nil {
		return err
	}

	if topicsJSON {
		data, err := json.MarshalIndent(lines, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding topics: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(lines) == 0 {
		cmd.Println("No topic lines yet.")
		return nil
	}
	for _, l := range lines {
		cmd.Printf("%s  %s (%d documents)\n", l.ID, l.ShortTitle, counts[l.ID])
		if l.Description != "" {
			cmd.Printf("    %s\n", l.Description)
		}
		if l.RegionNote != "" {
			cmd.Printf("    region: %s\n", l.RegionNote)
		}
	}
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(context.Background(), 20)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		cmd.Println("No runs recorded.")
		return nil
	}
	for _, r := range runs {
		cmd.Printf("%s  %s  docs=%d lines=%d batches=%d merged=%d\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Documents, r.Lines, r.Batches, r.Merged)
	}
	return nil
}
