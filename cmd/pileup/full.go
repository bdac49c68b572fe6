package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/config"
	"github.com/latchkey-labs/pileup/internal/model"
	"github.com/latchkey-labs/pileup/internal/orchestrator"
	"github.com/latchkey-labs/pileup/internal/service"
)

// fullCmd drives scan → hash → classify → plan for one source root and
// optionally validates the resulting plan against expected folder
// decisions, for use as an acceptance check.
func fullCmd() *cobra.Command {
	var (
		noAI               bool
		jsonOut            string
		ollamaURL          string
		expectDisaggregate []string
		expectKeep         []string
	)

	cmd := &cobra.Command{
		Use:   "full <path>",
		Short: "Run the full scan/hash/classify/plan pipeline against one source root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceRoot := args[0]

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Mode = config.ModeAll
			cfg.SourceRoots = []string{sourceRoot}
			cfg.NoAI = cfg.NoAI || noAI
			if ollamaURL != "" {
				endpoints, err := config.ParseEndpoints(ollamaURL)
				if err != nil {
					return err
				}
				cfg.AIEndpoints = endpoints
			}

			orch, err := orchestrator.New(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = orch.Close() }()

			bar := progressbar.Default(-1, "reorganizing")

			result, err := orch.RunMode(cmd.Context())
			if err != nil {
				return err
			}
			_ = bar.Finish()

			cmd.Printf("scanned: %d files, %d folders (%d skipped)\n",
				result.Scan.FilesScanned, result.Scan.FoldersScanned, result.Scan.FoldersSkipped)
			cmd.Printf("hashed: %d files\n", result.Hashed)
			cmd.Printf("classified: %d folders, %d files (%d AI calls, %d AI failures)\n",
				result.Classified.FoldersClassified, result.Classified.FilesClassified,
				result.Classified.AICalls, result.Classified.AIFailures)
			cmd.Printf("planned: %d entries\n", result.Planned)

			entries, err := orch.Catalog.AllPlanEntries(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut != "" {
				data, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return fmt.Errorf("%w: encoding plan: %v", common.ErrConfig, err)
				}
				if err := os.WriteFile(jsonOut, data, 0o644); err != nil {
					return fmt.Errorf("%w: writing plan to %s: %v", common.ErrConfig, jsonOut, err)
				}
			}

			return checkExpectations(cmd.Context(), orch, expectDisaggregate, expectKeep)
		},
	}

	cmd.Flags().BoolVar(&noAI, "no-ai", false, "disable the AI classifier stage")
	cmd.Flags().StringVar(&jsonOut, "json", "", "write the resulting plan to this file as JSON")
	cmd.Flags().StringVar(&ollamaURL, "ollama-url", "", "AI endpoint spec, overrides OLLAMA_URL (url|workers|model[,...])")
	cmd.Flags().StringSliceVar(&expectDisaggregate, "expect-disaggregate", nil, "fail if this folder name was not classified disaggregate (repeatable)")
	cmd.Flags().StringSliceVar(&expectKeep, "expect-keep", nil, "fail if this folder name was not classified keep (repeatable)")

	return cmd
}

// checkExpectations fails the run with an invariant violation if any
// named folder was not classified the way the caller expected, for use
// as an acceptance check against a fixture tree.
func checkExpectations(ctx context.Context, orch *orchestrator.Orchestrator, expectDisaggregate, expectKeep []string) error {
	if len(expectDisaggregate) == 0 && len(expectKeep) == 0 {
		return nil
	}

	folders, err := orch.Catalog.FoldersByDepthRange(ctx, service.FolderDepthRange{Min: 0, Max: 1 << 30})
	if err != nil {
		return fmt.Errorf("%w: reading folders for expectation check: %v", common.ErrCatalog, err)
	}
	byName := map[string][]model.FolderRecord{}
	for _, f := range folders {
		byName[path.Base(f.Path)] = append(byName[path.Base(f.Path)], f)
	}

	check := func(name string, want model.FolderAction) error {
		matches, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: expected folder %q not found", common.ErrInvariantViolation, name)
		}
		for _, f := range matches {
			if f.Action == want {
				return nil
			}
		}
		return fmt.Errorf("%w: expected folder %q to be %s, got %s", common.ErrInvariantViolation, name, want, matches[0].Action)
	}

	for _, name := range expectDisaggregate {
		if err := check(name, model.ActionDisaggregate); err != nil {
			return err
		}
	}
	for _, name := range expectKeep {
		if err := check(name, model.ActionKeep); err != nil {
			return err
		}
	}
	return nil
}
