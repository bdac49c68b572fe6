package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/rules"
)

// rulesCmd evaluates the configured rules file against a single path
// without touching the catalog, for quickly checking a rule's reach
// before running a full pipeline.
func rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules <path>",
		Short: "Evaluate the rules file against a single folder or file path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]

			rulesPath := viper.GetString("rules.path")
			if rulesPath == "" {
				rulesPath = "rules.csv"
			}

			engine := rules.New(48)
			if err := engine.LoadFile(rulesPath); err != nil {
				return err
			}

			folderMatch, err := engine.MatchFolder(target)
			if err != nil {
				return fmt.Errorf("%w: matching folder rule: %v", common.ErrConfig, err)
			}
			if folderMatch != nil {
				cmd.Printf("folder rule: action=%s mode=%s rule=%q\n",
					folderMatch.Rule.FolderAction, folderMatch.Rule.Mode, folderMatch.Rule.PathRegex)
				if cat, err := rules.CategoryFor(folderMatch); err == nil {
					cmd.Printf("  category: %s\n", cat)
				}
			} else {
				cmd.Println("folder rule: no match")
			}

			fileMatch, err := engine.MatchFile(target, "*")
			if err != nil {
				return fmt.Errorf("%w: matching file rule: %v", common.ErrConfig, err)
			}
			if fileMatch != nil {
				cmd.Printf("file rule: mode=%s rule=%q\n", fileMatch.Rule.Mode, fileMatch.Rule.PathRegex)
				if cat, err := rules.CategoryFor(fileMatch); err == nil {
					cmd.Printf("  category: %s\n", cat)
				}
			} else {
				cmd.Println("file rule (mime=*): no match")
			}

			return nil
		},
	}
}
