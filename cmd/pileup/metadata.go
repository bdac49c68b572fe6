package main

import (
	"github.com/spf13/cobra"

	"github.com/latchkey-labs/pileup/internal/probe"
)

// metadataCmd runs the Metadata Probe against a single file and prints
// what it found, for diagnosing probe coverage before a full run.
func metadataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metadata <path>",
		Short: "Probe a single file's MIME type, EXIF fields, and document head",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			p := probe.New()
			ctx := cmd.Context()

			mime, err := p.ProbeMIME(ctx, target)
			if err != nil {
				cmd.PrintErrf("mime probe failed: %v\n", err)
			}
			cmd.Printf("mime: %s\n", mime)

			exif, err := p.ProbeEXIF(ctx, target)
			if err != nil {
				cmd.PrintErrf("exif probe failed: %v\n", err)
			}
			if len(exif) == 0 {
				cmd.Println("exif: (none)")
			} else {
				for k, v := range exif {
					cmd.Printf("exif.%s: %s\n", k, v)
				}
			}

			head, err := p.ProbeDocHead(ctx, target, 512)
			if err != nil {
				cmd.PrintErrf("doc head probe failed: %v\n", err)
			}
			if head != "" {
				cmd.Printf("doc_head: %s\n", head)
			}

			return nil
		},
	}
}
