package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotmerge/pkg/object"
)

func newLogCmd() *cobra.Command {
	var oneline bool
	var limit int

	cmd := &cobra.Command{
		Use:   "log [rev]",
		Short: "Show commit history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo(cmd)
			if err != nil {
				return err
			}

			headHash, err := r.ResolveRef("HEAD")
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no commits yet")
				return nil
			}
			start := headHash
			if len(args) == 1 {
				if start, err = r.ResolveRef(args[0]); err != nil {
					return fmt.Errorf("cannot resolve %s: %w", args[0], err)
				}
			}

			entries, err := r.Log(start, limit)
			if err != nil {
				return err
			}
			branchName, _ := r.CurrentBranch()

			out := cmd.OutOrStdout()
			for _, e := range entries {
				c := e.Commit
				decoration := buildDecoration(e.Hash, headHash, branchName)
				if oneline {
					if decoration != "" {
						fmt.Fprintf(out, "%s %s %s\n", e.Hash.Short(), decoration, firstLine(c.Message))
					} else {
						fmt.Fprintf(out, "%s %s\n", e.Hash.Short(), firstLine(c.Message))
					}
					continue
				}
				if decoration != "" {
					fmt.Fprintf(out, "commit %s %s\n", e.Hash, decoration)
				} else {
					fmt.Fprintf(out, "commit %s\n", e.Hash)
				}
				if c.IsMerge() {
					fmt.Fprintf(out, "Merge:  %s %s\n", c.Parents[0].Short(), c.Parents[1].Short())
				}
				fmt.Fprintf(out, "Author: %s\n", c.Author)
				fmt.Fprintf(out, "Date:   %s\n", time.Unix(c.Timestamp, 0).Format("2006-01-02 15:04:05"))
				fmt.Fprintln(out)
				fmt.Fprintf(out, "    %s\n", c.Message)
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&oneline, "oneline", false, "compact one-line format")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of commits to show")

	return cmd
}

// buildDecoration returns a string like "(HEAD -> main)" if the commit is
// the current HEAD, or "" otherwise.
func buildDecoration(commitHash, headHash object.Hash, branchName string) string {
	if commitHash != headHash {
		return ""
	}
	if branchName != "" {
		return "(HEAD -> " + branchName + ")"
	}
	return "(HEAD)"
}
