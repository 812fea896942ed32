package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotmerge/pkg/repo"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show working tree status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo(cmd)
			if err != nil {
				return err
			}
			entries, err := r.Status()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			branch, err := r.CurrentBranch()
			if err != nil {
				return err
			}
			switch _, headErr := r.ResolveRef("HEAD"); {
			case branch == "":
				fmt.Fprintln(out, "HEAD detached")
			case headErr != nil:
				fmt.Fprintf(out, "on %s (no commits yet)\n", branch)
			default:
				fmt.Fprintf(out, "on %s\n", branch)
			}

			if st, err := r.ReadMergeState(); err == nil {
				fmt.Fprintf(out, "merging %s", st.Theirs.Short())
				if st.TheirsName != "" {
					fmt.Fprintf(out, " (%s)", st.TheirsName)
				}
				fmt.Fprintln(out, "; fix conflicts, add them and run \"got merge --continue\"")
			}

			var conflicts, staged, unstaged, untracked []string
			for _, e := range entries {
				switch {
				case e.IndexStatus == repo.StatusConflict:
					conflicts = append(conflicts, "  ! "+e.Path)
					continue
				case e.IndexStatus == repo.StatusUntracked:
					untracked = append(untracked, "  "+e.Path)
					continue
				}
				switch e.IndexStatus {
				case repo.StatusNew:
					staged = append(staged, "  + "+e.Path)
				case repo.StatusModified:
					staged = append(staged, "  ~ "+e.Path)
				case repo.StatusDeleted:
					staged = append(staged, "  - "+e.Path)
				}
				switch e.WorkStatus {
				case repo.StatusDirty:
					unstaged = append(unstaged, "  ~ "+e.Path)
				case repo.StatusDeleted:
					unstaged = append(unstaged, "  - "+e.Path)
				}
			}

			printSection(out, "conflicts", conflicts)
			printSection(out, "staged", staged)
			printSection(out, "unstaged", unstaged)
			printSection(out, "untracked", untracked)
			return nil
		},
	}
}

func printSection(out io.Writer, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s:\n", title)
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
}
