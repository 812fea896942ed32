package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odvcencio/gotmerge/pkg/merge"
	"github.com/odvcencio/gotmerge/pkg/repo"
)

var errMergeFailed = errors.New("Automatic merge failed; fix conflicts and then commit the result.")

func newMergeCmd() *cobra.Command {
	var (
		message        string
		noFF           bool
		ffOnly         bool
		allowUnrelated bool
		abort          bool
		cont           bool
	)

	cmd := &cobra.Command{
		Use:   "merge <branch|commit> | --abort | --continue",
		Short: "Join another line of history into the current branch",
		Args: func(cmd *cobra.Command, args []string) error {
			if abort || cont {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if abort && cont {
				return fmt.Errorf("--abort and --continue are mutually exclusive")
			}
			if noFF && ffOnly {
				return fmt.Errorf("--no-ff and --ff-only are mutually exclusive")
			}

			r, err := openRepo(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch {
			case abort:
				return r.AbortMerge()
			case cont:
				h, err := r.ContinueMerge("")
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "[%s] merge concluded\n", h.Short())
				return nil
			}

			opts := repo.MergeOptions{
				Target:         args[0],
				Message:        message,
				AllowUnrelated: allowUnrelated,
			}
			switch {
			case noFF:
				opts.FF = repo.FFNever
			case ffOnly:
				opts.FF = repo.FFOnly
			}

			res, err := r.Merge(cmd.Context(), opts)
			var conflictErr *repo.ConflictError
			if errors.As(err, &conflictErr) {
				printAutoMerged(out, res.AutoMerged)
				printConflicts(out, res.Conflicts, args[0])
				return errMergeFailed
			}
			if err != nil {
				return err
			}

			switch res.Kind {
			case repo.MergeUpToDate:
				fmt.Fprintln(out, "Already up to date.")
			case repo.MergeFastForward:
				fmt.Fprintf(out, "Updating %s..%s\n", res.Ours.Short(), res.Theirs.Short())
				fmt.Fprintln(out, "Fast-forward")
			case repo.MergeCommitted:
				printAutoMerged(out, res.AutoMerged)
				fmt.Fprintln(out, "Merge made by the 'recursive' strategy.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "merge commit message")
	cmd.Flags().BoolVar(&noFF, "no-ff", false, "create a merge commit even when a fast-forward is possible")
	cmd.Flags().BoolVar(&ffOnly, "ff-only", false, "refuse to merge unless the result is a fast-forward")
	cmd.Flags().BoolVar(&allowUnrelated, "allow-unrelated-histories", false, "merge histories that share no common ancestor")
	cmd.Flags().BoolVar(&abort, "abort", false, "abandon the pending merge and restore the pre-merge state")
	cmd.Flags().BoolVar(&cont, "continue", false, "conclude the pending merge once conflicts are resolved")

	return cmd
}

func printAutoMerged(out io.Writer, paths []string) {
	for _, p := range paths {
		fmt.Fprintf(out, "Auto-merging %s\n", p)
	}
}

func printConflicts(out io.Writer, conflicts []merge.ConflictInfo, theirs string) {
	for _, c := range conflicts {
		switch c.Kind {
		case merge.ConflictModifyDelete:
			fmt.Fprintf(out, "CONFLICT (%s): %s deleted in one of HEAD and %s and modified in the other. Version left in tree.\n", c.Kind, c.Path, theirs)
		case merge.ConflictType:
			fmt.Fprintf(out, "CONFLICT (%s): directory in the way of %s; file moved to %s.\n", c.Kind, c.Path, c.Sidecar)
		default:
			fmt.Fprintf(out, "CONFLICT (%s): Merge conflict in %s\n", c.Kind, c.Path)
		}
	}
}
