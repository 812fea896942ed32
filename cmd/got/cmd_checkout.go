package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckoutCmd() *cobra.Command {
	var createBranch bool

	cmd := &cobra.Command{
		Use:   "checkout <branch|commit>",
		Short: "Switch branches or detach HEAD at a commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]

			r, err := openRepo(cmd)
			if err != nil {
				return err
			}

			if createBranch {
				head, err := r.ResolveRef("HEAD")
				if err != nil {
					return fmt.Errorf("cannot resolve HEAD: %w", err)
				}
				if err := r.CreateBranch(target, head); err != nil {
					return err
				}
			}

			if err := r.Checkout(target); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			current, err := r.CurrentBranch()
			switch {
			case err != nil:
				return err
			case current == "":
				h, err := r.ResolveRef("HEAD")
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "HEAD is now at %s\n", h.Short())
			case createBranch:
				fmt.Fprintf(out, "switched to new branch '%s'\n", current)
			default:
				fmt.Fprintf(out, "switched to branch '%s'\n", current)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&createBranch, "branch", "b", false, "create and switch to a new branch")

	return cmd
}
