package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *application) fetchCmd() *cobra.Command {
	var branch, path, secretName string

	cmd := &cobra.Command{
		Use:   "fetch PROJECT REPOSITORY URI",
		Short: "Clone or update the working copy of a branch",
		Long: `Clone the branch into the cache on first use and pull it on every later
call. Prints the path of the working copy, or of --path inside it.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			project, err := parseProject(args[0])
			if err != nil {
				return err
			}
			s, err := a.resolveSecret(ctx, secretName)
			if err != nil {
				return err
			}
			m, err := a.manager(ctx)
			if err != nil {
				return err
			}

			dir, err := m.Fetch(ctx, project, args[1], args[2], branch, path, s)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), dir)
			return err
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Branch to fetch (defaults to the configured default branch)")
	cmd.Flags().StringVar(&path, "path", "", "Directory inside the working copy to resolve")
	cmd.Flags().StringVar(&secretName, "secret", "", "Name of the secret under --secret-dir")

	return cmd
}

func (a *application) fetchCommitCmd() *cobra.Command {
	var path, secretName string

	cmd := &cobra.Command{
		Use:   "fetch-commit PROJECT REPOSITORY URI COMMIT",
		Short: "Clone the working copy of a commit",
		Long: `Clone the commit into the cache unless it is already there. Existing copies
are returned without contacting the remote.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			project, err := parseProject(args[0])
			if err != nil {
				return err
			}
			s, err := a.resolveSecret(ctx, secretName)
			if err != nil {
				return err
			}
			m, err := a.manager(ctx)
			if err != nil {
				return err
			}

			dir, err := m.FetchByCommit(ctx, project, args[1], args[2], args[3], path, s)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), dir)
			return err
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Directory inside the working copy to resolve")
	cmd.Flags().StringVar(&secretName, "secret", "", "Name of the secret under --secret-dir")

	return cmd
}

func (a *application) pathCmd() *cobra.Command {
	var branch, path string

	cmd := &cobra.Command{
		Use:   "path PROJECT REPOSITORY",
		Short: "Print the path of a cached branch without fetching",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := parseProject(args[0])
			if err != nil {
				return err
			}
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}

			dir, err := m.GetRepoPath(project, args[1], branch, path)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), dir)
			return err
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Branch (defaults to the configured default branch)")
	cmd.Flags().StringVar(&path, "path", "", "Directory inside the working copy to resolve")

	return cmd
}

func (a *application) testCmd() *cobra.Command {
	var branch, commit, path, secretName string

	cmd := &cobra.Command{
		Use:   "test URI",
		Short: "Check that a repository is reachable without caching it",
		Long: `Clone the repository into a temporary directory, check out --commit if
given and check that --path exists, then remove the clone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := a.resolveSecret(ctx, secretName)
			if err != nil {
				return err
			}
			m, err := a.manager(ctx)
			if err != nil {
				return err
			}

			if err := m.TestConnection(ctx, args[0], branch, commit, path, s); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return err
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Branch to clone")
	cmd.Flags().StringVar(&commit, "commit", "", "Commit to check out (overrides --branch)")
	cmd.Flags().StringVar(&path, "path", "", "Directory that must exist in the repository")
	cmd.Flags().StringVar(&secretName, "secret", "", "Name of the secret under --secret-dir")

	return cmd
}

func (a *application) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove PROJECT REPOSITORY",
		Short: "Remove every cached working copy of a repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := parseProject(args[0])
			if err != nil {
				return err
			}
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			return m.Remove(cmd.Context(), project, args[1])
		},
	}
}
