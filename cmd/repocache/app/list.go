package app

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/jmgilman/go/errors"
	"github.com/spf13/cobra"
)

// listEntry is the JSON form of a cached working copy.
type listEntry struct {
	Project    string `json:"project"`
	Repository string `json:"repository"`
	Label      string `json:"label"`
	Path       string `json:"path"`
	Head       string `json:"head,omitempty"`
	Size       int64  `json:"size"`
	Error      string `json:"error,omitempty"`
}

func (a *application) listCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached working copies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "text" && format != "json" {
				return errors.Newf(errors.CodeInvalidInput, "unsupported format %q", format)
			}

			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := m.List()
			if err != nil {
				return err
			}

			out := make([]listEntry, 0, len(entries))
			for _, e := range entries {
				le := listEntry{
					Project:    e.Identity.ProjectID.String(),
					Repository: e.Identity.Repository,
					Label:      e.Label,
					Path:       e.Path,
					Head:       e.Head,
					Size:       e.Size,
				}
				if e.Err != nil {
					le.Error = e.Err.Error()
				}
				out = append(out, le)
			}

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "PROJECT\tREPOSITORY\tLABEL\tHEAD\tSIZE")
			for _, e := range out {
				head := e.Head
				if e.Error != "" {
					head = "error: " + e.Error
				} else if len(head) > 12 {
					head = head[:12]
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", e.Project, e.Repository, e.Label, head, e.Size)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format (text or json)")
	return cmd
}
