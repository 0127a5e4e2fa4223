package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/GoCodeAlone/fragments/fragment"
	"github.com/spf13/cobra"
)

// ErrInvalidManifests is returned when at least one manifest fails validation.
var ErrInvalidManifests = errors.New("invalid manifests")

type manifestReport struct {
	Path string `json:"path"`
	fragment.ValidationResult
}

// NewValidateCommand creates the command that checks fragment manifests.
func NewValidateCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate MANIFEST...",
		Short: "Validate fragment manifests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := fragment.NewStructManifestValidator()
			reports := make([]manifestReport, 0, len(args))
			invalid := 0
			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read manifest: %w", err)
				}
				result := v.Validate(cmd.Context(), raw)
				if !result.Valid {
					invalid++
				}
				reports = append(reports, manifestReport{Path: path, ValidationResult: result})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					status := "ok"
					if !r.Valid {
						status = "invalid"
					}
					fmt.Fprintf(out, "%s: %s\n", r.Path, status)
					for _, e := range r.Errors {
						fmt.Fprintf(out, "  error: %s\n", e)
					}
					for _, w := range r.Warnings {
						fmt.Fprintf(out, "  warning: %s\n", w)
					}
				}
			}

			if invalid > 0 {
				return fmt.Errorf("%w: %d of %d", ErrInvalidManifests, invalid, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}
