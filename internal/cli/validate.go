package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drblury/sparked/internal/runtime/config"
)

// ValidationResult is the JSON payload of the validate command.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
	Config string   `json:"config,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "validate --config <file>",
		Short: "Check a service config without starting it",
		Long: `Load a YAML service config, apply environment overrides and defaults,
and report every problem found. Broker credentials are redacted in the output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(newFormatter(rootOpts, cmd), path)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "path to the service config file")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runValidate(formatter *OutputFormatter, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		_ = formatter.Error(err.Error(), nil)
		return WrapExitError(ExitCommandError, "load config", err)
	}
	formatter.VerboseLog("Loaded %s", path)

	if err := cfg.Validate(); err != nil {
		messages := errorMessages(err)
		if formatter.Format == "json" {
			_ = formatter.Success(ValidationResult{Valid: false, Errors: messages}, "")
		} else {
			fmt.Fprintln(formatter.Writer, "✗ Invalid config")
			for _, msg := range messages {
				fmt.Fprintf(formatter.Writer, "  %s\n", msg)
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(messages)))
	}

	return formatter.Success(
		ValidationResult{Valid: true, Config: cfg.String()},
		"✓ Config valid\n"+cfg.String(),
	)
}

// errorMessages flattens an errors.Join tree into one line per problem.
func errorMessages(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, errorMessages(e)...)
		}
		return out
	}
	return []string{strings.TrimSpace(err.Error())}
}
