package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drblury/sparked/internal/runtime/subject"
)

// MatchResult is the JSON payload of the match command.
type MatchResult struct {
	Subject string `json:"subject"`
	Pattern string `json:"pattern"`
	Match   bool   `json:"match"`
}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "match <subject> <pattern>",
		Short: "Test a subject against a subscription pattern",
		Long: `Report whether a concrete subject is delivered to a subscription pattern.
"*" matches exactly one token and a trailing ">" matches one or more tokens.
Exits with status 1 when the subject does not match.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(newFormatter(rootOpts, cmd), args[0], args[1])
		},
	}
}

func runMatch(formatter *OutputFormatter, subj, pattern string) error {
	if err := subject.ValidateSubject(subj); err != nil {
		_ = formatter.Error(err.Error(), nil)
		return WrapExitError(ExitCommandError, "subject", err)
	}
	if err := subject.ValidatePattern(pattern); err != nil {
		_ = formatter.Error(err.Error(), nil)
		return WrapExitError(ExitCommandError, "pattern", err)
	}

	matched := subject.Matches(subj, pattern)
	text := "no match"
	if matched {
		text = "match"
	}
	if err := formatter.Success(MatchResult{Subject: subj, Pattern: pattern, Match: matched}, text); err != nil {
		return err
	}
	if !matched {
		return NewExitError(ExitFailure, fmt.Sprintf("%q does not match %q", subj, pattern))
	}
	return nil
}
