package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "erxfd",
	Short: "e-Rx FD server - the trusted-execution endpoint for electronic prescriptions",
	Long: `erxfd runs the e-Rx Fachdienst: the VAU-tunnelled FHIR REST surface
that issues, activates, dispenses, and audits electronic prescriptions.

Subcommands:
  serve          run the server
  snapshot-load  validate a persisted state snapshot without serving
  version        print build information`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// exitCodeFor maps a top-level command failure to the launcher's
// documented exit codes: 1 for configuration errors, 2 for listener
// bind failures, 1 for anything else that reaches main uncategorised.
func exitCodeFor(err error) int {
	var bindErr *bindError
	if errors.As(err, &bindErr) {
		return 2
	}
	return 1
}

// bindError wraps a listener-bind failure so main can tell it apart
// from a configuration error for the purpose of exit codes.
type bindError struct{ cause error }

func (e *bindError) Error() string { return fmt.Sprintf("bind: %v", e.cause) }
func (e *bindError) Unwrap() error { return e.cause }
