package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"github.com/lucidfs/davsync/internal/types"
)

// OutputWriter handles CLI output formatting, mirroring the teacher's own
// OutputWriter: a JSON envelope by default, an optional table rendering for
// types that know how to render themselves.
type OutputWriter struct {
	format   OutputFormat
	quiet    bool
	verbose  bool
	warnings []CLIWarning
}

// NewOutputWriter creates a new output writer.
func NewOutputWriter(format OutputFormat, quiet, verbose bool) *OutputWriter {
	return &OutputWriter{format: format, quiet: quiet, verbose: verbose, warnings: []CLIWarning{}}
}

// WriteSuccess writes a successful result.
func (w *OutputWriter) WriteSuccess(command string, data any) error {
	if w.format == OutputFormatTable {
		if renderable, ok := data.(types.TableRenderable); ok {
			return w.renderTable(renderable.AsTableRenderer())
		}
		if renderer, ok := data.(types.TableRenderer); ok {
			return w.renderTable(renderer)
		}
	}
	return w.writeJSON(CLIOutput{
		TraceID:  uuid.New().String(),
		Command:  command,
		Data:     data,
		Warnings: w.warnings,
		Errors:   []CLIError{},
	})
}

// WriteError writes an error result and returns an error cobra can surface,
// carrying the process exit code the caller should use.
func (w *OutputWriter) WriteError(command string, err error) error {
	cliErr := cliErrorFromErr(err)
	if writeErr := w.writeJSON(CLIOutput{
		TraceID:  uuid.New().String(),
		Command:  command,
		Data:     nil,
		Warnings: w.warnings,
		Errors:   []CLIError{cliErr},
	}); writeErr != nil {
		return writeErr
	}
	return &exitError{code: exitCodeForError(err), cause: err}
}

func (w *OutputWriter) writeJSON(output CLIOutput) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func (w *OutputWriter) renderTable(renderer types.TableRenderer) error {
	rows := renderer.Rows()
	if len(rows) == 0 {
		if !w.quiet {
			fmt.Fprintln(os.Stdout, renderer.EmptyMessage())
		}
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(renderer.Headers())
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
	return nil
}

// Log writes to stderr if not quiet.
func (w *OutputWriter) Log(format string, args ...any) {
	if !w.quiet {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// Verbose writes to stderr if verbose output is enabled.
func (w *OutputWriter) Verbose(format string, args ...any) {
	if w.verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}

// exitError carries a process exit code through cobra's RunE return value.
type exitError struct {
	code  int
	cause error
}

func (e *exitError) Error() string { return e.cause.Error() }
func (e *exitError) Unwrap() error { return e.cause }

// ExitCode extracts the intended process exit code from an error returned
// by a command, defaulting to ExitUnknown for anything else.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if as, ok := err.(*exitError); ok {
		ee = as
		return ee.code
	}
	return ExitUnknown
}
