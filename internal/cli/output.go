package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a cycle, scenario or configuration check failed
	ExitCommandError = 2 // the command itself could not run
)

// ExitError carries the process exit code for a command failure.
type ExitError struct {
	Code int
	Msg  string
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func exitf(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func exitWrap(code int, err error, msg string) *ExitError {
	return &ExitError{Code: code, Msg: msg, Err: err}
}

// ExitCode maps err to a process exit code. Errors that carry no code
// exit with ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

// Response is the envelope of every --format json document.
type Response struct {
	Status string         `json:"status"`
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes why a command failed.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Printer writes command results either as a JSON envelope or as text.
// Diagnostics go to a separate stream so they never corrupt JSON output.
type Printer struct {
	Format  string
	Out     io.Writer
	Diag    io.Writer
	Verbose bool
}

// JSON reports whether output is machine-readable.
func (p *Printer) JSON() bool { return p.Format == "json" }

// Emit writes a successful result. In text mode text renders it.
func (p *Printer) Emit(data any, text func(w io.Writer)) error {
	if p.JSON() {
		return p.encode(Response{Status: "ok", Data: data})
	}
	text(p.Out)
	return nil
}

// Fail writes a failed result. In text mode text renders it, or a one
// line summary when text is nil.
func (p *Printer) Fail(code, message string, data any, text func(w io.Writer)) error {
	if p.JSON() {
		return p.encode(Response{
			Status: "error",
			Data:   data,
			Error:  &ResponseError{Code: code, Message: message},
		})
	}
	if text != nil {
		text(p.Out)
		return nil
	}
	fmt.Fprintf(p.Out, "Error [%s]: %s\n", code, message)
	if p.Verbose && data != nil {
		fmt.Fprintf(p.Out, "Details: %v\n", data)
	}
	return nil
}

// Debugf writes a diagnostic line when verbose output is on.
func (p *Printer) Debugf(format string, args ...any) {
	if !p.Verbose {
		return
	}
	w := p.Diag
	if w == nil {
		w = p.Out
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func (p *Printer) encode(resp Response) error {
	enc := json.NewEncoder(p.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
