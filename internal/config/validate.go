package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validation error codes (C100-C199)
const (
	ErrSchema        = "C100" // document does not match the schema
	ErrDuplicateName = "C101" // two sources share a name
	ErrInvalidHost   = "C102" // host is not an absolute http(s) URL
	ErrStoreDSN      = "C103" // store driver lacks a DSN
	ErrNegative      = "C104" // duration or count must not be negative
)

// ValidationError is one problem found in a configuration document.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Error collects every ValidationError of a document.
type Error struct {
	Path string
	Errs []ValidationError
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "invalid configuration (%d problem", len(e.Errs))
	if len(e.Errs) != 1 {
		b.WriteString("s")
	}
	b.WriteString(")")
	for _, ve := range e.Errs {
		b.WriteString("\n  ")
		b.WriteString(ve.Error())
	}
	return b.String()
}

// HasCode reports whether any problem carries code.
func (e *Error) HasCode(code string) bool {
	for _, ve := range e.Errs {
		if ve.Code == code {
			return true
		}
	}
	return false
}

// validate runs the semantic checks and returns all problems found.
func (c *Config) validate() []ValidationError {
	var errs []ValidationError

	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, ValidationError{
				Field:   "store.dsn",
				Message: "postgres driver requires a dsn",
				Code:    ErrStoreDSN,
			})
		}
	}

	if c.HTTP.Timeout < 0 {
		errs = append(errs, ValidationError{Field: "http.timeout", Message: "must not be negative", Code: ErrNegative})
	}
	if c.HTTP.RetryDelay < 0 {
		errs = append(errs, ValidationError{Field: "http.retry_delay", Message: "must not be negative", Code: ErrNegative})
	}
	if c.Redis.TTL < 0 {
		errs = append(errs, ValidationError{Field: "redis.ttl", Message: "must not be negative", Code: ErrNegative})
	}

	seen := make(map[string]int, len(c.Sources))
	for i, s := range c.Sources {
		if first, dup := seen[s.Name]; dup {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("sources[%d].name", i),
				Message: fmt.Sprintf("duplicate source name %q (first at sources[%d])", s.Name, first),
				Code:    ErrDuplicateName,
			})
		} else {
			seen[s.Name] = i
		}

		if msg := checkHost(s.Host); msg != "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("sources[%d].host", i),
				Message: msg,
				Code:    ErrInvalidHost,
			})
		}
	}

	return errs
}

func checkHost(host string) string {
	u, err := url.Parse(host)
	if err != nil {
		return fmt.Sprintf("invalid URL %q", host)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("URL %q must use http or https", host)
	}
	if u.Host == "" {
		return fmt.Sprintf("URL %q has no host", host)
	}
	return ""
}
