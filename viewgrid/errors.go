package viewgrid

import "fmt"

// An InvalidInputError is returned when a request is rejected before any
// parsing happens, e.g. for an empty payload or an unknown asset kind.
type InvalidInputError struct {
	Reason string
}

func (i *InvalidInputError) Error() string {
	return "invalid input: " + i.Reason
}

// A ParseError indicates a malformed asset: a bad header, a schema mismatch,
// or a truncated payload.
type ParseError struct {
	Reason string
	Err    error
}

func (p *ParseError) Error() string {
	if p.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", p.Reason, p.Err)
	}
	return "parse error: " + p.Reason
}

func (p *ParseError) Unwrap() error {
	return p.Err
}

// A RenderError indicates a failure after the asset was loaded, such as
// empty geometry, an unavailable device, or a numerical failure.
type RenderError struct {
	Reason string
	Err    error
}

func (r *RenderError) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("render error: %s: %v", r.Reason, r.Err)
	}
	return "render error: " + r.Reason
}

func (r *RenderError) Unwrap() error {
	return r.Err
}

func invalidInputf(format string, args ...any) error {
	return &InvalidInputError{Reason: fmt.Sprintf(format, args...)}
}

func parseErrorf(format string, args ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

func renderErrorf(format string, args ...any) error {
	return &RenderError{Reason: fmt.Sprintf(format, args...)}
}
