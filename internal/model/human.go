package model

import (
	"fmt"
	"log/slog"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

const (
	CodeUnknownField      = "unknown_field"
	CodeMissingRequired   = "missing_required"
	CodeConflictingValues = "conflicting_values"
	CodeInvalidValue      = "invalid_value"
)

// CueErrorPosition points to the offending place of the config file
type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

// CueErrorDetail is one validation error in a form suitable for humans
type CueErrorDetail struct {
	Path    string
	Code    string
	Message string
	Pos     CueErrorPosition
	Raw     string
}

func (d CueErrorDetail) Attr(key string) slog.Attr {
	return slog.Group(key,
		slog.String("path", d.Path),
		slog.String("code", d.Code),
		slog.String("message", d.Message),
		slog.String("pos", fmt.Sprintf("%s:%d:%d", d.Pos.Filename, d.Pos.Line, d.Pos.Column)),
	)
}

func humanize(err error) []CueErrorDetail {
	var ret []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		path := strings.Join(e.Path(), ".")
		path = strings.TrimPrefix(path, "#Config.")
		path = strings.TrimPrefix(path, "#Config")

		field := path
		if idx := strings.LastIndexByte(path, '.'); idx != -1 {
			field = path[idx+1:]
		}

		raw := e.Error()
		var d = CueErrorDetail{
			Path: path,
			Raw:  raw,
			Pos:  position(e),
		}
		switch {
		case strings.Contains(raw, "field not allowed"):
			d.Code = CodeUnknownField
			d.Message = fmt.Sprintf("Field %s is not allowed", field)
		case strings.Contains(raw, "incomplete value"):
			d.Code = CodeMissingRequired
			d.Message = fmt.Sprintf("Field %s is required", field)
		case strings.Contains(raw, "conflicting values"),
			strings.Contains(raw, "empty disjunction"),
			strings.Contains(raw, "does not match"),
			strings.Contains(raw, "out of bound"),
			strings.Contains(raw, "invalid value"):
			d.Code = CodeConflictingValues
			format, args := e.Msg()
			d.Message = fmt.Sprintf("Conflicting values for %s: %s", field, fmt.Sprintf(format, args...))
		default:
			d.Code = CodeInvalidValue
			format, args := e.Msg()
			d.Message = fmt.Sprintf("Invalid value for %s: %s", field, fmt.Sprintf(format, args...))
		}
		ret = append(ret, d)
	}
	return ret
}

// position prefers the place in config.yaml over the place in a schema
func position(e cueerrors.Error) CueErrorPosition {
	for _, p := range e.InputPositions() {
		if p.Filename() == "config.yaml" {
			return CueErrorPosition{Filename: p.Filename(), Line: p.Line(), Column: p.Column()}
		}
	}
	p := e.Position()
	if p.Filename() == "config.yaml" {
		return CueErrorPosition{Filename: p.Filename(), Line: p.Line(), Column: p.Column()}
	}
	return CueErrorPosition{}
}
