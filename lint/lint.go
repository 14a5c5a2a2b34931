// Copyright © 2024 The standard-ls authors

// Package lint runs an engine over source text and normalizes its
// ESLint-format report into diagnostics shared by the language server and
// the CLI.
package lint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/standard-ls/standard-ls/engine"
)

// Severity indicates the severity level of a lint diagnostic.
type Severity int

const (
	severityUnset Severity = iota // unexported zero sentinel for default detection
	SeverityError
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes the severity as a JSON string.
// An unset severity (zero value) is marshaled as "warning".
func (s Severity) MarshalJSON() ([]byte, error) {
	if s == severityUnset {
		return json.Marshal("warning")
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON deserializes a severity from a JSON string.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "error":
		*s = SeverityError
	case "warning":
		*s = SeverityWarning
	case "info":
		*s = SeverityInfo
	default:
		return fmt.Errorf("unknown severity: %q", str)
	}
	return nil
}

// Diagnostic is a single reported problem.
type Diagnostic struct {
	// Pos is the start of the problem. Line and Col are 1-based, Col counts
	// UTF-16 code units.
	Pos Position `json:"pos"`

	// End is the exclusive end of the problem. A zero Line means the engine
	// reported no end.
	End Position `json:"end,omitempty"`

	// Message is a human-readable description of the problem.
	Message string `json:"message"`

	// Rule is the rule id. Fatal parse errors have none.
	Rule string `json:"rule,omitempty"`

	// Severity is the severity level of the diagnostic.
	Severity Severity `json:"severity"`

	// Fatal marks problems that stopped the engine, such as parse errors.
	Fatal bool `json:"fatal,omitempty"`

	// Fix is the engine's suggested edit, if any.
	Fix *Fix `json:"fix,omitempty"`
}

// Fix replaces the UTF-16 offset range [Start, End) of the linted text.
type Fix struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Position identifies a location in source code.
type Position struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line"`
	Col  int    `json:"col,omitempty"`
}

// String returns the position in file:line format.
func (p Position) String() string {
	if p.Line == 0 {
		return p.File
	}
	if p.Col > 0 {
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
	}
	return fmt.Sprintf("%s:%d", p.File, p.Line)
}

// String returns the diagnostic in go vet style: file:line:col: message (rule).
func (d Diagnostic) String() string {
	if d.Rule == "" {
		return fmt.Sprintf("%s: %s", d.Pos, d.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", d.Pos, d.Message, d.Rule)
}

// Outcome is the result of linting one text.
type Outcome struct {
	Diagnostics []Diagnostic

	// Output is the fixed text. It is nil unless a fix was requested and
	// the engine changed something.
	Output *string
}

// Fixable reports how many diagnostics carry a fix.
func (o *Outcome) Fixable() int {
	n := 0
	for _, d := range o.Diagnostics {
		if d.Fix != nil {
			n++
		}
	}
	return n
}

// Linter runs an engine and normalizes its report.
type Linter struct {
	Runner engine.Runner

	// Tracer records a span per run. Defaults to the global provider.
	Tracer trace.Tracer
}

const tracerName = "github.com/standard-ls/standard-ls/lint"

// LintText lints req.Text and returns the problems sorted by position.
func (l *Linter) LintText(ctx context.Context, req engine.Request) (out *Outcome, err error) {
	tracer := l.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	ctx, span := tracer.Start(ctx, "lint.LintText", trace.WithAttributes(
		attribute.String("lint.engine", string(req.Engine)),
		attribute.String("lint.file", req.Filename),
		attribute.Bool("lint.fix", req.Fix),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("lint.problems", len(out.Diagnostics)))
		}
		span.End()
	}()

	rep, err := l.Runner.Lint(ctx, req)
	if err != nil {
		return nil, err
	}
	return Normalize(rep, req.Filename), nil
}

// Normalize converts an engine report. Results are merged; "File ignored"
// warnings are dropped.
func Normalize(rep *engine.Report, filename string) *Outcome {
	out := &Outcome{}
	if rep == nil {
		return out
	}
	for _, res := range rep.Results {
		file := filename
		if file == "" {
			file = res.FilePath
		}
		for _, m := range res.Messages {
			if ignoredNotice(m) {
				continue
			}
			out.Diagnostics = append(out.Diagnostics, convert(m, file))
		}
		if res.Output != nil {
			out.Output = res.Output
		}
	}
	sort.SliceStable(out.Diagnostics, func(i, j int) bool {
		a, b := out.Diagnostics[i].Pos, out.Diagnostics[j].Pos
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Col < b.Col
	})
	return out
}

func ignoredNotice(m engine.Message) bool {
	return m.Severity <= 1 && strings.HasPrefix(m.Message, "File ignored")
}

func convert(m engine.Message, file string) Diagnostic {
	d := Diagnostic{
		Pos:     Position{File: file, Line: m.Line, Col: m.Column},
		Message: m.Message,
		Rule:    m.RuleID,
		Fatal:   m.Fatal,
	}
	if m.EndLine > 0 {
		d.End = Position{File: file, Line: m.EndLine, Col: m.EndColumn}
	}
	switch {
	case m.Fatal || m.Severity == 2:
		d.Severity = SeverityError
	case m.Severity == 1:
		d.Severity = SeverityWarning
	default:
		d.Severity = SeverityInfo
	}
	if m.Fix != nil {
		d.Fix = &Fix{Start: m.Fix.Range[0], End: m.Fix.Range[1], Text: m.Fix.Text}
	}
	return d
}

// Count returns the number of errors and warnings in diags.
func Count(diags []Diagnostic) (errors, warnings int) {
	for _, d := range diags {
		switch d.Severity {
		case SeverityError:
			errors++
		case SeverityWarning:
			warnings++
		}
	}
	return errors, warnings
}

// FormatText writes diagnostics in go vet text format.
func FormatText(w io.Writer, diags []Diagnostic) {
	for _, d := range diags {
		fmt.Fprintln(w, d.String()) //nolint:errcheck // best-effort output to writer
	}
}

// FormatJSON writes diagnostics as JSON.
func FormatJSON(w io.Writer, diags []Diagnostic) error {
	if diags == nil {
		diags = []Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(diags)
}
