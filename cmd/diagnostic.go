// Copyright © 2024 The standard-ls authors

package cmd

import (
	"io"

	"github.com/standard-ls/standard-ls/diagnostic"
	"github.com/standard-ls/standard-ls/fix"
	lintpkg "github.com/standard-ls/standard-ls/lint"
)

func colorMode() diagnostic.ColorMode {
	switch colorFlag {
	case "always":
		return diagnostic.ColorAlways
	case "never":
		return diagnostic.ColorNever
	default:
		return diagnostic.ColorAuto
	}
}

func newRenderer(sources map[string]string) *diagnostic.Renderer {
	r := &diagnostic.Renderer{Color: colorMode()}
	if sources != nil {
		r.SourceReader = func(file string) ([]byte, error) {
			if src, ok := sources[file]; ok {
				return []byte(src), nil
			}
			return nil, io.ErrUnexpectedEOF
		}
	}
	return r
}

// lintDiagToDiagnostic converts a lint.Diagnostic to a diagnostic.Diagnostic.
// The engine counts columns in UTF-16 code units; the renderer wants bytes,
// so positions are translated through the linted text when it is known.
func lintDiagToDiagnostic(ld lintpkg.Diagnostic, t *fix.Text) diagnostic.Diagnostic {
	d := diagnostic.Diagnostic{
		Severity: diagnostic.SeverityWarning,
		Code:     ld.Rule,
		Message:  ld.Message,
	}
	if ld.Severity == lintpkg.SeverityError {
		d.Severity = diagnostic.SeverityError
	}
	if ld.Pos.Line > 0 {
		span := diagnostic.Span{
			File: ld.Pos.File,
			Line: ld.Pos.Line,
			Col:  ld.Pos.Col,
		}
		if t != nil {
			span.Col = byteCol(t, ld.Pos.Line, ld.Pos.Col)
			if ld.End.Line == ld.Pos.Line && ld.End.Col > ld.Pos.Col {
				span.EndCol = byteCol(t, ld.End.Line, ld.End.Col) - 1
			}
		}
		d.Spans = append(d.Spans, span)
	}
	if ld.Fix != nil {
		d.Notes = append(d.Notes, "fixable with: standard-ls lint --fix")
	}
	if ld.Rule != "" {
		d.Notes = append(d.Notes, "to suppress: add \"// eslint-disable-next-line "+ld.Rule+"\" above this line")
	}
	return d
}

// byteCol converts a 1-based UTF-16 column on a 1-based line into a 1-based
// byte column.
func byteCol(t *fix.Text, line, col int) int {
	if col < 1 {
		col = 1
	}
	start := t.OffsetAt(line-1, 0)
	at := t.OffsetAt(line-1, col-1)
	return t.ByteOffset(at) - t.ByteOffset(start) + 1
}

// renderLintDiagnostics renders lint diagnostics with diagnostic formatting
// to w. sources maps file names to the text that was linted.
func renderLintDiagnostics(w io.Writer, diags []lintpkg.Diagnostic, sources map[string]string) error {
	texts := make(map[string]*fix.Text, len(sources))
	for name, src := range sources {
		texts[name] = fix.NewText(src)
	}
	ds := make([]diagnostic.Diagnostic, 0, len(diags))
	for _, ld := range diags {
		ds = append(ds, lintDiagToDiagnostic(ld, texts[ld.Pos.File]))
	}
	return newRenderer(sources).RenderAll(w, ds)
}
