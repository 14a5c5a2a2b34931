// Copyright © 2024 The standard-ls authors

package lsp

import (
	"context"
	"errors"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/standard-ls/standard-ls/engine"
	"github.com/standard-ls/standard-ls/fix"
)

// textDocumentFormatting handles textDocument/formatting requests by
// returning the edits that fix every auto-fixable problem.
func (s *Server) textDocumentFormatting(ctx *glsp.Context, params *protocol.DocumentFormattingParams) ([]protocol.TextEdit, error) {
	s.captureNotify(ctx)
	return s.fixAllRequest(protocol.MethodTextDocumentFormatting, params.TextDocument.URI)
}

// textDocumentWillSaveWaitUntil fixes the document before it is saved when
// autoFixOnSave is set. Saves after a delay are left alone so the editor
// does not rewrite text the user is still typing.
func (s *Server) textDocumentWillSaveWaitUntil(ctx *glsp.Context, params *protocol.WillSaveTextDocumentParams) ([]protocol.TextEdit, error) {
	s.captureNotify(ctx)
	if params.Reason == protocol.TextDocumentSaveReasonAfterDelay {
		return nil, nil
	}
	uri := params.TextDocument.URI
	st, _ := s.settingsFor(uriToPath(uri))
	if !st.AutoFixOnSave {
		return nil, nil
	}
	return s.fixAllRequest(protocol.MethodTextDocumentWillSaveWaitUntil, uri)
}

func (s *Server) fixAllRequest(method, uri string) ([]protocol.TextEdit, error) {
	v, err := s.request(method, uri, func(ctx context.Context) (any, error) {
		doc := s.docs.Get(uri)
		if doc == nil {
			return nil, nil
		}
		edits, _, err := s.fixAllEdits(ctx, doc)
		return edits, err
	})
	edits, _ := v.([]protocol.TextEdit)
	return edits, err
}

// fixAllEdits computes the edits fixing every auto-fixable problem of doc
// and the document version they apply to. The engine's fixed output is
// diffed against the text; when the engine gives no output the recorded
// fixes are reduced to an overlap-free set instead.
func (s *Server) fixAllEdits(ctx context.Context, doc *Document) ([]protocol.TextEdit, int32, error) {
	content, version, _ := doc.snapshot()
	path := uriToPath(doc.URI)

	cfg, err := s.resolveDocument(ctx, doc)
	switch {
	case errors.Is(err, engine.ErrLibraryNotFound):
		return nil, version, nil
	case err != nil:
		return nil, version, err
	case !cfg.Enabled:
		return nil, version, nil
	}

	var edits []fix.Edit
	out, err := s.linterFor(cfg.Settings).LintText(ctx, cfg.Request(path, content, true))
	if err != nil {
		s.log.Warningf("fixing %s: %v", path, err)
	}
	if err == nil && out.Output != nil {
		edits = fix.Diff(content, *out.Output)
	} else {
		edits = fix.OverlapFree(recordedFixes(doc.currentProblems()))
	}
	if len(edits) == 0 {
		return nil, version, nil
	}
	return toTextEdits(fix.NewText(content), edits), version, nil
}

func recordedFixes(problems []problem) []fix.Edit {
	var edits []fix.Edit
	for _, p := range problems {
		if p.fix != nil {
			edits = append(edits, *p.fix)
		}
	}
	return edits
}

// toTextEdits converts offset edits into LSP text edits.
func toTextEdits(t *fix.Text, edits []fix.Edit) []protocol.TextEdit {
	out := make([]protocol.TextEdit, 0, len(edits))
	for _, e := range edits {
		sl, sc := t.PositionAt(e.Start)
		el, ec := t.PositionAt(e.End)
		out = append(out, protocol.TextEdit{
			Range: protocol.Range{
				Start: protocol.Position{Line: safeUint(sl), Character: safeUint(sc)},
				End:   protocol.Position{Line: safeUint(el), Character: safeUint(ec)},
			},
			NewText: e.Text,
		})
	}
	return out
}
