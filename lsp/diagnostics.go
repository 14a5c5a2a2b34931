// Copyright © 2024 The standard-ls authors

package lsp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/standard-ls/standard-ls/engine"
	"github.com/standard-ls/standard-ls/fix"
	"github.com/standard-ls/standard-ls/lint"
	"github.com/standard-ls/standard-ls/resolve"
	"github.com/standard-ls/standard-ls/settings"
)

const debounceDelay = 300 * time.Millisecond

const (
	methodValidate = "standard/validate"

	// MethodStatus is the notification reporting the linter state of a
	// document to the client.
	MethodStatus = "standard/status"
)

// Status is the linter state of a document.
type Status int

const (
	StatusOK Status = iota + 1
	StatusWarn
	StatusError
)

// StatusParams are the parameters of a standard/status notification.
type StatusParams struct {
	URI   string `json:"uri"`
	State Status `json:"state"`
}

// textDocumentDidOpen handles the textDocument/didOpen notification.
func (s *Server) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.captureNotify(ctx)
	doc := s.docs.Open(
		params.TextDocument.URI,
		params.TextDocument.LanguageID,
		params.TextDocument.Version,
		params.TextDocument.Text,
	)
	s.queueValidate(doc.URI)
	return nil
}

// textDocumentDidChange handles the textDocument/didChange notification.
func (s *Server) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	s.captureNotify(ctx)
	// With full sync, the last content change is the complete document.
	var content string
	for _, change := range params.ContentChanges {
		switch c := change.(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			content = c.Text
		case protocol.TextDocumentContentChangeEvent:
			content = c.Text
		}
	}

	doc := s.docs.Change(
		params.TextDocument.URI,
		params.TextDocument.Version,
		content,
	)

	st, _ := s.settingsFor(uriToPath(doc.URI))
	if st.Run != settings.RunOnType {
		return nil
	}

	// Debounce: delay validation to avoid thrashing during rapid edits.
	uri := doc.URI
	s.debounceMu.Lock()
	if t, ok := s.debounce[uri]; ok {
		t.Stop()
	}
	s.debounce[uri] = time.AfterFunc(debounceDelay, func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Errorf("panic scheduling validation of %s: %v", uri, r)
			}
		}()
		s.debounceMu.Lock()
		delete(s.debounce, uri)
		s.debounceMu.Unlock()
		s.queueValidate(uri)
	})
	s.debounceMu.Unlock()
	return nil
}

// textDocumentDidSave handles the textDocument/didSave notification.
func (s *Server) textDocumentDidSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	s.captureNotify(ctx)
	uri := params.TextDocument.URI
	pending := s.cancelDebounce(uri)

	st, _ := s.settingsFor(uriToPath(uri))
	if st.Run == settings.RunOnSave || pending {
		s.queueValidate(uri)
	}
	return nil
}

// textDocumentDidClose handles the textDocument/didClose notification.
func (s *Server) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	s.captureNotify(ctx)
	uri := params.TextDocument.URI
	s.cancelDebounce(uri)
	s.docs.Close(uri)

	// Clear diagnostics for the closed file.
	s.publish(uri, nil, nil)
	return nil
}

// cancelDebounce stops a pending debounced validation and reports whether
// there was one.
func (s *Server) cancelDebounce(uri string) bool {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	t, ok := s.debounce[uri]
	if ok {
		t.Stop()
		delete(s.debounce, uri)
	}
	return ok
}

// queueValidate queues a validation of the document at its current version.
// A validation of the same document still waiting in the queue is replaced.
func (s *Server) queueValidate(uri string) {
	s.queue.Notify(methodValidate, uri, func(ctx context.Context) {
		s.validate(ctx, uri)
	})
}

// revalidateAll queues a validation of every open document.
func (s *Server) revalidateAll() {
	for _, doc := range s.docs.All() {
		s.queueValidate(doc.URI)
	}
}

// resolveDocument resolves the effective configuration of an open document.
func (s *Server) resolveDocument(ctx context.Context, doc *Document) (resolve.Config, error) {
	_, _, lang := doc.snapshot()
	path := uriToPath(doc.URI)
	st, folder := s.settingsFor(path)
	return s.resolver.Resolve(ctx, resolve.Input{
		Path:       path,
		LanguageID: lang,
		Folder:     folder,
		Settings:   st,
	})
}

// validate lints a document and publishes its diagnostics.
func (s *Server) validate(ctx context.Context, uri string) {
	doc := s.docs.Get(uri)
	if doc == nil {
		return
	}
	content, version, _ := doc.snapshot()
	path := uriToPath(uri)

	cfg, err := s.resolveDocument(ctx, doc)
	switch {
	case errors.Is(err, engine.ErrLibraryNotFound):
		doc.setProblems(nil, version)
		s.publish(uri, nil, nil)
		s.warnMissing(cfg)
		s.sendStatus(uri, StatusWarn)
		return
	case err != nil:
		s.log.Errorf("resolving %s: %v", path, err)
		s.sendStatus(uri, StatusError)
		return
	case !cfg.Enabled:
		s.log.Debugf("not validating %s: %s", path, cfg.Reason)
		doc.setProblems(nil, version)
		s.publish(uri, nil, nil)
		return
	}

	out, err := s.linterFor(cfg.Settings).LintText(ctx, cfg.Request(path, content, false))
	if err != nil {
		s.log.Errorf("linting %s: %v", path, err)
		s.sendStatus(uri, StatusError)
		return
	}

	// The document may have changed while the engine was running.
	if v, ok := s.docs.Version(uri); !ok || v != version {
		s.log.Debugf("discarding results for %s version %d", path, version)
		return
	}

	diags := make([]protocol.Diagnostic, 0, len(out.Diagnostics))
	var problems []problem
	for _, d := range out.Diagnostics {
		pd := toProtocol(d, cfg.Engine.String(), cfg.Settings.TreatErrorsAsWarnings)
		diags = append(diags, pd)
		if d.Rule == "" {
			continue
		}
		p := problem{rule: d.Rule, rng: pd.Range}
		if d.Fix != nil {
			p.fix = &fix.Edit{Start: d.Fix.Start, End: d.Fix.End, Text: d.Fix.Text}
		}
		problems = append(problems, p)
	}
	doc.setProblems(problems, version)
	s.publish(uri, &version, diags)
	s.sendStatus(uri, StatusOK)
}

// warnMissing shows, once per engine and directory, that the engine
// library could not be found.
func (s *Server) warnMissing(cfg resolve.Config) {
	key := cfg.Engine.String() + "\x00" + cfg.Cwd
	s.mu.Lock()
	seen := s.missing[key]
	s.missing[key] = true
	s.mu.Unlock()
	if seen {
		return
	}
	s.log.Warningf("%s library not found for %s", cfg.Engine, cfg.Cwd)
	s.showMessage(protocol.MessageTypeWarning, fmt.Sprintf(
		"Failed to load the %[1]s library for %[2]s. Install it with 'npm install %[1]s' "+
			"or enable the global installation with 'standard.enableGlobally'.",
		cfg.Engine, cfg.Cwd))
}

func (s *Server) publish(uri string, version *int32, diags []protocol.Diagnostic) {
	if diags == nil {
		diags = []protocol.Diagnostic{}
	}
	params := &protocol.PublishDiagnosticsParams{URI: uri, Diagnostics: diags}
	if version != nil && *version >= 0 {
		v := protocol.UInteger(*version) // #nosec G115 -- checked non-negative
		params.Version = &v
	}
	s.sendNotification(protocol.ServerTextDocumentPublishDiagnostics, params)
}

func (s *Server) sendStatus(uri string, state Status) {
	s.sendNotification(MethodStatus, &StatusParams{URI: uri, State: state})
}

// toProtocol converts a lint.Diagnostic to an LSP Diagnostic. Engine
// columns count UTF-16 code units like LSP characters do.
func toProtocol(d lint.Diagnostic, source string, errorsAsWarnings bool) protocol.Diagnostic {
	start := protocol.Position{Line: safeUint(d.Pos.Line - 1), Character: safeUint(d.Pos.Col - 1)}
	end := start // Default: zero-width range.
	if d.End.Line > 0 {
		end = protocol.Position{Line: safeUint(d.End.Line - 1), Character: safeUint(d.End.Col - 1)}
	}
	sev := mapLintSeverity(d.Severity)
	if errorsAsWarnings && sev == protocol.DiagnosticSeverityError {
		sev = protocol.DiagnosticSeverityWarning
	}
	pd := protocol.Diagnostic{
		Range:    protocol.Range{Start: start, End: end},
		Severity: &sev,
		Source:   strPtr(source),
		Message:  d.Message,
	}
	if d.Rule != "" {
		pd.Code = &protocol.IntegerOrString{Value: d.Rule}
		pd.Data = d.Rule
	}
	return pd
}

// mapLintSeverity converts a lint.Severity to a protocol.DiagnosticSeverity.
func mapLintSeverity(sev lint.Severity) protocol.DiagnosticSeverity {
	switch sev {
	case lint.SeverityError:
		return protocol.DiagnosticSeverityError
	case lint.SeverityWarning:
		return protocol.DiagnosticSeverityWarning
	case lint.SeverityInfo:
		return protocol.DiagnosticSeverityInformation
	default:
		return protocol.DiagnosticSeverityWarning
	}
}

func strPtr(s string) *string {
	return &s
}
