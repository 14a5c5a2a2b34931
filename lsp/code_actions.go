// Copyright © 2024 The standard-ls authors

package lsp

import (
	"context"
	"fmt"
	"strings"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/standard-ls/standard-ls/fix"
)

// codeActionKindFixAll is the source action kind editors request for
// fix-on-save ("editor.codeActionsOnSave").
const codeActionKindFixAll = protocol.CodeActionKindSource + ".fixAll.standard"

// textDocumentCodeAction handles the textDocument/codeAction request.
// It returns fix and disable actions for the diagnostics in the context.
func (s *Server) textDocumentCodeAction(ctx *glsp.Context, params *protocol.CodeActionParams) (any, error) {
	s.captureNotify(ctx)
	v, err := s.request(protocol.MethodTextDocumentCodeAction, params.TextDocument.URI, func(ctx context.Context) (any, error) {
		return s.codeActions(ctx, params)
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v, nil
}

func (s *Server) codeActions(ctx context.Context, params *protocol.CodeActionParams) (any, error) {
	uri := params.TextDocument.URI
	doc := s.docs.Get(uri)
	if doc == nil {
		return nil, nil
	}

	if wantsFixAll(params.Context.Only) {
		edits, _, err := s.fixAllEdits(ctx, doc)
		if err != nil || len(edits) == 0 {
			return nil, err
		}
		kind := codeActionKindFixAll
		return []protocol.CodeAction{{
			Title: "Fix all auto-fixable problems",
			Kind:  &kind,
			Edit:  workspaceEdit(uri, edits),
		}}, nil
	}
	if !wantsQuickFix(params.Context.Only) {
		return nil, nil
	}

	content, version, _ := doc.snapshot()
	t := fix.NewText(content)
	problems := doc.currentProblems()

	var actions []protocol.CodeAction
	fixedRules := make(map[string]bool)
	disabledRules := make(map[string]bool)
	for _, diag := range params.Context.Diagnostics {
		p, ok := doc.problemFor(diag)
		if !ok {
			continue
		}
		if p.fix != nil {
			a := quickFix(fmt.Sprintf("Fix this %s problem", p.rule), uri, diag, toTextEdits(t, []fix.Edit{*p.fix}))
			a.IsPreferred = boolPtr(true)
			actions = append(actions, a)

			if !fixedRules[p.rule] {
				fixedRules[p.rule] = true
				if same := ruleFixes(problems, p.rule); len(same) > 1 {
					actions = append(actions, quickFix(
						fmt.Sprintf("Fix all %s problems", p.rule), uri, diag,
						toTextEdits(t, fix.OverlapFree(same))))
				}
			}
		}

		actions = append(actions, quickFix(
			fmt.Sprintf("Disable %s for this line", p.rule), uri, diag,
			[]protocol.TextEdit{disableLineEdit(t, p.rng.Start.Line, p.rule)}))
		if !disabledRules[p.rule] {
			disabledRules[p.rule] = true
			actions = append(actions, quickFix(
				fmt.Sprintf("Disable %s for the entire file", p.rule), uri, diag,
				[]protocol.TextEdit{disableFileEdit(t, p.rule)}))
		}
	}

	if hasFixes(problems) {
		kind := protocol.CodeActionKindQuickFix
		actions = append(actions, protocol.CodeAction{
			Title: "Fix all auto-fixable problems",
			Kind:  &kind,
			Command: &protocol.Command{
				Title:     "Fix all auto-fixable problems",
				Command:   CommandApplyAutoFix,
				Arguments: []any{AutoFixArgs{URI: uri, Version: version}},
			},
		})
	}

	if len(actions) == 0 {
		return nil, nil
	}
	return actions, nil
}

// wantsFixAll reports whether only source actions covering the fix-all
// kind were requested.
func wantsFixAll(only []protocol.CodeActionKind) bool {
	for _, k := range only {
		if kindCovers(k, codeActionKindFixAll) {
			return true
		}
	}
	return false
}

func wantsQuickFix(only []protocol.CodeActionKind) bool {
	if len(only) == 0 {
		return true
	}
	for _, k := range only {
		if kindCovers(k, protocol.CodeActionKindQuickFix) {
			return true
		}
	}
	return false
}

// kindCovers reports whether the hierarchical kind k includes kind.
func kindCovers(k, kind protocol.CodeActionKind) bool {
	return k == kind || strings.HasPrefix(kind, k+".")
}

func quickFix(title, uri string, diag protocol.Diagnostic, edits []protocol.TextEdit) protocol.CodeAction {
	kind := protocol.CodeActionKindQuickFix
	return protocol.CodeAction{
		Title:       title,
		Kind:        &kind,
		Diagnostics: []protocol.Diagnostic{diag},
		Edit:        workspaceEdit(uri, edits),
	}
}

func workspaceEdit(uri string, edits []protocol.TextEdit) *protocol.WorkspaceEdit {
	return &protocol.WorkspaceEdit{
		Changes: map[protocol.DocumentUri][]protocol.TextEdit{uri: edits},
	}
}

// ruleFixes returns the fixes recorded for rule.
func ruleFixes(problems []problem, rule string) []fix.Edit {
	var edits []fix.Edit
	for _, p := range problems {
		if p.rule == rule && p.fix != nil {
			edits = append(edits, *p.fix)
		}
	}
	return edits
}

func hasFixes(problems []problem) bool {
	for _, p := range problems {
		if p.fix != nil {
			return true
		}
	}
	return false
}

// disableLineEdit inserts an eslint-disable-next-line comment above line,
// indented like the line itself.
func disableLineEdit(t *fix.Text, line protocol.UInteger, rule string) protocol.TextEdit {
	text := t.Line(int(line))
	indent := text[:len(text)-len(strings.TrimLeft(text, " \t"))]
	pos := protocol.Position{Line: line}
	return protocol.TextEdit{
		Range:   protocol.Range{Start: pos, End: pos},
		NewText: fmt.Sprintf("%s// eslint-disable-next-line %s%s", indent, rule, lineBreak(t.String())),
	}
}

// disableFileEdit inserts an eslint-disable block comment at the top of the
// file, below a shebang line.
func disableFileEdit(t *fix.Text, rule string) protocol.TextEdit {
	eol := lineBreak(t.String())
	comment := fmt.Sprintf("/* eslint-disable %s */", rule)
	if !strings.HasPrefix(t.Line(0), "#!") {
		return protocol.TextEdit{NewText: comment + eol}
	}
	if t.LineCount() == 1 {
		end := protocol.Position{Character: safeUint(fix.UTF16Len(t.Line(0)))}
		return protocol.TextEdit{
			Range:   protocol.Range{Start: end, End: end},
			NewText: eol + comment,
		}
	}
	pos := protocol.Position{Line: 1}
	return protocol.TextEdit{
		Range:   protocol.Range{Start: pos, End: pos},
		NewText: comment + eol,
	}
}

// lineBreak returns the line break style of content.
func lineBreak(content string) string {
	if i := strings.IndexAny(content, "\r\n"); i >= 0 && content[i] == '\r' {
		if i+1 < len(content) && content[i+1] == '\n' {
			return "\r\n"
		}
		return "\r"
	}
	return "\n"
}

// diagnosticCode returns the rule id of a client diagnostic. Incoming codes
// do not survive decoding, so the rule is also carried in the data field,
// which clients echo back.
func diagnosticCode(diag protocol.Diagnostic) string {
	if diag.Code != nil {
		if rule, ok := diag.Code.Value.(string); ok && rule != "" {
			return rule
		}
	}
	if rule, ok := diag.Data.(string); ok {
		return rule
	}
	return ""
}
