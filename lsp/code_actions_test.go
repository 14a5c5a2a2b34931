// Copyright © 2024 The standard-ls authors

package lsp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/standard-ls/standard-ls/fix"
	"github.com/standard-ls/standard-ls/settings"
)

const twoVars = "var a = 1\nvar b = 2\n"

func (h *harness) codeActions(t *testing.T, uri string, diags []protocol.Diagnostic, only ...protocol.CodeActionKind) []protocol.CodeAction {
	t.Helper()
	v, err := h.s.textDocumentCodeAction(h.ctx, &protocol.CodeActionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
		Context:      protocol.CodeActionContext{Diagnostics: diags, Only: only},
	})
	require.NoError(t, err)
	if v == nil {
		return nil
	}
	actions, ok := v.([]protocol.CodeAction)
	require.True(t, ok, "got %T", v)
	return actions
}

func titles(actions []protocol.CodeAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.Title
	}
	return out
}

func diagnosticsWithCode(diags []protocol.Diagnostic, rule string) []protocol.Diagnostic {
	var out []protocol.Diagnostic
	for _, d := range diags {
		if diagnosticCode(d) == rule {
			out = append(out, d)
		}
	}
	return out
}

func TestCodeActions(t *testing.T) {
	h := newHarness(t, project(t, false), "")
	uri := h.open(t, "a.js", twoVars)
	h.flush(t)

	published := roundTrip(t, h.rec.lastPublished(t, uri).Diagnostics)
	semi := diagnosticsWithCode(published, "semi")
	require.Len(t, semi, 2, "rule carried through the client")

	actions := h.codeActions(t, uri, semi[:1])
	assert.Equal(t, []string{
		"Fix this semi problem",
		"Fix all semi problems",
		"Disable semi for this line",
		"Disable semi for the entire file",
		"Fix all auto-fixable problems",
	}, titles(actions))

	fixThis := actions[0]
	assert.True(t, *fixThis.IsPreferred)
	assert.Equal(t, protocol.CodeActionKindQuickFix, *fixThis.Kind)
	edits := fixThis.Edit.Changes[uri]
	require.Len(t, edits, 1)
	assert.Equal(t, "var a = 1;\nvar b = 2\n", applyTextEdits(twoVars, edits))

	fixRule := actions[1].Edit.Changes[uri]
	assert.Equal(t, "var a = 1;\nvar b = 2;\n", applyTextEdits(twoVars, fixRule))

	disableLine := actions[2].Edit.Changes[uri]
	assert.Equal(t, "// eslint-disable-next-line semi\nvar a = 1\nvar b = 2\n", applyTextEdits(twoVars, disableLine))

	disableFile := actions[3].Edit.Changes[uri]
	assert.Equal(t, "/* eslint-disable semi */\n"+twoVars, applyTextEdits(twoVars, disableFile))

	fixAll := actions[4]
	require.NotNil(t, fixAll.Command)
	assert.Equal(t, CommandApplyAutoFix, fixAll.Command.Command)
	assert.Equal(t, []any{AutoFixArgs{URI: uri, Version: 1}}, fixAll.Command.Arguments)
}

func TestCodeActionsUnfixable(t *testing.T) {
	h := newHarness(t, project(t, false), "")
	uri := h.open(t, "a.js", "  var a = 1;\n")
	h.flush(t)

	published := roundTrip(t, h.rec.lastPublished(t, uri).Diagnostics)
	actions := h.codeActions(t, uri, published)
	assert.Equal(t, []string{
		"Disable no-var for this line",
		"Disable no-var for the entire file",
	}, titles(actions), "no fix offered for rules without fixes")

	line := actions[0].Edit.Changes[uri]
	assert.Equal(t, "  // eslint-disable-next-line no-var\n  var a = 1;\n", applyTextEdits("  var a = 1;\n", line))
}

func TestCodeActionsSourceFixAll(t *testing.T) {
	h := newHarness(t, project(t, false), "")
	uri := h.open(t, "a.js", twoVars)
	h.flush(t)

	for _, only := range []protocol.CodeActionKind{"source", "source.fixAll", "source.fixAll.standard"} {
		actions := h.codeActions(t, uri, nil, only)
		require.Len(t, actions, 1, only)
		assert.Equal(t, "source.fixAll.standard", *actions[0].Kind)
		assert.Equal(t, "var a = 1;\nvar b = 2;\n", applyTextEdits(twoVars, actions[0].Edit.Changes[uri]))
	}
	assert.Nil(t, h.codeActions(t, uri, nil, protocol.CodeActionKindRefactor))

	reqs := h.runner.requests()
	assert.True(t, reqs[len(reqs)-1].Fix, "fix-all asks the engine for fixed output")
}

func TestCodeActionsStaleProblems(t *testing.T) {
	st := settings.Defaults()
	st.Run = settings.RunOnSave
	h := newHarness(t, project(t, false), "", WithSettings(st))
	uri := h.open(t, "a.js", twoVars)
	h.flush(t)
	published := roundTrip(t, h.rec.lastPublished(t, uri).Diagnostics)

	h.change(t, uri, 2, twoVars+"let c = 3\n")
	assert.Nil(t, h.codeActions(t, uri, published), "problems of version 1 do not apply to version 2")
}

func TestFixAllFallback(t *testing.T) {
	h := newHarness(t, project(t, false), "")
	h.runner.noOutput = true
	text := "let a = 1\nlet b = 2\n"
	uri := h.open(t, "a.js", text)
	h.flush(t)

	edits, err := h.s.textDocumentFormatting(h.ctx, &protocol.DocumentFormattingParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
	require.NoError(t, err)
	assert.Equal(t, "let a = 1;\nlet b = 2;\n", applyTextEdits(text, edits))
}

func TestFormatting(t *testing.T) {
	h := newHarness(t, project(t, false), "")
	uri := h.open(t, "a.js", twoVars)
	h.flush(t)

	edits, err := h.s.textDocumentFormatting(h.ctx, &protocol.DocumentFormattingParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
	require.NoError(t, err)
	assert.Equal(t, "var a = 1;\nvar b = 2;\n", applyTextEdits(twoVars, edits))

	clean := h.open(t, "b.js", "let a = 1;\n")
	h.flush(t)
	edits, err = h.s.textDocumentFormatting(h.ctx, &protocol.DocumentFormattingParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: clean},
	})
	require.NoError(t, err)
	assert.Empty(t, edits)

	edits, err = h.s.textDocumentFormatting(h.ctx, &protocol.DocumentFormattingParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: h.uri("missing.js")},
	})
	require.NoError(t, err)
	assert.Empty(t, edits)
}

func TestWillSaveWaitUntil(t *testing.T) {
	willSave := func(h *harness, uri string, reason protocol.TextDocumentSaveReason) []protocol.TextEdit {
		edits, err := h.s.textDocumentWillSaveWaitUntil(h.ctx, &protocol.WillSaveTextDocumentParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: uri},
			Reason:       reason,
		})
		require.NoError(t, err)
		return edits
	}

	h := newHarness(t, project(t, false), "")
	uri := h.open(t, "a.js", twoVars)
	assert.Empty(t, willSave(h, uri, protocol.TextDocumentSaveReasonManual), "autoFixOnSave is off")

	st := settings.Defaults()
	st.AutoFixOnSave = true
	h = newHarness(t, project(t, false), "", WithSettings(st))
	uri = h.open(t, "a.js", twoVars)
	assert.Equal(t, "var a = 1;\nvar b = 2;\n", applyTextEdits(twoVars, willSave(h, uri, protocol.TextDocumentSaveReasonManual)))
	assert.Empty(t, willSave(h, uri, protocol.TextDocumentSaveReasonAfterDelay))
}

func TestExecuteApplyAutoFix(t *testing.T) {
	h := newHarness(t, project(t, false), `{"capabilities": {"workspace": {"applyEdit": true}}}`)
	uri := h.open(t, "a.js", twoVars)
	h.flush(t)

	_, err := h.s.workspaceExecuteCommand(h.ctx, &protocol.ExecuteCommandParams{
		Command:   CommandApplyAutoFix,
		Arguments: []any{map[string]any{"uri": uri, "version": float64(1)}},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(h.rec.requests(protocol.ServerWorkspaceApplyEdit)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	params := h.rec.requests(protocol.ServerWorkspaceApplyEdit)[0].(protocol.ApplyWorkspaceEditParams)
	assert.Equal(t, "var a = 1;\nvar b = 2;\n", applyTextEdits(twoVars, params.Edit.Changes[uri]))
}

func TestExecuteApplyAutoFixStale(t *testing.T) {
	h := newHarness(t, project(t, false), `{"capabilities": {"workspace": {"applyEdit": true}}}`)
	uri := h.open(t, "a.js", twoVars)
	h.flush(t)

	_, err := h.s.workspaceExecuteCommand(h.ctx, &protocol.ExecuteCommandParams{
		Command:   CommandApplyAutoFix,
		Arguments: []any{AutoFixArgs{URI: uri, Version: 7}},
	})
	require.NoError(t, err)

	msgs := h.rec.notifications(protocol.ServerWindowShowMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.MessageTypeError, msgs[0].(*protocol.ShowMessageParams).Type)
	assert.Empty(t, h.rec.requests(protocol.ServerWorkspaceApplyEdit))
}

func TestExecuteCommandErrors(t *testing.T) {
	h := newHarness(t, project(t, false), "")
	_, err := h.s.workspaceExecuteCommand(h.ctx, &protocol.ExecuteCommandParams{Command: "standard.unknown"})
	assert.Error(t, err)

	_, err = h.s.workspaceExecuteCommand(h.ctx, &protocol.ExecuteCommandParams{Command: CommandApplyAutoFix})
	assert.Error(t, err)

	_, err = h.s.workspaceExecuteCommand(h.ctx, &protocol.ExecuteCommandParams{
		Command:   CommandApplyAutoFix,
		Arguments: []any{map[string]any{"version": 1}},
	})
	assert.Error(t, err)
}

func TestDisableEdits(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain", "let a\n", "/* eslint-disable semi */\nlet a\n"},
		{"shebang", "#!/usr/bin/env node\nlet a\n", "#!/usr/bin/env node\n/* eslint-disable semi */\nlet a\n"},
		{"shebang only", "#!/usr/bin/env node", "#!/usr/bin/env node\n/* eslint-disable semi */"},
		{"crlf", "let a\r\nlet b\r\n", "/* eslint-disable semi */\r\nlet a\r\nlet b\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edit := disableFileEdit(fix.NewText(tt.content), "semi")
			assert.Equal(t, tt.want, applyTextEdits(tt.content, []protocol.TextEdit{edit}))
		})
	}

	content := "if (x) {\n\tfoo()\r\n}\n"
	edit := disableLineEdit(fix.NewText(content), 1, "semi")
	assert.Equal(t, "\t// eslint-disable-next-line semi\n", edit.NewText)
}

func TestKindCovers(t *testing.T) {
	assert.True(t, kindCovers("source", codeActionKindFixAll))
	assert.True(t, kindCovers("source.fixAll", codeActionKindFixAll))
	assert.True(t, kindCovers(codeActionKindFixAll, codeActionKindFixAll))
	assert.False(t, kindCovers("source.fix", codeActionKindFixAll))
	assert.False(t, kindCovers("quickfix", codeActionKindFixAll))
	assert.True(t, wantsQuickFix(nil))
	assert.False(t, wantsQuickFix([]protocol.CodeActionKind{"source"}))
}
