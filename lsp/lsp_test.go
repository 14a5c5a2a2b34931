// Copyright © 2024 The standard-ls authors

package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/standard-ls/standard-ls/engine"
	"github.com/standard-ls/standard-ls/fix"
	"github.com/standard-ls/standard-ls/resolve"
	"github.com/standard-ls/standard-ls/settings"
)

// semiRunner flags every statement line that does not end with a
// semicolon (rule "semi", fixable) and every "var " (rule "no-var").
type semiRunner struct {
	mu    sync.Mutex
	calls []engine.Request
	err   error

	// noOutput makes fix runs report fixes without the fixed text.
	noOutput bool
}

func (r *semiRunner) Lint(_ context.Context, req engine.Request) (*engine.Report, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	t := fix.NewText(req.Text)
	res := engine.Result{FilePath: req.Filename}
	var edits []fix.Edit
	for i := 0; i < t.LineCount(); i++ {
		line := t.Line(i)
		if j := strings.Index(line, "var "); j >= 0 {
			col := fix.UTF16Len(line[:j]) + 1
			res.Messages = append(res.Messages, engine.Message{
				RuleID: "no-var", Severity: 2, Message: "Unexpected var, use let or const instead.",
				Line: i + 1, Column: col, EndLine: i + 1, EndColumn: col + 3,
			})
		}
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" || strings.HasSuffix(trimmed, ";") ||
			strings.HasSuffix(trimmed, "{") || strings.HasSuffix(trimmed, "}") {
			continue
		}
		end := fix.UTF16Len(trimmed)
		off := t.OffsetAt(i, end)
		e := fix.Edit{Start: off, End: off, Text: ";"}
		edits = append(edits, e)
		res.Messages = append(res.Messages, engine.Message{
			RuleID: "semi", Severity: 2, Message: "Missing semicolon.",
			Line: i + 1, Column: end + 1,
			Fix: &engine.MessageFix{Range: [2]int{e.Start, e.End}, Text: e.Text},
		})
	}
	if req.Fix && !r.noOutput && len(edits) > 0 {
		out := fix.Apply(req.Text, edits)
		res.Output = &out
	}
	return &engine.Report{Results: []engine.Result{res}}, nil
}

func (r *semiRunner) requests() []engine.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Request(nil), r.calls...)
}

type message struct {
	method string
	params any
}

// recorder plays the client: it records notifications and answers
// server-to-client requests.
type recorder struct {
	mu     sync.Mutex
	notes  []message
	calls  []message
	config []any
}

func (r *recorder) context() *glsp.Context {
	return &glsp.Context{
		Notify: func(method string, params any) {
			r.mu.Lock()
			r.notes = append(r.notes, message{method, params})
			r.mu.Unlock()
		},
		Call: func(method string, params, result any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.calls = append(r.calls, message{method, params})
			switch res := result.(type) {
			case *protocol.ApplyWorkspaceEditResponse:
				res.Applied = true
			case *[]any:
				*res = r.config
			}
		},
	}
}

func (r *recorder) notifications(method string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, n := range r.notes {
		if n.method == method {
			out = append(out, n.params)
		}
	}
	return out
}

func (r *recorder) requests(method string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, c := range r.calls {
		if c.method == method {
			out = append(out, c.params)
		}
	}
	return out
}

// published returns the diagnostics notifications for uri.
func (r *recorder) published(uri string) []*protocol.PublishDiagnosticsParams {
	var out []*protocol.PublishDiagnosticsParams
	for _, n := range r.notifications(protocol.ServerTextDocumentPublishDiagnostics) {
		p := n.(*protocol.PublishDiagnosticsParams)
		if p.URI == uri {
			out = append(out, p)
		}
	}
	return out
}

func (r *recorder) lastPublished(t *testing.T, uri string) *protocol.PublishDiagnosticsParams {
	t.Helper()
	ps := r.published(uri)
	require.NotEmpty(t, ps, "no diagnostics published for %s", uri)
	return ps[len(ps)-1]
}

func (r *recorder) statuses(uri string) []Status {
	var out []Status
	for _, n := range r.notifications(MethodStatus) {
		p := n.(*StatusParams)
		if p.URI == uri {
			out = append(out, p.State)
		}
	}
	return out
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// project creates a workspace depending on standard, installed unless
// missing is set.
func project(t *testing.T, missing bool) string {
	t.Helper()
	root := t.TempDir()
	write(t, filepath.Join(root, "package.json"), `{"devDependencies": {"standard": "*"}}`)
	if !missing {
		install(t, root)
	}
	return root
}

func install(t *testing.T, root string) {
	write(t, filepath.Join(root, "node_modules", "standard", "package.json"), `{"name": "standard"}`)
}

type harness struct {
	s      *Server
	rec    *recorder
	ctx    *glsp.Context
	runner *semiRunner
	root   string
}

// newHarness initializes a server on a workspace. params is the JSON of
// extra initialize parameters.
func newHarness(t *testing.T, root, params string, opts ...Option) *harness {
	t.Helper()
	r := resolve.New()
	r.Libraries.GlobalRoot = func(context.Context) (string, error) {
		return filepath.Join(t.TempDir(), "global"), nil
	}
	runner := &semiRunner{}
	s := New(append([]Option{WithRunner(runner), WithResolver(r), WithManifestWatch(false)}, opts...)...)
	s.exitFn = func(int) {}
	t.Cleanup(s.Close)

	h := &harness{s: s, rec: &recorder{}, runner: runner, root: root}
	h.ctx = h.rec.context()

	var init protocol.InitializeParams
	if params == "" {
		params = "{}"
	}
	require.NoError(t, json.Unmarshal([]byte(params), &init))
	rootURI := pathToURI(root)
	init.RootURI = &rootURI
	_, err := s.initialize(h.ctx, &init)
	require.NoError(t, err)
	return h
}

func (h *harness) uri(name string) string {
	return pathToURI(filepath.Join(h.root, name))
}

func (h *harness) open(t *testing.T, name, text string) string {
	t.Helper()
	uri := h.uri(name)
	require.NoError(t, h.s.textDocumentDidOpen(h.ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, LanguageID: "javascript", Version: 1, Text: text},
	}))
	return uri
}

func (h *harness) change(t *testing.T, uri string, version int32, text string) {
	t.Helper()
	require.NoError(t, h.s.textDocumentDidChange(h.ctx, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
			Version:                version,
		},
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: text}},
	}))
}

// flush waits until everything queued so far has been processed.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	_, err := h.s.queue.Request(context.Background(), "test/flush", "", func(context.Context) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
}

// applyTextEdits applies LSP edits to content.
func applyTextEdits(content string, edits []protocol.TextEdit) string {
	t := fix.NewText(content)
	var fe []fix.Edit
	for _, e := range edits {
		fe = append(fe, fix.Edit{
			Start: t.OffsetAt(int(e.Range.Start.Line), int(e.Range.Start.Character)),
			End:   t.OffsetAt(int(e.Range.End.Line), int(e.Range.End.Character)),
			Text:  e.NewText,
		})
	}
	return fix.Apply(content, fe)
}

// roundTrip passes diagnostics through JSON the way a client echoes them.
func roundTrip(t *testing.T, diags []protocol.Diagnostic) []protocol.Diagnostic {
	t.Helper()
	data, err := json.Marshal(diags)
	require.NoError(t, err)
	var out []protocol.Diagnostic
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestInitialize(t *testing.T) {
	root := project(t, false)
	h := newHarness(t, root, `{"initializationOptions": {"standard": {"run": "onSave", "autoFixOnSave": true}}}`)

	h.s.mu.Lock()
	global := h.s.global
	folders := h.s.folders
	h.s.mu.Unlock()
	assert.Equal(t, settings.RunOnSave, global.Run)
	assert.True(t, global.AutoFixOnSave)
	require.Len(t, folders, 1)
	assert.Equal(t, root, folders[0].path)

	result, err := h.s.initialize(h.ctx, &protocol.InitializeParams{})
	require.NoError(t, err)
	res, ok := result.(protocol.InitializeResult)
	require.True(t, ok)
	require.NotNil(t, res.ServerInfo)
	assert.Equal(t, serverName, res.ServerInfo.Name)
	require.NotNil(t, res.ServerInfo.Version)
	assert.Equal(t, "dev", *res.ServerInfo.Version)

	actions, ok := res.Capabilities.CodeActionProvider.(*protocol.CodeActionOptions)
	require.True(t, ok)
	assert.Equal(t, []protocol.CodeActionKind{protocol.CodeActionKindQuickFix, "source.fixAll.standard"}, actions.CodeActionKinds)
	require.NotNil(t, res.Capabilities.ExecuteCommandProvider)
	assert.Equal(t, []string{CommandApplyAutoFix}, res.Capabilities.ExecuteCommandProvider.Commands)
	ts, ok := res.Capabilities.TextDocumentSync.(*protocol.TextDocumentSyncOptions)
	require.True(t, ok)
	assert.True(t, *ts.WillSaveWaitUntil)
	assert.Equal(t, protocol.TextDocumentSyncKindFull, *ts.Change)
}

func TestValidateOnOpen(t *testing.T) {
	root := project(t, false)
	h := newHarness(t, root, "")
	uri := h.open(t, "src/a.js", "var a = 1\nconst b = 2;\n")
	h.flush(t)

	p := h.rec.lastPublished(t, uri)
	require.NotNil(t, p.Version)
	assert.Equal(t, protocol.UInteger(1), *p.Version)
	require.Len(t, p.Diagnostics, 2)

	noVar := p.Diagnostics[0]
	assert.Equal(t, "no-var", noVar.Code.Value)
	assert.Equal(t, protocol.Range{
		Start: protocol.Position{Line: 0, Character: 0},
		End:   protocol.Position{Line: 0, Character: 3},
	}, noVar.Range)
	assert.Equal(t, protocol.DiagnosticSeverityError, *noVar.Severity)
	assert.Equal(t, "standard", *noVar.Source)

	semi := p.Diagnostics[1]
	assert.Equal(t, "semi", semi.Code.Value)
	assert.Equal(t, "semi", semi.Data)
	assert.Equal(t, protocol.Position{Line: 0, Character: 9}, semi.Range.Start)
	assert.Equal(t, semi.Range.Start, semi.Range.End, "no end reported: zero width")

	reqs := h.runner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, filepath.Join(root, "src", "a.js"), reqs[0].Filename)
	assert.Equal(t, filepath.Join(root, "node_modules", "standard"), reqs[0].Library)
	assert.Equal(t, root, reqs[0].Cwd)
	assert.False(t, reqs[0].Fix)

	assert.Equal(t, []Status{StatusOK}, h.rec.statuses(uri))
}

func TestTreatErrorsAsWarnings(t *testing.T) {
	st := settings.Defaults()
	st.TreatErrorsAsWarnings = true
	h := newHarness(t, project(t, false), "", WithSettings(st))
	uri := h.open(t, "a.js", "let a = 1\n")
	h.flush(t)

	p := h.rec.lastPublished(t, uri)
	require.Len(t, p.Diagnostics, 1)
	assert.Equal(t, protocol.DiagnosticSeverityWarning, *p.Diagnostics[0].Severity)
}

func TestValidateDisabled(t *testing.T) {
	t.Run("setting", func(t *testing.T) {
		st := settings.Defaults()
		st.Enable = false
		h := newHarness(t, project(t, false), "", WithSettings(st))
		uri := h.open(t, "a.js", "let a = 1\n")
		h.flush(t)
		assert.Empty(t, h.rec.lastPublished(t, uri).Diagnostics)
		assert.Empty(t, h.runner.requests())
	})
	t.Run("language", func(t *testing.T) {
		h := newHarness(t, project(t, false), "")
		uri := h.uri("README.md")
		require.NoError(t, h.s.textDocumentDidOpen(h.ctx, &protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{URI: uri, LanguageID: "markdown", Version: 1, Text: "# x"},
		}))
		h.flush(t)
		assert.Empty(t, h.rec.lastPublished(t, uri).Diagnostics)
		assert.Empty(t, h.runner.requests())
	})
	t.Run("no dependency", func(t *testing.T) {
		root := t.TempDir()
		write(t, filepath.Join(root, "package.json"), `{"name": "plain"}`)
		h := newHarness(t, root, "")
		uri := h.open(t, "a.js", "let a = 1\n")
		h.flush(t)
		assert.Empty(t, h.rec.lastPublished(t, uri).Diagnostics)
		assert.Empty(t, h.runner.requests())
	})
}

func TestLibraryMissing(t *testing.T) {
	root := project(t, true)
	h := newHarness(t, root, "")
	uri := h.open(t, "a.js", "let a = 1\n")
	h.flush(t)
	h.change(t, uri, 2, "let a = 2\n")
	require.NoError(t, h.s.textDocumentDidSave(h.ctx, &protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}))
	h.flush(t)

	assert.Empty(t, h.rec.lastPublished(t, uri).Diagnostics)
	assert.Empty(t, h.runner.requests())
	assert.Len(t, h.rec.notifications(protocol.ServerWindowShowMessage), 1, "warned once")
	assert.Equal(t, []Status{StatusWarn, StatusWarn}, h.rec.statuses(uri))

	// Installing the library and reporting the change revalidates.
	install(t, root)
	require.NoError(t, h.s.workspaceDidChangeWatchedFiles(h.ctx, &protocol.DidChangeWatchedFilesParams{
		Changes: []protocol.FileEvent{{URI: pathToURI(filepath.Join(root, "node_modules", "standard", "package.json")), Type: 1}},
	}))
	h.flush(t)
	assert.Len(t, h.rec.lastPublished(t, uri).Diagnostics, 1)
}

func TestRunnerError(t *testing.T) {
	h := newHarness(t, project(t, false), "")
	h.runner.err = errors.New("engine crashed")
	uri := h.open(t, "a.js", "let a = 1\n")
	h.flush(t)

	assert.Empty(t, h.rec.published(uri))
	assert.Equal(t, []Status{StatusError}, h.rec.statuses(uri))
}

func TestDidChangeDebounce(t *testing.T) {
	h := newHarness(t, project(t, false), "")
	uri := h.open(t, "a.js", "let a = 1;\n")
	h.flush(t)
	require.Empty(t, h.rec.lastPublished(t, uri).Diagnostics)

	h.change(t, uri, 2, "let a = 1\n")
	h.change(t, uri, 3, "let a = 1\nlet b = 2\n")

	assert.Eventually(t, func() bool {
		ps := h.rec.published(uri)
		last := ps[len(ps)-1]
		return last.Version != nil && *last.Version == 3 && len(last.Diagnostics) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Len(t, h.runner.requests(), 2, "rapid changes validated once")
}

func TestRunOnSave(t *testing.T) {
	st := settings.Defaults()
	st.Run = settings.RunOnSave
	h := newHarness(t, project(t, false), "", WithSettings(st))
	uri := h.open(t, "a.js", "let a = 1;\n")
	h.flush(t)

	h.change(t, uri, 2, "let a = 1\n")
	h.s.debounceMu.Lock()
	assert.Empty(t, h.s.debounce, "no validation while typing")
	h.s.debounceMu.Unlock()

	require.NoError(t, h.s.textDocumentDidSave(h.ctx, &protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}))
	h.flush(t)
	p := h.rec.lastPublished(t, uri)
	assert.Equal(t, protocol.UInteger(2), *p.Version)
	assert.Len(t, p.Diagnostics, 1)
}

func TestDidClose(t *testing.T) {
	h := newHarness(t, project(t, false), "")
	uri := h.open(t, "a.js", "let a = 1\n")
	h.flush(t)
	h.change(t, uri, 2, "let a = 2\n")

	require.NoError(t, h.s.textDocumentDidClose(h.ctx, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}))
	assert.Nil(t, h.s.docs.Get(uri))
	assert.Empty(t, h.rec.lastPublished(t, uri).Diagnostics)
	h.s.debounceMu.Lock()
	assert.Empty(t, h.s.debounce)
	h.s.debounceMu.Unlock()
}

func TestDidChangeConfigurationPush(t *testing.T) {
	h := newHarness(t, project(t, false), "")
	uri := h.open(t, "a.js", "let a = 1\n")
	h.flush(t)
	require.Len(t, h.rec.lastPublished(t, uri).Diagnostics, 1)

	require.NoError(t, h.s.workspaceDidChangeConfiguration(h.ctx, &protocol.DidChangeConfigurationParams{
		Settings: map[string]any{"standard": map[string]any{"enable": false}},
	}))
	h.flush(t)
	assert.Empty(t, h.rec.lastPublished(t, uri).Diagnostics)
}

func TestPullConfiguration(t *testing.T) {
	root := project(t, false)
	h := newHarness(t, root, `{"capabilities": {"workspace": {"configuration": true}}}`)
	h.rec.config = []any{map[string]any{"treatErrorsAsWarnings": true, "run": "onSave"}}
	uri := h.open(t, "a.js", "let a = 1\n")

	require.NoError(t, h.s.initialized(h.ctx, &protocol.InitializedParams{}))
	path := filepath.Join(root, "a.js")
	assert.Eventually(t, func() bool {
		st, _ := h.s.settingsFor(path)
		return st.TreatErrorsAsWarnings && st.Run == settings.RunOnSave
	}, 5*time.Second, 10*time.Millisecond)

	reqs := h.rec.requests(protocol.ServerWorkspaceConfiguration)
	require.Len(t, reqs, 1)
	params := reqs[0].(protocol.ConfigurationParams)
	require.Len(t, params.Items, 1)
	assert.Equal(t, pathToURI(root), *params.Items[0].ScopeURI)
	assert.Equal(t, "standard", *params.Items[0].Section)

	assert.Eventually(t, func() bool {
		ps := h.rec.published(uri)
		if len(ps) == 0 {
			return false
		}
		last := ps[len(ps)-1]
		return len(last.Diagnostics) == 1 && *last.Diagnostics[0].Severity == protocol.DiagnosticSeverityWarning
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorkspaceFolders(t *testing.T) {
	root := project(t, false)
	h := newHarness(t, root, "")
	sub := filepath.Join(root, "packages", "app")

	require.NoError(t, h.s.workspaceDidChangeWorkspaceFolders(h.ctx, &protocol.DidChangeWorkspaceFoldersParams{
		Event: protocol.WorkspaceFoldersChangeEvent{
			Added: []protocol.WorkspaceFolder{{URI: pathToURI(sub), Name: "app"}},
		},
	}))
	_, folder := h.s.settingsFor(filepath.Join(sub, "index.js"))
	assert.Equal(t, sub, folder, "innermost folder wins")
	_, folder = h.s.settingsFor(filepath.Join(root, "index.js"))
	assert.Equal(t, root, folder)

	require.NoError(t, h.s.workspaceDidChangeWorkspaceFolders(h.ctx, &protocol.DidChangeWorkspaceFoldersParams{
		Event: protocol.WorkspaceFoldersChangeEvent{
			Removed: []protocol.WorkspaceFolder{{URI: pathToURI(root)}},
		},
	}))
	_, folder = h.s.settingsFor(filepath.Join(root, "index.js"))
	assert.Equal(t, "", folder)
}

func TestServerInfoVersion(t *testing.T) {
	h := newHarness(t, t.TempDir(), "", WithVersion("v1.4.0"))
	result, err := h.s.initialize(h.ctx, &protocol.InitializeParams{})
	require.NoError(t, err)
	res, ok := result.(protocol.InitializeResult)
	require.True(t, ok)
	require.NotNil(t, res.ServerInfo)
	require.NotNil(t, res.ServerInfo.Version)
	assert.Equal(t, "v1.4.0", *res.ServerInfo.Version)
}

func TestURIConversion(t *testing.T) {
	assert.Equal(t, "file:///tmp/a%20b/c.js", pathToURI("/tmp/a b/c.js"))
	assert.Equal(t, "/tmp/a b/c.js", uriToPath("file:///tmp/a%20b/c.js"))
	assert.Equal(t, "/tmp/x.js", uriToPath(pathToURI("/tmp/x.js")))
	assert.Equal(t, "c:/work/x.js", filepath.ToSlash(uriToPath("file:///c%3A/work/x.js")))
	assert.Equal(t, "untitled:Untitled-1", uriToPath("untitled:Untitled-1"))
	assert.Equal(t, "", pathToURI(""))
}

func TestExitHandler(t *testing.T) {
	h := newHarness(t, t.TempDir(), "")
	var exitCode = -1
	h.s.exitFn = func(code int) {
		exitCode = code
	}
	require.NoError(t, h.s.shutdown(h.ctx))
	require.NoError(t, h.s.exit(h.ctx))
	assert.Equal(t, 0, exitCode, "exit should call with code 0")
}
