// Copyright © 2024 The standard-ls authors

// Package lsp implements a Language Server Protocol server that lints
// JavaScript and TypeScript documents with the engines of the "standard"
// family. It publishes diagnostics and offers autofix code actions, a fix
// command, fix-on-save and formatting.
package lsp

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"
	"go.opentelemetry.io/otel/trace"

	"github.com/standard-ls/standard-ls/engine"
	"github.com/standard-ls/standard-ls/lint"
	"github.com/standard-ls/standard-ls/queue"
	"github.com/standard-ls/standard-ls/resolve"
	"github.com/standard-ls/standard-ls/settings"
)

const serverName = "standard-ls"

// Server is the standard language server.
type Server struct {
	handler protocol.Handler
	glspSrv *glspserver.Server
	log     commonlog.Logger

	docs     *DocumentStore
	queue    *queue.Queue
	resolver *resolve.Resolver

	// runner overrides the Node.js runner built from the settings.
	runner  engine.Runner
	tracer  trace.Tracer
	timeout time.Duration
	watch   bool
	version string

	// mu guards the workspace state below.
	mu            sync.Mutex
	defaults      settings.Settings
	global        settings.Settings
	folders       []*folder
	canPullConfig bool
	canApplyEdit  bool
	missing       map[string]bool

	// Debouncer for didChange notifications.
	debounceMu sync.Mutex
	debounce   map[string]*time.Timer

	// Client callbacks captured from the latest message.
	notifyMu sync.Mutex
	notify   glsp.NotifyFunc
	call     glsp.CallFunc

	stop context.CancelFunc

	// exitFn is called on the LSP exit notification. Defaults to os.Exit.
	// Overridable for testing.
	exitFn func(int)
}

// Option configures the LSP server.
type Option func(*Server)

// WithRunner replaces the Node.js engine runner.
func WithRunner(r engine.Runner) Option {
	return func(s *Server) { s.runner = r }
}

// WithSettings sets the server-side default settings that client settings
// are overlaid on.
func WithSettings(st settings.Settings) Option {
	return func(s *Server) { s.defaults = st }
}

// WithResolver replaces the document resolver.
func WithResolver(r *resolve.Resolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithTracer sets the tracer used for lint runs.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// WithVersion sets the version reported in the initialize result.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithTimeout bounds each engine run.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithManifestWatch enables or disables watching package.json files.
func WithManifestWatch(enabled bool) Option {
	return func(s *Server) { s.watch = enabled }
}

// New creates a new language server and starts its message queue.
func New(opts ...Option) *Server {
	s := &Server{
		log:      commonlog.GetLogger("standard-ls.lsp"),
		docs:     NewDocumentStore(),
		defaults: settings.Defaults(),
		timeout:  engine.DefaultTimeout,
		version:  "dev",
		watch:    true,
		missing:  make(map[string]bool),
		debounce: make(map[string]*time.Timer),
		exitFn:   os.Exit,
	}
	for _, o := range opts {
		o(s)
	}
	if s.resolver == nil {
		s.resolver = resolve.New()
	}
	s.global = s.defaults.Clone()
	s.queue = queue.New(s.docs.Version)

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	go s.queue.Run(ctx)

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		Exit:        s.exit,
		SetTrace:    s.setTrace,

		WorkspaceDidChangeConfiguration:    s.workspaceDidChangeConfiguration,
		WorkspaceDidChangeWatchedFiles:     s.workspaceDidChangeWatchedFiles,
		WorkspaceDidChangeWorkspaceFolders: s.workspaceDidChangeWorkspaceFolders,
		WorkspaceExecuteCommand:            s.workspaceExecuteCommand,

		TextDocumentDidOpen:           s.textDocumentDidOpen,
		TextDocumentDidChange:         s.textDocumentDidChange,
		TextDocumentDidSave:           s.textDocumentDidSave,
		TextDocumentDidClose:          s.textDocumentDidClose,
		TextDocumentWillSaveWaitUntil: s.textDocumentWillSaveWaitUntil,

		TextDocumentCodeAction: s.textDocumentCodeAction,
		TextDocumentFormatting: s.textDocumentFormatting,
	}

	s.glspSrv = glspserver.NewServer(&s.handler, serverName, false)
	return s
}

// RunStdio starts the server using stdio transport.
func (s *Server) RunStdio() error {
	defer s.Close()
	return s.glspSrv.RunStdio()
}

// RunTCP starts the server listening on the given address.
func (s *Server) RunTCP(addr string) error {
	defer s.Close()
	return s.glspSrv.RunTCP(addr)
}

// Close stops background work: debounce timers, the queue and the
// manifest watcher.
func (s *Server) Close() {
	s.stopDebounce()
	s.queue.Close()
	s.stop()
	if err := s.resolver.Manifests.Close(); err != nil {
		s.log.Warningf("closing manifest watcher: %v", err)
	}
}

// initialize handles the LSP initialize request.
func (s *Server) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.captureNotify(ctx)

	s.mu.Lock()
	if ws := params.Capabilities.Workspace; ws != nil {
		s.canPullConfig = ws.Configuration != nil && *ws.Configuration
		s.canApplyEdit = ws.ApplyEdit != nil && *ws.ApplyEdit
	}
	s.folders = nil
	for _, f := range params.WorkspaceFolders {
		s.folders = append(s.folders, newFolder(f.URI))
	}
	if len(s.folders) == 0 {
		switch {
		case params.RootURI != nil:
			s.folders = append(s.folders, newFolder(*params.RootURI))
		case params.RootPath != nil:
			s.folders = append(s.folders, newFolder(pathToURI(*params.RootPath)))
		}
	}
	s.mu.Unlock()

	if params.InitializationOptions != nil {
		s.applySettings(params.InitializationOptions)
	}

	capabilities := s.handler.CreateServerCapabilities()

	// Override text document sync to full.
	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose:         boolPtr(true),
		Change:            &syncKind,
		WillSaveWaitUntil: boolPtr(true),
		Save:              &protocol.SaveOptions{IncludeText: boolPtr(false)},
	}
	capabilities.CodeActionProvider = &protocol.CodeActionOptions{
		CodeActionKinds: []protocol.CodeActionKind{
			protocol.CodeActionKindQuickFix,
			codeActionKindFixAll,
		},
	}
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: []string{CommandApplyAutoFix},
	}
	capabilities.Workspace = &protocol.ServerCapabilitiesWorkspace{
		WorkspaceFolders: &protocol.WorkspaceFoldersServerCapabilities{
			Supported:           boolPtr(true),
			ChangeNotifications: &protocol.BoolOrString{Value: true},
		},
	}

	version := s.version
	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    serverName,
			Version: &version,
		},
	}, nil
}

// initialized pulls the workspace configuration, when the client supports
// it, and starts watching manifests.
func (s *Server) initialized(ctx *glsp.Context, _ *protocol.InitializedParams) error {
	s.captureNotify(ctx)

	if s.watch {
		err := s.resolver.Manifests.Watch(func(path string) {
			s.log.Infof("%s changed, revalidating", path)
			s.resolver.Libraries.Reset()
			s.revalidateAll()
		})
		if err != nil {
			s.log.Warningf("watching manifests: %v", err)
		}
	}

	s.mu.Lock()
	pull := s.canPullConfig
	s.mu.Unlock()
	if pull {
		go s.pullConfiguration()
	}
	return nil
}

// shutdown handles the LSP shutdown request.
func (s *Server) shutdown(_ *glsp.Context) error {
	s.Close()
	return nil
}

// exit handles the LSP exit notification by terminating the process.
func (s *Server) exit(_ *glsp.Context) error {
	s.exitFn(0)
	return nil
}

// setTrace handles the $/setTrace notification (required by some clients).
func (s *Server) setTrace(_ *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

func (s *Server) stopDebounce() {
	s.debounceMu.Lock()
	for _, t := range s.debounce {
		t.Stop()
	}
	s.debounce = make(map[string]*time.Timer)
	s.debounceMu.Unlock()
}

// captureNotify stores the client callbacks from the context for async use
// (e.g., publishing diagnostics from the queue worker).
func (s *Server) captureNotify(ctx *glsp.Context) {
	s.notifyMu.Lock()
	if ctx.Notify != nil {
		s.notify = ctx.Notify
	}
	if ctx.Call != nil {
		s.call = ctx.Call
	}
	s.notifyMu.Unlock()
}

// sendNotification sends a notification to the client.
func (s *Server) sendNotification(method string, params any) {
	s.notifyMu.Lock()
	fn := s.notify
	s.notifyMu.Unlock()
	if fn != nil {
		fn(method, params)
	}
}

// sendRequest sends a request to the client and waits for the answer. It
// must not be called from a message handler: the connection handles one
// message at a time, so the response could never be read.
func (s *Server) sendRequest(method string, params, result any) bool {
	s.notifyMu.Lock()
	fn := s.call
	s.notifyMu.Unlock()
	if fn == nil {
		return false
	}
	fn(method, params, result)
	return true
}

// request runs fn on the queue as a request about uri. Requests the queue
// cancelled or could no longer run are answered with no result.
func (s *Server) request(method, uri string, fn func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	v, err := s.queue.Request(ctx, method, uri, fn)
	if errors.Is(err, queue.ErrCancelled) || errors.Is(err, queue.ErrClosed) {
		s.log.Debugf("%s for %s: %v", method, uri, err)
		return nil, nil
	}
	return v, err
}

// showMessage displays a message in the client.
func (s *Server) showMessage(typ protocol.MessageType, msg string) {
	s.sendNotification(protocol.ServerWindowShowMessage, &protocol.ShowMessageParams{
		Type:    typ,
		Message: msg,
	})
}

func (s *Server) linterFor(st settings.Settings) *lint.Linter {
	r := s.runner
	if r == nil {
		r = &engine.NodeRunner{
			Runtime:  st.Runtime,
			NodePath: st.NodePath,
			Timeout:  s.timeout,
		}
	}
	return &lint.Linter{Runner: r, Tracer: s.tracer}
}

func boolPtr(b bool) *bool {
	return &b
}
