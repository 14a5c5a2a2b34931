// Copyright © 2024 The standard-ls authors

package lsp

import (
	"path/filepath"
	"slices"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/standard-ls/standard-ls/resolve"
	"github.com/standard-ls/standard-ls/settings"
)

// folder is a workspace folder. settings is nil until the client answered
// a workspace/configuration request for it.
type folder struct {
	uri      string
	path     string
	settings *settings.Settings
}

func newFolder(uri string) *folder {
	return &folder{uri: uri, path: filepath.Clean(uriToPath(uri))}
}

// applySettings overlays pushed settings onto the server defaults.
func (s *Server) applySettings(raw any) {
	s.mu.Lock()
	base := s.defaults
	s.mu.Unlock()

	st, err := settings.Decode(base, raw)
	if err != nil {
		s.log.Warningf("ignoring settings: %v", err)
		s.showMessage(protocol.MessageTypeWarning, "standard: "+err.Error())
		return
	}
	s.mu.Lock()
	s.global = st
	s.mu.Unlock()
	if st.Trace.Server != "" {
		protocol.SetTraceValue(protocol.TraceValue(st.Trace.Server))
	}
}

// settingsFor returns the settings of the workspace folder containing path
// and the folder path ("" outside any folder).
func (s *Server) settingsFor(path string) (settings.Settings, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *folder
	for _, f := range s.folders {
		if resolve.Within(f.path, path) && (best == nil || len(f.path) > len(best.path)) {
			best = f
		}
	}
	switch {
	case best == nil:
		return s.global.Clone(), ""
	case best.settings != nil:
		return best.settings.Clone(), best.path
	default:
		return s.global.Clone(), best.path
	}
}

// pullConfiguration asks the client for the settings of every workspace
// folder and revalidates. It runs on its own goroutine.
func (s *Server) pullConfiguration() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("panic pulling configuration: %v", r)
		}
	}()

	s.mu.Lock()
	folders := slices.Clone(s.folders)
	s.mu.Unlock()

	section := settings.Section
	var params protocol.ConfigurationParams
	if len(folders) == 0 {
		params.Items = []protocol.ConfigurationItem{{Section: &section}}
	}
	for _, f := range folders {
		uri := f.uri
		params.Items = append(params.Items, protocol.ConfigurationItem{ScopeURI: &uri, Section: &section})
	}

	var result []any
	if !s.sendRequest(protocol.ServerWorkspaceConfiguration, params, &result) {
		return
	}

	s.mu.Lock()
	for i, raw := range result {
		st, err := settings.Decode(s.defaults, raw)
		if err != nil {
			s.log.Warningf("ignoring settings: %v", err)
			continue
		}
		switch {
		case len(folders) == 0:
			s.global = st
		case i < len(folders):
			folders[i].settings = &st
		}
	}
	s.mu.Unlock()

	s.log.Debugf("pulled configuration for %d folder(s)", len(result))
	s.resolver.Reset()
	s.revalidateAll()
}

// workspaceDidChangeConfiguration re-pulls the configuration, or applies
// the pushed settings when the client cannot be asked.
func (s *Server) workspaceDidChangeConfiguration(ctx *glsp.Context, params *protocol.DidChangeConfigurationParams) error {
	s.captureNotify(ctx)

	s.mu.Lock()
	pull := s.canPullConfig
	s.mu.Unlock()
	if pull {
		go s.pullConfiguration()
		return nil
	}

	s.applySettings(params.Settings)
	s.resolver.Reset()
	s.revalidateAll()
	return nil
}

// workspaceDidChangeWatchedFiles drops cached manifests and library
// locations: a package.json or node_modules change can switch engines.
func (s *Server) workspaceDidChangeWatchedFiles(ctx *glsp.Context, params *protocol.DidChangeWatchedFilesParams) error {
	s.captureNotify(ctx)
	if len(params.Changes) == 0 {
		return nil
	}
	s.log.Debugf("%d watched file(s) changed", len(params.Changes))
	s.resolver.Reset()
	s.revalidateAll()
	return nil
}

func (s *Server) workspaceDidChangeWorkspaceFolders(ctx *glsp.Context, params *protocol.DidChangeWorkspaceFoldersParams) error {
	s.captureNotify(ctx)

	s.mu.Lock()
	removed := make(map[string]bool, len(params.Event.Removed))
	for _, f := range params.Event.Removed {
		removed[f.URI] = true
	}
	kept := s.folders[:0]
	for _, f := range s.folders {
		if !removed[f.uri] {
			kept = append(kept, f)
		}
	}
	s.folders = kept
	for _, f := range params.Event.Added {
		s.folders = append(s.folders, newFolder(f.URI))
	}
	pull := s.canPullConfig
	s.mu.Unlock()

	if pull && len(params.Event.Added) > 0 {
		go s.pullConfiguration()
		return nil
	}
	s.revalidateAll()
	return nil
}
