// Copyright © 2024 The standard-ls authors

package lsp

import (
	"fmt"
	"sort"
	"sync"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/standard-ls/standard-ls/fix"
)

// Document represents an open text document tracked by the LSP server.
type Document struct {
	mu         sync.Mutex
	URI        string
	LanguageID string
	Version    int32
	Content    string

	// problems are the rule violations of the last validation, keyed by
	// range and rule. They belong to problemsVersion.
	problems        map[string]problem
	problemsVersion int32
}

// problem is a published diagnostic the code actions can act on.
type problem struct {
	rule string
	rng  protocol.Range
	fix  *fix.Edit
}

func problemKey(rng protocol.Range, rule string) string {
	return fmt.Sprintf("[%d,%d,%d,%d]-%s",
		rng.Start.Line, rng.Start.Character, rng.End.Line, rng.End.Character, rule)
}

func (d *Document) snapshot() (content string, version int32, languageID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Content, d.Version, d.LanguageID
}

// setProblems records the problems of a validation of version.
func (d *Document) setProblems(problems []problem, version int32) {
	m := make(map[string]problem, len(problems))
	for _, p := range problems {
		m[problemKey(p.rng, p.rule)] = p
	}
	d.mu.Lock()
	d.problems = m
	d.problemsVersion = version
	d.mu.Unlock()
}

// currentProblems returns the recorded problems when they belong to the
// current version, sorted by position.
func (d *Document) currentProblems() []problem {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.problems == nil || d.problemsVersion != d.Version {
		return nil
	}
	ps := make([]problem, 0, len(d.problems))
	for _, p := range d.problems {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i].rng.Start, ps[j].rng.Start
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Character != b.Character {
			return a.Character < b.Character
		}
		return ps[i].rule < ps[j].rule
	})
	return ps
}

// problemFor returns the recorded problem behind a client diagnostic.
func (d *Document) problemFor(diag protocol.Diagnostic) (problem, bool) {
	rule := diagnosticCode(diag)
	if rule == "" {
		return problem{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.problemsVersion != d.Version {
		return problem{}, false
	}
	p, ok := d.problems[problemKey(diag.Range, rule)]
	return p, ok
}

// DocumentStore manages open documents with thread-safe access.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewDocumentStore creates an empty document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]*Document)}
}

// Open adds a document to the store.
func (s *DocumentStore) Open(uri, languageID string, version int32, content string) *Document {
	doc := &Document{
		URI:        uri,
		LanguageID: languageID,
		Version:    version,
		Content:    content,
	}
	s.mu.Lock()
	s.docs[uri] = doc
	s.mu.Unlock()
	return doc
}

// Change updates a document's content (full sync).
func (s *DocumentStore) Change(uri string, version int32, content string) *Document {
	s.mu.Lock()
	doc, ok := s.docs[uri]
	if !ok {
		doc = &Document{URI: uri}
		s.docs[uri] = doc
	}
	s.mu.Unlock()

	doc.mu.Lock()
	doc.Version = version
	doc.Content = content
	doc.mu.Unlock()
	return doc
}

// Close removes a document from the store.
func (s *DocumentStore) Close(uri string) {
	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()
}

// Get retrieves a document by URI. Returns nil if not found.
func (s *DocumentStore) Get(uri string) *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[uri]
}

// All returns the open documents.
func (s *DocumentStore) All() []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].URI < docs[j].URI })
	return docs
}

// Version returns the version of an open document.
func (s *DocumentStore) Version(uri string) (int32, bool) {
	doc := s.Get(uri)
	if doc == nil {
		return 0, false
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return doc.Version, true
}
