// Copyright © 2024 The standard-ls authors

// Package queue serializes language server work in arrival order.
//
// Notifications and requests that concern a document are stamped with the
// document version when they are queued. When the worker reaches a message
// whose document has moved on to another version (or was closed), the
// message is stale: notifications are dropped and requests are answered with
// ErrCancelled.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
)

var (
	// ErrCancelled is returned for requests that were cancelled by their
	// caller or invalidated by a document change before they ran.
	ErrCancelled = errors.New("request cancelled")

	// ErrClosed is returned for requests that can no longer run because the
	// queue was shut down.
	ErrClosed = errors.New("queue closed")
)

// VersionFunc reports the current version of the document identified by
// uri, and whether the document is known at all.
type VersionFunc func(uri string) (int32, bool)

type result struct {
	value any
	err   error
}

type message struct {
	method    string
	uri       string
	version   int32
	versioned bool

	ctx     context.Context
	notify  func(context.Context)
	request func(context.Context) (any, error)
	reply   chan result
}

func (m *message) isRequest() bool {
	return m.request != nil
}

// Queue is a FIFO of pending work processed by a single worker.
type Queue struct {
	version VersionFunc
	log     commonlog.Logger

	mu      sync.Mutex
	pending []*message
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// New creates a queue. version may be nil, in which case no message is
// version-gated.
func New(version VersionFunc) *Queue {
	return &Queue{
		version: version,
		log:     commonlog.GetLogger("standard-ls.queue"),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Notify queues fn. When uri names a known document the current version is
// recorded and fn only runs if the document still has that version. A
// pending notification for the same method and uri is superseded.
func (q *Queue) Notify(method, uri string, fn func(context.Context)) {
	m := &message{method: method, uri: uri, notify: fn}
	q.stamp(m)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if uri != "" {
		kept := q.pending[:0]
		for _, p := range q.pending {
			if !p.isRequest() && p.method == method && p.uri == uri {
				q.log.Debugf("superseding %s for %s", method, uri)
				continue
			}
			kept = append(kept, p)
		}
		q.pending = kept
	}
	q.pending = append(q.pending, m)
	q.signal()
}

// Request queues fn and waits for its result. The request is answered with
// ErrCancelled when ctx ends before the worker reaches it or when the
// document identified by uri changed version in the meantime.
func (q *Queue) Request(ctx context.Context, method, uri string, fn func(context.Context) (any, error)) (any, error) {
	m := &message{
		method:  method,
		uri:     uri,
		ctx:     ctx,
		request: fn,
		reply:   make(chan result, 1),
	}
	q.stamp(m)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	q.pending = append(q.pending, m)
	q.signal()
	q.mu.Unlock()

	select {
	case r := <-m.reply:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ErrCancelled
	case <-q.done:
		// The worker may have answered just before stopping.
		select {
		case r := <-m.reply:
			return r.value, r.err
		default:
			return nil, ErrClosed
		}
	}
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run processes messages until ctx ends or Close is called.
func (q *Queue) Run(ctx context.Context) {
	defer q.Close()
	for {
		m := q.next()
		if m == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case <-q.wake:
			}
			continue
		}
		q.process(ctx, m)
	}
}

// Close stops the queue. Pending requests are answered with ErrClosed and
// pending notifications are dropped. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	close(q.done)
	q.mu.Unlock()

	for _, m := range pending {
		if m.isRequest() {
			m.reply <- result{err: ErrClosed}
		}
	}
}

func (q *Queue) stamp(m *message) {
	if m.uri == "" || q.version == nil {
		return
	}
	if v, ok := q.version(m.uri); ok {
		m.version = v
		m.versioned = true
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) next() *message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	m := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return m
}

// stale reports whether m was stamped with a document version that no
// longer matches the document.
func (q *Queue) stale(m *message) bool {
	if !m.versioned {
		return false
	}
	v, ok := q.version(m.uri)
	return !ok || v != m.version
}

func (q *Queue) process(ctx context.Context, m *message) {
	if !m.isRequest() {
		if q.stale(m) {
			q.log.Debugf("dropping stale %s for %s (version %d)", m.method, m.uri, m.version)
			return
		}
		q.runNotification(ctx, m)
		return
	}

	if m.ctx.Err() != nil || q.stale(m) {
		m.reply <- result{err: ErrCancelled}
		return
	}
	value, err := q.runRequest(m)
	m.reply <- result{value: value, err: err}
}

func (q *Queue) runNotification(ctx context.Context, m *message) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorf("panic handling %s: %v", m.method, r)
		}
	}()
	m.notify(ctx)
}

func (q *Queue) runRequest(m *message) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorf("panic handling %s: %v", m.method, r)
			value, err = nil, fmt.Errorf("%s: internal error: %v", m.method, r)
		}
	}()
	return m.request(m.ctx)
}
