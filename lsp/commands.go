// Copyright © 2024 The standard-ls authors

package lsp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// CommandApplyAutoFix fixes every auto-fixable problem of a document.
const CommandApplyAutoFix = "standard.applyAutoFix"

// AutoFixArgs is the argument of CommandApplyAutoFix. Version is the
// document version the command was offered for.
type AutoFixArgs struct {
	URI     string `json:"uri"`
	Version int32  `json:"version"`
}

func (s *Server) workspaceExecuteCommand(ctx *glsp.Context, params *protocol.ExecuteCommandParams) (any, error) {
	s.captureNotify(ctx)
	if params.Command != CommandApplyAutoFix {
		return nil, fmt.Errorf("unknown command %q", params.Command)
	}
	args, err := parseAutoFixArgs(params.Arguments)
	if err != nil {
		return nil, err
	}

	v, err := s.request(protocol.MethodWorkspaceExecuteCommand, args.URI, func(ctx context.Context) (any, error) {
		doc := s.docs.Get(args.URI)
		if doc == nil {
			return nil, nil
		}
		edits, version, err := s.fixAllEdits(ctx, doc)
		if err != nil {
			return nil, err
		}
		if version != args.Version {
			s.showMessage(protocol.MessageTypeError,
				"Failed to apply standard fixes: the document changed since the fixes were computed.")
			return nil, nil
		}
		return edits, nil
	})
	if err != nil {
		return nil, err
	}
	if edits, _ := v.([]protocol.TextEdit); len(edits) > 0 {
		go s.applyEdit("Fix all auto-fixable problems", args.URI, edits)
	}
	return nil, nil
}

func parseAutoFixArgs(raw []any) (AutoFixArgs, error) {
	var args AutoFixArgs
	if len(raw) == 0 {
		return args, fmt.Errorf("%s: missing argument", CommandApplyAutoFix)
	}
	data, err := json.Marshal(raw[0])
	if err != nil {
		return args, fmt.Errorf("%s: %w", CommandApplyAutoFix, err)
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return args, fmt.Errorf("%s: %w", CommandApplyAutoFix, err)
	}
	if args.URI == "" {
		return args, fmt.Errorf("%s: missing uri", CommandApplyAutoFix)
	}
	return args, nil
}

// applyEdit asks the client to apply edits to uri. It runs on its own
// goroutine.
func (s *Server) applyEdit(label, uri string, edits []protocol.TextEdit) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("panic applying edits to %s: %v", uri, r)
		}
	}()

	s.mu.Lock()
	can := s.canApplyEdit
	s.mu.Unlock()
	if !can {
		s.showMessage(protocol.MessageTypeError, "The client cannot apply workspace edits.")
		return
	}

	var resp protocol.ApplyWorkspaceEditResponse
	params := protocol.ApplyWorkspaceEditParams{
		Label: &label,
		Edit:  *workspaceEdit(uri, edits),
	}
	if !s.sendRequest(protocol.ServerWorkspaceApplyEdit, params, &resp) {
		return
	}
	if !resp.Applied {
		reason := "unknown reason"
		if resp.FailureReason != nil {
			reason = *resp.FailureReason
		}
		s.log.Warningf("client did not apply fixes to %s: %s", uri, reason)
	}
}
