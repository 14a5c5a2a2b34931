// Copyright © 2024 The standard-ls authors

package engine

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

//go:embed bridge.js
var bridgeScript string

// DefaultTimeout bounds a single engine invocation.
const DefaultTimeout = 30 * time.Second

// Request describes one lint run.
type Request struct {
	Engine   Engine         `json:"engine"`
	Library  string         `json:"library"`
	Cwd      string         `json:"cwd,omitempty"`
	Filename string         `json:"filename,omitempty"`
	Text     string         `json:"text"`
	Fix      bool           `json:"fix"`
	Options  map[string]any `json:"options,omitempty"`
}

// Report is the engine's answer in ESLint's result format.
type Report struct {
	Results []Result `json:"results"`
}

// Result holds the problems found in one file.
type Result struct {
	FilePath            string    `json:"filePath"`
	Messages            []Message `json:"messages"`
	ErrorCount          int       `json:"errorCount"`
	WarningCount        int       `json:"warningCount"`
	FixableErrorCount   int       `json:"fixableErrorCount"`
	FixableWarningCount int       `json:"fixableWarningCount"`

	// Output is the fixed source. Engines only set it when a fix was
	// requested and something changed.
	Output *string `json:"output,omitempty"`
}

// Message is a single problem. Line and Column are 1-based; columns and fix
// ranges count UTF-16 code units.
type Message struct {
	RuleID    string      `json:"ruleId"`
	Severity  int         `json:"severity"`
	Message   string      `json:"message"`
	Line      int         `json:"line"`
	Column    int         `json:"column"`
	EndLine   int         `json:"endLine,omitempty"`
	EndColumn int         `json:"endColumn,omitempty"`
	Fatal     bool        `json:"fatal,omitempty"`
	Fix       *MessageFix `json:"fix,omitempty"`
}

// MessageFix replaces Range (start, end offsets) with Text.
type MessageFix struct {
	Range [2]int `json:"range"`
	Text  string `json:"text"`
}

// Runner lints text with an engine library.
type Runner interface {
	Lint(ctx context.Context, req Request) (*Report, error)
}

// NodeRunner runs engines with a Node.js runtime.
type NodeRunner struct {
	// Runtime is the node executable. Defaults to "node".
	Runtime string

	// NodePath is prepended to NODE_PATH.
	NodePath string

	// Timeout bounds each run. Defaults to DefaultTimeout.
	Timeout time.Duration
}

type bridgeReply struct {
	Results []Result `json:"results"`
	Error   string   `json:"error"`
}

// Lint implements Runner.
func (r *NodeRunner) Lint(ctx context.Context, req Request) (*Report, error) {
	if req.Library == "" {
		return nil, fmt.Errorf("%s: no library path", req.Engine)
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	runtime := r.Runtime
	if runtime == "" {
		runtime = "node"
	}
	cmd := exec.CommandContext(ctx, runtime, "-e", bridgeScript)
	cmd.Stdin = bytes.NewReader(input)
	if req.Cwd != "" {
		if info, err := os.Stat(req.Cwd); err == nil && info.IsDir() {
			cmd.Dir = req.Cwd
		}
	}
	cmd.Env = r.environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s: %w", req.Engine, ctx.Err())
	}
	reply, parseErr := parseReply(stdout.Bytes())
	if runErr != nil || parseErr != nil {
		msg := strings.TrimSpace(stderr.String())
		cause := runErr
		if cause == nil {
			cause = parseErr
		}
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", req.Engine, cause, msg)
		}
		return nil, fmt.Errorf("%s: %w", req.Engine, cause)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%s: %s", req.Engine, firstLine(reply.Error))
	}
	return &Report{Results: reply.Results}, nil
}

func (r *NodeRunner) environ() []string {
	env := os.Environ()
	if r.NodePath == "" {
		return env
	}
	nodePath := r.NodePath
	if cur := os.Getenv("NODE_PATH"); cur != "" {
		nodePath += string(filepath.ListSeparator) + cur
	}
	return append(env, "NODE_PATH="+nodePath)
}

// parseReply decodes the last non-empty line of the bridge output. Engines
// and plugins occasionally print to stdout themselves.
func parseReply(out []byte) (*bridgeReply, error) {
	var last string
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading engine output: %w", err)
	}
	if last == "" {
		return nil, errors.New("engine produced no output")
	}
	var reply bridgeReply
	if err := json.Unmarshal([]byte(last), &reply); err != nil {
		return nil, fmt.Errorf("decoding engine output: %w", err)
	}
	return &reply, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
