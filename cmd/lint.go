// Copyright © 2024 The standard-ls authors

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/standard-ls/standard-ls/engine"
	"github.com/standard-ls/standard-ls/fix"
	"github.com/standard-ls/standard-ls/lint"
	"github.com/standard-ls/standard-ls/resolve"
	"github.com/standard-ls/standard-ls/settings"
)

const stdinName = "<stdin>"

type lintFlags struct {
	fix           bool
	diff          bool
	json          bool
	engine        string
	excludes      []string
	stdinFilename string
}

// lintJob is one text to lint. path is absolute and drives resolution;
// name is what the user sees.
type lintJob struct {
	name  string
	path  string
	text  string
	stdin bool
}

type lintResult struct {
	diags   []lint.Diagnostic
	fixed   *string
	skipped string
}

// LintCommand creates the "lint" cobra command with optional embedder
// configuration.
func LintCommand(opts ...Option) *cobra.Command {
	cfg := newCmdConfig(opts)
	var f lintFlags

	cmd := &cobra.Command{
		Use:   "lint [flags] [files...]",
		Short: "Lint JavaScript and TypeScript files with standard",
		Long: `Lint JavaScript and TypeScript files with the standard engine of their
project.

Each file is resolved the way the language server resolves documents: the
nearest package.json picks the engine (standard, semistandard, standardx or
ts-standard) and its options, and the engine library is loaded from the
project's node_modules. Files whose project does not use an engine are
skipped unless standard.enableGlobally is set.

With no files, reads from stdin. A "dir/..." argument lints every .js, .jsx,
.mjs, .cjs, .ts and .tsx file below dir, skipping node_modules and hidden
directories.

Exit codes:
  0  No problems found
  1  One or more problems were reported (or --diff found fixes)
  2  Bad invocation (invalid flags, unreadable files, missing engine)

Examples:
  standard-ls lint index.js                       # Lint a single file
  standard-ls lint ./...                          # Lint the whole tree
  standard-ls lint --fix ./...                    # Fix files in place
  standard-ls lint --diff src/...                 # Show fixes as a patch
  standard-ls lint --json index.js                # Output diagnostics as JSON
  standard-ls lint --engine semistandard a.js     # Prefer another engine
  standard-ls lint --exclude='dist' ./...         # Exclude a directory
  cat a.js | standard-ls lint --stdin-filename a.js  # Lint from stdin`,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			code := cfg.runLint(ctx, f, args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			stop()
			if code != 0 {
				os.Exit(code)
			}
		},
	}

	cmd.Flags().BoolVar(&f.fix, "fix", false,
		"Write fixes for auto-fixable problems back to the files (stdin: print the fixed text).")
	cmd.Flags().BoolVar(&f.diff, "diff", false,
		"Print the fixes as a unified diff instead of writing them.")
	cmd.Flags().BoolVar(&f.json, "json", false,
		"Output diagnostics as JSON.")
	cmd.Flags().StringVar(&f.engine, "engine", "",
		"Preferred engine when package.json does not name one (standard, semistandard, standardx, ts-standard).")
	cmd.Flags().StringArrayVar(&f.excludes, "exclude", nil,
		"Glob pattern for files to exclude (may be repeated).")
	cmd.Flags().StringVar(&f.stdinFilename, "stdin-filename", "",
		"File name used to resolve and report text read from stdin.")

	return cmd
}

// runLint lints the files named by args and returns the exit code.
func (c *cmdConfig) runLint(ctx context.Context, f lintFlags, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fail := func(err error) int {
		fmt.Fprintf(stderr, "standard-ls lint: %v\n", err) //nolint:errcheck // best-effort output
		return 2
	}
	if f.fix && f.diff {
		return fail(errors.New("--fix and --diff are mutually exclusive"))
	}

	st, err := settings.FromViper(viper.GetViper())
	if err != nil {
		return fail(fmt.Errorf("config: %w", err))
	}
	if f.engine != "" {
		e, err := engine.Parse(f.engine)
		if err != nil {
			return fail(err)
		}
		st.Engine = e
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fail(err)
	}

	var jobs []lintJob
	if len(args) == 0 {
		if f.fix && f.json {
			return fail(errors.New("--fix with stdin prints the fixed text and cannot be combined with --json"))
		}
		job, err := stdinJob(stdin, cwd, f.stdinFilename)
		if err != nil {
			return fail(err)
		}
		jobs = append(jobs, job)
	} else {
		files, err := expandArgs(args, f.excludes)
		if err != nil {
			return fail(err)
		}
		for _, name := range files {
			job, err := fileJob(cwd, name)
			if err != nil {
				return fail(err)
			}
			jobs = append(jobs, job)
		}
	}

	results := make([]lintResult, len(jobs))
	r := c.resolverOrNew()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range jobs {
		i := i
		g.Go(func() error {
			res, err := c.lintOne(gctx, r, st, cwd, jobs[i], f.fix || f.diff)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	var (
		all     []lint.Diagnostic
		patched bool
	)
	sources := make(map[string]string, len(jobs))
	for i, job := range jobs {
		res := results[i]
		if res.skipped != "" {
			log.Infof("%s: skipped: %s", job.name, res.skipped)
			fmt.Fprintf(stderr, "%s: skipped: %s\n", job.name, res.skipped) //nolint:errcheck // best-effort output
			continue
		}
		text := job.text
		if res.fixed != nil {
			switch {
			case f.diff:
				patched = true
				fmt.Fprint(stdout, fix.Unified(job.name, job.text, *res.fixed)) //nolint:errcheck // best-effort output
				text = *res.fixed
			case job.stdin:
				fmt.Fprint(stdout, *res.fixed) //nolint:errcheck // best-effort output
				text = *res.fixed
			default:
				if err := writeFixed(job.path, *res.fixed); err != nil {
					return fail(err)
				}
				text = *res.fixed
			}
		} else if f.fix && job.stdin {
			fmt.Fprint(stdout, job.text) //nolint:errcheck // best-effort output
		}
		sources[job.name] = text
		all = append(all, res.diags...)
	}

	if f.json {
		if err := lint.FormatJSON(stdout, all); err != nil {
			return fail(err)
		}
	} else if len(all) > 0 {
		if err := renderLintDiagnostics(stderr, all, sources); err != nil {
			return fail(err)
		}
	}
	if len(all) > 0 || patched {
		return 1
	}
	return 0
}

// lintOne resolves and lints one job. When fixing, the diagnostics are the
// problems left after the fixes.
func (c *cmdConfig) lintOne(ctx context.Context, r *resolve.Resolver, st settings.Settings, cwd string, job lintJob, fixing bool) (lintResult, error) {
	var res lintResult
	cfg, err := r.Resolve(ctx, resolve.Input{Path: job.path, Folder: cwd, Settings: st})
	if errors.Is(err, engine.ErrLibraryNotFound) {
		return res, fmt.Errorf("%s: %w: install it with \"npm install --save-dev %s\"", job.name, err, cfg.Engine)
	}
	if err != nil {
		return res, fmt.Errorf("%s: %w", job.name, err)
	}
	if !cfg.Enabled {
		res.skipped = cfg.Reason
		return res, nil
	}

	l := &lint.Linter{Runner: c.runnerFor(cfg.Settings)}
	out, err := l.LintText(ctx, cfg.Request(job.path, job.text, fixing))
	if err != nil {
		return res, fmt.Errorf("%s: %w", job.name, err)
	}
	for _, d := range out.Diagnostics {
		d.Pos.File = job.name
		if d.End.Line > 0 {
			d.End.File = job.name
		}
		if st.TreatErrorsAsWarnings && d.Severity == lint.SeverityError {
			d.Severity = lint.SeverityWarning
		}
		res.diags = append(res.diags, d)
	}
	if out.Output != nil && *out.Output != job.text {
		res.fixed = out.Output
	}
	return res, nil
}

func stdinJob(stdin io.Reader, cwd, filename string) (lintJob, error) {
	src, err := io.ReadAll(stdin)
	if err != nil {
		return lintJob{}, fmt.Errorf("reading stdin: %w", err)
	}
	job := lintJob{name: stdinName, text: string(src), stdin: true}
	if filename == "" {
		job.path = filepath.Join(cwd, "stdin.js")
		return job, nil
	}
	job.name = filename
	job.path = absPath(cwd, filename)
	return job, nil
}

func fileJob(cwd, name string) (lintJob, error) {
	src, err := os.ReadFile(name) //nolint:gosec // CLI tool reads user-specified files
	if err != nil {
		return lintJob{}, fmt.Errorf("%s: %w", name, err)
	}
	return lintJob{name: name, path: absPath(cwd, name), text: string(src)}, nil
}

func absPath(cwd, name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(cwd, name)
}

// writeFixed replaces the file content, keeping its permissions.
func writeFixed(path, text string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), info.Mode().Perm())
}

func init() {
	rootCmd.AddCommand(LintCommand())
}
