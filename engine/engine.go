// Copyright © 2024 The standard-ls authors

// Package engine locates and invokes the external linter libraries of the
// "standard" family. The libraries are npm packages; they are loaded by a
// small Node.js bridge script that calls their lintText API and reports the
// results as JSON.
package engine

import (
	"fmt"
	"strings"
)

// Engine names a supported linter package.
type Engine string

const (
	Standard     Engine = "standard"
	Semistandard Engine = "semistandard"
	Standardx    Engine = "standardx"
	TSStandard   Engine = "ts-standard"
)

// Known returns the supported engines in preference order.
func Known() []Engine {
	return []Engine{Standard, Semistandard, Standardx, TSStandard}
}

// Parse returns the engine with the given package name.
func Parse(name string) (Engine, error) {
	for _, e := range Known() {
		if string(e) == strings.TrimSpace(name) {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown engine %q (expected one of %s)", name, knownList())
}

// String returns the npm package name.
func (e Engine) String() string {
	return string(e)
}

func knownList() string {
	names := make([]string, 0, len(Known()))
	for _, e := range Known() {
		names = append(names, string(e))
	}
	return strings.Join(names, ", ")
}
