// Copyright © 2024 The standard-ls authors

// Package docs embeds the settings reference for use by the CLI.
package docs

import _ "embed"

//go:embed settings.md
var Settings string
