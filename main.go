// Copyright © 2024 The standard-ls authors

package main

import "github.com/standard-ls/standard-ls/cmd"

func main() {
	cmd.Execute()
}
