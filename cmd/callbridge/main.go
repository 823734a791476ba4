// Package main provides the callbridge command.
//
// Usage:
//
//	callbridge [flags] <command> [args]
//
// Commands:
//
//	serve  - run the HTTP bridge
//	call   - place one bridged call and wait for it to finish
//	split  - split a stereo PCM recording into per-speaker files
//
// Configuration is read from config.yaml, a .env file and the environment.
package main

import (
	"fmt"
	"os"

	"github.com/tjfontaine/callbridge/cmd/callbridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
