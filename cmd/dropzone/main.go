package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/marmos91/dropzone/cmd/dropzone/commands"
	"github.com/marmos91/dropzone/internal/cli/prompt"
)

func main() {
	if err := commands.Execute(); err != nil {
		if errors.Is(err, prompt.ErrAborted) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
