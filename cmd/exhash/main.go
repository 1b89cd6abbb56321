// Command exhash opens (or creates) a disk-backed extendible hash table
// and drives an interactive shell over it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/patterdb/exhash/internal/exhash"
	"github.com/patterdb/exhash/internal/replshell"
)

const defaultPrompt = "exhash> "

func main() {
	dbFlag := pflag.StringP("db", "d", "data/table.db", "path to the table file")
	seedFlag := pflag.Uint64P("seed", "s", 0, "hash seed for this table")
	promptFlag := pflag.BoolP("prompt", "c", true, "show the interactive prompt")
	pflag.Parse()

	ix, err := exhash.OpenIndex(*dbFlag, *seedFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer ix.Close()

	prompt := ""
	if *promptFlag {
		prompt = defaultPrompt
	}

	shell := replshell.New()
	replshell.RegisterHashCommands(shell, ix)
	shell.Run(prompt, nil, nil)
}
