// Package replshell implements a small line-oriented command shell, the
// same trigger-dispatch shape as the teacher's REPL package, generalized
// so any command set (not just a hash table's) can be plugged in.
package replshell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// TriggerHelpMetacommand prints every registered command's help string.
const TriggerHelpMetacommand = ".help"

// ErrorPrependStr prefixes any command error before it reaches output.
const ErrorPrependStr = "ERROR: "

// ErrCommandNotFound is reported when a typed trigger has no handler.
var ErrCommandNotFound = errors.New("command not found")

// Command handles one payload line (the full line, trigger included) and
// returns text to print or an error.
type Command func(payload string) (output string, err error)

// Shell dispatches input lines to registered commands by their first
// whitespace-separated field.
type Shell struct {
	commands map[string]Command
	help     map[string]string
}

// New returns an empty Shell.
func New() *Shell {
	return &Shell{commands: make(map[string]Command), help: make(map[string]string)}
}

// AddCommand registers action under trigger, along with a one-line help
// string shown by the ".help" meta-command. Re-registering a trigger
// overwrites the previous handler.
func (s *Shell) AddCommand(trigger string, action Command, help string) {
	if trigger == TriggerHelpMetacommand {
		return
	}
	s.commands[trigger] = action
	s.help[trigger] = help
}

// HelpString renders every registered command's help line.
func (s *Shell) HelpString() string {
	var sb strings.Builder
	for trigger, help := range s.help {
		fmt.Fprintf(&sb, "%s: %s\n", trigger, help)
	}
	return sb.String()
}

// Run writes the prompt, reads lines from input, dispatches each to its
// command, and writes results to output, until input is exhausted.
// input/output default to stdin/stdout when nil.
func (s *Shell) Run(prompt string, input io.Reader, output io.Writer) {
	if input == nil {
		input = os.Stdin
	}
	if output == nil {
		output = os.Stdout
	}

	scanner := bufio.NewScanner(input)
	fmt.Fprintln(output, "exhash shell. Type '.help' to list commands.")
	io.WriteString(output, prompt)

	for scanner.Scan() {
		payload := scanner.Text()
		fields := strings.Fields(payload)
		if len(fields) == 0 {
			io.WriteString(output, prompt)
			continue
		}
		trigger := fields[0]

		if trigger == TriggerHelpMetacommand {
			io.WriteString(output, s.HelpString())
			io.WriteString(output, prompt)
			continue
		}

		if command, ok := s.commands[trigger]; ok {
			result, err := command(payload)
			if err != nil {
				fmt.Fprintf(output, "%s%s\n", ErrorPrependStr, err)
			} else {
				if len(result) != 0 && !strings.HasSuffix(result, "\n") {
					result += "\n"
				}
				io.WriteString(output, result)
			}
		} else {
			fmt.Fprintf(output, "%s%s\n", ErrorPrependStr, ErrCommandNotFound)
		}
		io.WriteString(output, prompt)
	}
	io.WriteString(output, "\n")
}
