package replshell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/patterdb/exhash/internal/exhash"
)

// RegisterHashCommands wires put/get/remove/verify/depth commands onto
// the table the way the teacher's PagerRepl wires pager_* commands onto
// a Pager, one handler per directory/bucket operation exposed to a user.
func RegisterHashCommands(s *Shell, ix *exhash.Index) {
	s.AddCommand("put", func(payload string) (string, error) {
		key, value, err := parseKV(payload, "put")
		if err != nil {
			return "", err
		}
		ok, err := ix.Table.Put(key, value)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("put failed: bucket full even after split")
		}
		return "ok", nil
	}, "Insert a key/value pair. usage: put <key> <value>")

	s.AddCommand("get", func(payload string) (string, error) {
		fields := strings.Fields(payload)
		if len(fields) != 2 {
			return "", errors.New("usage: get <key>")
		}
		key, err := parseU32(fields[1])
		if err != nil {
			return "", err
		}
		var out []uint32
		if err := ix.Table.Get(key, &out); err != nil {
			return "", err
		}
		return fmt.Sprintf("%v", out), nil
	}, "Look up every value stored under a key. usage: get <key>")

	s.AddCommand("remove", func(payload string) (string, error) {
		key, value, err := parseKV(payload, "remove")
		if err != nil {
			return "", err
		}
		if err := ix.Table.Remove(key, value); err != nil {
			return "", err
		}
		return "ok", nil
	}, "Tombstone a key/value pair. usage: remove <key> <value>")

	s.AddCommand("depth", func(payload string) (string, error) {
		return fmt.Sprintf("global_depth=%d", ix.Table.GlobalDepth()), nil
	}, "Print the table's current global depth. usage: depth")

	s.AddCommand("verify", func(payload string) (string, error) {
		problems, err := ix.Table.Verify()
		if err != nil {
			return "", err
		}
		if len(problems) == 0 {
			return "ok: no invariant violations found", nil
		}
		var sb strings.Builder
		for _, p := range problems {
			fmt.Fprintln(&sb, p)
		}
		return sb.String(), nil
	}, "Check every directory/bucket invariant. usage: verify")
}

func parseKV(payload, usage string) (uint32, uint32, error) {
	fields := strings.Fields(payload)
	if len(fields) != 3 {
		return 0, 0, fmt.Errorf("usage: %s <key> <value>", usage)
	}
	key, err := parseU32(fields[1])
	if err != nil {
		return 0, 0, err
	}
	value, err := parseU32(fields[2])
	if err != nil {
		return 0, 0, err
	}
	return key, value, nil
}

func parseU32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}
