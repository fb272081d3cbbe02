package app

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// RunScript executes a startup script against r. Each non-blank line that
// is not a # comment is "create <app> [args...]" or "open <app> [args...]".
func RunScript(r *Registry, rd io.Reader) error {
	sc := bufio.NewScanner(rd)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return fmt.Errorf("line %d: expected <verb> <app> [args...]", lineNo)
		}
		var err error
		switch strings.ToLower(fields[0]) {
		case "create":
			_, err = r.Create(fields[1], fields[2:])
		case "open":
			_, err = r.Open(fields[1], fields[2:])
		default:
			return fmt.Errorf("line %d: unknown verb %q", lineNo, fields[0])
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return sc.Err()
}

func RunScriptFile(r *Registry, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := RunScript(r, f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
