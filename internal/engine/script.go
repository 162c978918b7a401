package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Command is one line of the command file: a verb plus positional arguments.
// Ordering in the file is significant; the interpreter never reorders or
// deduplicates.
type Command struct {
	Verb string
	Args []string
	Line int
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Verb
	}
	return c.Verb + " " + strings.Join(c.Args, " ")
}

// ParseScript reads a command file: one command per line,
// whitespace-separated tokens. Blank lines and # comments are skipped.
func ParseScript(r io.Reader) ([]Command, error) {
	var cmds []Command
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		cmds = append(cmds, Command{
			Verb: fields[0],
			Args: fields[1:],
			Line: line,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading command file: %w", err)
	}
	return cmds, nil
}

// LoadScript parses the command file at path. A missing command file is fatal
// to the run; the caller has nothing to apply.
func LoadScript(path string) ([]Command, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("command file: %w", err)
	}
	defer f.Close()
	return ParseScript(f)
}
