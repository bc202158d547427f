package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// BackgroundRemover writes a copy of the image at input with its background
// removed to output.
type BackgroundRemover interface {
	Remove(ctx context.Context, input, output string) error
}

// CommandRemover runs an external program as "<command...> <input> <output>",
// e.g. "python3 remove_bg.py".
type CommandRemover struct {
	name string
	args []string
}

// NewCommandRemover parses a whitespace separated command line. It returns nil
// for an empty command line, which disables background removal.
func NewCommandRemover(commandLine string) *CommandRemover {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil
	}
	return &CommandRemover{name: fields[0], args: fields[1:]}
}

func (c *CommandRemover) Remove(ctx context.Context, input, output string) error {
	args := append(append([]string{}, c.args...), input, output)
	cmd := exec.CommandContext(ctx, c.name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", c.name, err, msg)
		}
		return fmt.Errorf("%s: %w", c.name, err)
	}

	info, err := os.Stat(output)
	if err != nil {
		return fmt.Errorf("%s produced no output: %w", c.name, err)
	}
	if info.Size() == 0 {
		return errors.New(c.name + " produced an empty output")
	}
	return nil
}
