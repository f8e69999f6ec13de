package runner

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"strings"
	"time"
)

// maxOutput caps what a snippet may print before the result is truncated.
const maxOutput = 64 * 1024

// Runner evaluates user-submitted snippets. Implementations must never let a
// snippet take the server down: every failure mode comes back as an error.
type Runner interface {
	Run(code, language string) (string, error)
}

type command struct {
	bin string
	ext string
}

// Snippets run in a subprocess, never in-process, so a hostile snippet is
// bounded by the interpreter's process and the context deadline.
var commands = map[string]command{
	"javascript": {bin: "node", ext: ".js"},
	"python":     {bin: "python3", ext: ".py"},
}

type execRunner struct {
	timeout time.Duration
}

// New returns a Runner that executes snippets with a hard per-run timeout.
func New(timeout time.Duration) Runner {
	return &execRunner{timeout: timeout}
}

func (r *execRunner) Run(code, language string) (string, error) {
	cmd, supported := commands[language]
	if !supported {
		return "", fmt.Errorf("execution of '%s' is not supported", language)
	}

	f, err := ioutil.TempFile("", "snippet-*"+cmd.ext)
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())

	if _, err = f.WriteString(code); err != nil {
		f.Close()
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, cmd.bin, f.Name()).CombinedOutput()
	output := truncate(string(out))
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("execution timed out after %s", r.timeout)
	}
	if err != nil {
		if output != "" {
			return "", errors.New(output)
		}
		return "", err
	}
	return output, nil
}

func truncate(s string) string {
	if len(s) > maxOutput {
		return s[:maxOutput] + "\n... output truncated"
	}
	return strings.TrimRight(s, "\n")
}
