package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Command is a single external tool invocation
type Command struct {
	// Name is the binary to run
	Name string
	// Args are passed to the binary as is
	Args []string
	// Dir is the working directory, empty means current directory
	Dir string
	// Env is appended to the current process environment
	Env []string
}

// String returns a printable form of the command
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner runs external tools
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExternalToolError is returned when a delegated tool exits non zero or fails to start
type ExternalToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Err      error
}

func (e *ExternalToolError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("%v exited with code %v", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%v failed: %v", e.Tool, e.Err)
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

// waitDelay bounds how long Run waits for output after the process was killed
const waitDelay = 5 * time.Second

// Exec runs commands as subprocesses and streams their combined output through the logger
type Exec struct {
	// Output additionally receives raw output lines if set
	Output io.Writer
}

// New returns an Exec runner
func New() *Exec {
	return &Exec{}
}

// Run starts cmd and waits for it. Output is logged line by line as it arrives. If ctx
// is cancelled the whole process group of cmd is killed.
func (e *Exec) Run(ctx context.Context, cmd Command) error {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.WaitDelay = waitDelay
	killProcessGroup(c)
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	cmdOutput, err := c.StdoutPipe()
	if err != nil {
		return &ExternalToolError{Tool: cmd.Name, Args: cmd.Args, Err: err}
	}
	c.Stderr = c.Stdout

	logger := log.WithField("tool", cmd.Name)
	logger.Debugf("running %v", cmd)
	if err := c.Start(); err != nil {
		return &ExternalToolError{Tool: cmd.Name, Args: cmd.Args, Err: err}
	}

	scanner := bufio.NewScanner(cmdOutput)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Info(scanner.Text())
		if e.Output != nil {
			_, _ = fmt.Fprintln(e.Output, scanner.Text())
		}
	}

	if err := c.Wait(); err != nil {
		toolErr := &ExternalToolError{Tool: cmd.Name, Args: cmd.Args, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			toolErr.ExitCode = exitErr.ExitCode()
		}
		return toolErr
	}
	return nil
}

// Shell returns a bash command running script in dir. It is used for steps that need
// the AOSP environment sourced into the same shell (envsetup.sh, lunch, m).
func Shell(dir, script string, env ...string) Command {
	return Command{
		Name: "bash",
		Args: []string{"-c", "set -eo pipefail; " + script},
		Dir:  dir,
		Env:  env,
	}
}
