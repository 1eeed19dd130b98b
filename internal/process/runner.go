package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/xperimental/upstream-watch/internal/config"
)

const (
	// DefaultTimeout bounds every external invocation unless configured otherwise.
	DefaultTimeout = 60 * time.Second

	homeVariable = "HOME"
	waitDelay    = 5 * time.Second
)

// ErrTimeout is returned when a command did not exit within the timeout.
var ErrTimeout = errors.New("command timed out")

// Command describes a single external invocation.
type Command struct {
	Executable string
	Args       []string
	Dir        string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Executable + " " + strings.Join(c.Args, " "))
}

// Output is the captured result of a command that ran to completion.
type Output struct {
	Stdout   string
	ExitCode int
}

// ExecutionError is returned when a command can not be started.
type ExecutionError struct {
	Command Command
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("can not start %q: %s", e.Command.String(), e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// TreeKiller terminates a process and all of its descendants.
type TreeKiller interface {
	TerminateTree(pid int) error
}

// Options configure an ExecRunner.
type Options struct {
	Timeout time.Duration
	SSHHome string
	Killer  TreeKiller
}

// ExecRunner runs commands as child processes of the current process.
type ExecRunner struct {
	log     config.Logger
	timeout time.Duration
	sshHome string
	killer  TreeKiller
	lookup  func(string) (string, bool)
}

// NewRunner creates an ExecRunner.
func NewRunner(log config.Logger, opts Options) *ExecRunner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.Killer == nil {
		opts.Killer = NewTreeKiller(log)
	}

	return &ExecRunner{
		log:     log,
		timeout: opts.Timeout,
		sshHome: opts.SSHHome,
		killer:  opts.Killer,
		lookup:  os.LookupEnv,
	}
}

// Run starts the command and waits until it exits or the timeout elapses.
// On timeout the whole process tree is terminated and ErrTimeout is returned.
func (r *ExecRunner) Run(ctx context.Context, command Command) (Output, error) {
	cmd := exec.Command(command.Executable, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = r.environment(command.Executable)
	cmd.WaitDelay = waitDelay

	stdout := &bytes.Buffer{}
	stderr := r.log.WriterLevel(logrus.DebugLevel)
	defer stderr.Close()

	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.log.Debugf("Running command: %s", command)
	if err := cmd.Start(); err != nil {
		return Output{}, &ExecutionError{
			Command: command,
			Err:     err,
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return r.output(command, stdout, err)
	case <-timer.C:
	case <-ctx.Done():
	}

	pid := cmd.Process.Pid
	r.log.Warnf("Terminating %q (pid %d)", command, pid)
	if err := r.killer.TerminateTree(pid); err != nil {
		r.log.Debugf("Error terminating process tree of %d: %s", pid, err)
	}
	<-done

	if err := ctx.Err(); err != nil {
		return Output{}, fmt.Errorf("command %q aborted: %w", command, err)
	}

	return Output{}, fmt.Errorf("executing %q: %w after %s", command, ErrTimeout, r.timeout)
}

func (r *ExecRunner) output(command Command, stdout *bytes.Buffer, err error) (Output, error) {
	out := Output{
		Stdout: stdout.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		r.log.Debugf("Command %q exited with code %d", command, out.ExitCode)
	default:
		return Output{}, &ExecutionError{
			Command: command,
			Err:     err,
		}
	}

	return out, nil
}

// environment returns the child environment. Remote-shell clients get a HOME
// when none is set, so key and config lookup works in minimal contexts.
func (r *ExecRunner) environment(executable string) []string {
	env := os.Environ()
	if !strings.Contains(strings.ToLower(filepath.Base(executable)), "ssh") {
		return env
	}

	if home, ok := r.lookup(homeVariable); ok && home != "" {
		return env
	}

	home := r.sshHome
	if home == "" {
		dir, err := homedir.Dir()
		if err != nil {
			r.log.Warnf("Can not determine home directory for %s: %s", executable, err)
			return env
		}
		home = dir
	}

	r.log.Debugf("Setting %s=%s for %s", homeVariable, home, executable)
	return append(env, homeVariable+"="+home)
}
