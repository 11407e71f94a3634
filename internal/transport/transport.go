// Package transport runs commands on and copies files to cluster hosts.
package transport

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Command is a structured remote command. Arguments are passed as-is to the
// program; nothing is interpreted by a shell.
type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     map[string]string

	// Quiet commands are existence checks: their output is not shown and a
	// non-zero exit is an answer, not a failure.
	Quiet bool
}

// Cmd builds a command from a program and its arguments.
func Cmd(program string, args ...string) Command {
	return Command{Program: program, Args: args}
}

// QuietCmd builds a quiet command.
func QuietCmd(program string, args ...string) Command {
	return Command{Program: program, Args: args, Quiet: true}
}

// WithEnv returns a copy of c with one more environment variable.
func (c Command) WithEnv(key, value string) Command {
	env := make(map[string]string, len(c.Env)+1)
	for k, v := range c.Env {
		env[k] = v
	}
	env[key] = value
	c.Env = env
	return c
}

// Argv returns the program followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Program}, c.Args...)
}

// EnvList returns the environment as sorted KEY=value pairs.
func (c Command) EnvList() []string {
	out := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// String renders the command for logs. It is not meant to be executed.
func (c Command) String() string {
	parts := c.EnvList()
	for _, arg := range c.Argv() {
		if arg == "" || strings.ContainsAny(arg, " \t\"'*$") {
			arg = fmt.Sprintf("%q", arg)
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports a zero exit status.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Executor runs commands and moves bytes on remote hosts. Implementations
// return *cluster.TransportError when the host cannot be reached; a command
// that runs and exits non-zero is reported through Result, not as an error.
type Executor interface {
	Run(ctx context.Context, host string, cmd Command) (Result, error)
	Put(ctx context.Context, host string, data []byte, remotePath string) error
	Get(ctx context.Context, host string, remotePath string) ([]byte, error)
}

// CommandError is returned by Check for a non-quiet command that exited non-zero.
type CommandError struct {
	Host    string
	Command string
	Result  Result
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command on %s exited %d: %s", e.Host, e.Result.ExitCode, e.Command)
	if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Check runs cmd and turns a non-zero exit of a non-quiet command into a
// *CommandError.
func Check(ctx context.Context, exec Executor, host string, cmd Command) (Result, error) {
	res, err := exec.Run(ctx, host, cmd)
	if err != nil {
		return res, err
	}
	if !cmd.Quiet && !res.Success() {
		return res, &CommandError{Host: host, Command: cmd.String(), Result: res}
	}
	return res, nil
}

// Exists reports whether a quiet test command succeeds on host.
func Exists(ctx context.Context, exec Executor, host string, args ...string) (bool, error) {
	res, err := exec.Run(ctx, host, QuietCmd("test", args...))
	if err != nil {
		return false, err
	}
	return res.Success(), nil
}
