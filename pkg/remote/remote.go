// Copyright © 2018 One Concern

// Package remote runs commands on the managed host, typically to restart the service
// after its configuration was mutated.
//
// Two runners mirror the two transports: an SSH exec session, or the /run endpoint of the helper service.
package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/oneconcern/remoteconf/pkg/errors"
)

// ErrCommandFailed is matched by any *CommandError
var ErrCommandFailed = errors.New("remote command failed")

// Runner executes one command on the remote host and returns its standard output
type Runner interface {
	String() string
	Run(ctx context.Context, command string) (string, error)
}

// CommandError reports a command that ran but exited with a non-zero code
type CommandError struct {
	Command string
	Code    int
	Stdout  string
	Stderr  string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %q exited with code %d", ErrCommandFailed.Error(), e.Command, e.Code)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Unwrap yields the ErrCommandFailed sentinel
func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}

// ExitCode returns the exit code carried by a *CommandError anywhere in err's chain
func ExitCode(err error) (int, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code, true
	}
	return 0, false
}
