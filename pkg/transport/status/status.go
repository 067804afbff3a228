// Copyright © 2018 One Concern

// Package status declares error constants returned by
// implementations of the Transport interface.
//
// NOTE: such constants are located in a separate package to avoid
// creating undue cyclical dependencies between pkg/transport and one
// of its implementations.
package status

import (
	"fmt"

	"github.com/oneconcern/remoteconf/pkg/errors"
)

var (
	// Sentinel errors returned by implementations of the interface defined by transport

	// ErrConnectFailed indicates that the remote host could not be reached or refused our credentials
	ErrConnectFailed = errors.New("connection to remote host failed")

	// ErrNotFound indicates that the remote path does not exist
	ErrNotFound = errors.New("remote path not found")

	// ErrRemoteRejected indicates that the remote end answered but refused the request.
	//
	// The concrete error is a *RejectedError carrying the status.
	ErrRemoteRejected = errors.New("remote rejected request")

	// ErrTransfer indicates that the connection broke while content was in flight
	ErrTransfer = errors.New("transfer interrupted")

	// ErrAborted indicates that a push failed before the target was modified
	ErrAborted = errors.New("push aborted, remote file left untouched")

	// ErrTooBig indicates that the remote content exceeds the configured size limit
	ErrTooBig = errors.New("remote content too big")

	// ErrUnsupported indicates that the backend does not support this call
	ErrUnsupported = errors.New("not supported")
)

// RejectedError is returned when the remote end refused a request.
//
// Status is the HTTP status for the service backend, or the SFTP status code for the direct backend.
type RejectedError struct {
	Status int
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: status %d", ErrRemoteRejected.Error(), e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", ErrRemoteRejected.Error(), e.Status, e.Detail)
}

// Unwrap yields the ErrRemoteRejected sentinel
func (e *RejectedError) Unwrap() error {
	return ErrRemoteRejected
}

// Rejected builds a *RejectedError
func Rejected(code int, detail string) error {
	return &RejectedError{Status: code, Detail: detail}
}

// StatusOf returns the status carried by a rejection anywhere in err's chain
func StatusOf(err error) (int, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Status, true
	}
	return 0, false
}
