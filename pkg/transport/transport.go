// Copyright © 2018 One Concern

package transport

import (
	"context"

	"github.com/oneconcern/remoteconf/pkg/errors"
	"github.com/oneconcern/remoteconf/pkg/transport/status"
)

// Transport implementations know how to fetch and push a whole file at a remote path.
//
// Every call targets exactly one remote path and is terminal: implementations never retry.
type Transport interface {
	String() string
	Fetch(ctx context.Context, remotePath string) ([]byte, error)
	Push(ctx context.Context, remotePath string, content []byte) error
}

// Exists tells if the remote path can be fetched
func Exists(ctx context.Context, t Transport, remotePath string) (bool, error) {
	_, err := t.Fetch(ctx, remotePath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, status.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Indeterminate tells if a failed Push may have left the remote file partially written
func Indeterminate(err error) bool {
	return errors.Is(err, status.ErrTransfer)
}
