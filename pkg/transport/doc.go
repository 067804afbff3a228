// Copyright © 2018 One Concern

// Package transport moves whole files between this process and a named path on a remote host.
//
// This package supports the following backends:
//   - sftp: direct SSH connection with the SFTP subsystem
//   - service: an HTTP helper endpoint running on the remote host (download / upload)
//   - localfs: a local (or in-memory) file tree standing in for the remote host
//
// Backends are chosen once when a session is built and are interchangeable for callers.
// Content is moved as raw bytes: no charset transcoding, no newline normalization.
package transport
