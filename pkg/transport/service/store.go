// Copyright © 2018 One Concern

// Package service implements the service-mediated transport.
//
// A helper service running on the remote host exposes:
//
//	GET  {base}/download?file={remotePath}   → file content as the response body
//	POST {base}/upload                       → multipart form carrying the destination path and the content
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/oneconcern/remoteconf/pkg/errors"
	"github.com/oneconcern/remoteconf/pkg/transport"
	"github.com/oneconcern/remoteconf/pkg/transport/status"
	"go.uber.org/zap"
)

const (
	// DefaultMaxSize bounds the size of a downloaded document
	DefaultMaxSize = 64 << 20

	// PathField is the form field carrying the destination path on upload
	PathField = "path"

	maxDetail = 512
)

// Option is a functor to pass optional parameters to the service transport
type Option func(*serviceTransport)

// Logger specifies a logger for this transport
func Logger(logger *zap.Logger) Option {
	return func(s *serviceTransport) {
		if logger != nil {
			s.l = logger
		}
	}
}

// HTTPClient specifies the client used to reach the service
func HTTPClient(client *http.Client) Option {
	return func(s *serviceTransport) {
		if client != nil {
			s.client = client
		}
	}
}

// MaxSize limits the size of downloaded documents
func MaxSize(size int64) Option {
	return func(s *serviceTransport) {
		if size > 0 {
			s.maxSize = size
		}
	}
}

// New creates a transport talking to the helper service at baseURL
func New(baseURL string, opts ...Option) (transport.Transport, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid service url %q: %w", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid service url %q: scheme must be http or https", baseURL)
	}

	s := &serviceTransport{
		base:    base,
		client:  http.DefaultClient,
		l:       zap.NewNop(),
		maxSize: DefaultMaxSize,
	}
	for _, apply := range opts {
		apply(s)
	}
	return s, nil
}

type serviceTransport struct {
	base    *url.URL
	client  *http.Client
	l       *zap.Logger
	maxSize int64
}

func (s *serviceTransport) String() string {
	return "service@" + s.base.String()
}

func (s *serviceTransport) endpoint(name string) *url.URL {
	return s.base.JoinPath(name)
}

func (s *serviceTransport) Fetch(ctx context.Context, remotePath string) ([]byte, error) {
	u := s.endpoint("download")
	u.RawQuery = url.Values{"file": []string{remotePath}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, status.ErrConnectFailed.Wrap(err)
	}

	s.l.Debug("service download", zap.String("url", u.String()))
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, status.ErrConnectFailed.Wrap(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, status.ErrNotFound.Wrapf("%q: %s", remotePath, readDetail(resp.Body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, status.Rejected(resp.StatusCode, readDetail(resp.Body))
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, s.maxSize+1))
	if err != nil {
		return nil, status.ErrTransfer.Wrapf("reading %q: %v", remotePath, err)
	}
	if int64(len(content)) > s.maxSize {
		return nil, status.ErrTooBig.Wrapf("%q exceeds %d bytes", remotePath, s.maxSize)
	}
	return content, nil
}

// Push uploads content as a multipart form.
//
// The binary part is keyed by the destination path and named after its base name,
// which is what the helper service expects. The destination is also sent as a plain field.
// Any status but 200 fails the push, and is never retried.
func (s *serviceTransport) Push(ctx context.Context, remotePath string, content []byte) error {
	body, contentType, err := multipartBody(remotePath, content)
	if err != nil {
		return status.ErrAborted.Wrap(err)
	}

	u := s.endpoint("upload")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return status.ErrConnectFailed.Wrap(err)
	}
	req.Header.Set("Content-Type", contentType)

	s.l.Debug("service upload", zap.String("url", u.String()), zap.String("path", remotePath), zap.Int("size", len(content)))
	resp, err := s.client.Do(req)
	if err != nil {
		if isDialError(err) {
			return status.ErrConnectFailed.Wrap(err)
		}
		return status.ErrTransfer.Wrapf("uploading %q: %v", remotePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return status.Rejected(resp.StatusCode, readDetail(resp.Body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func multipartBody(remotePath string, content []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField(PathField, remotePath); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile(remotePath, path.Base(remotePath))
	if err != nil {
		return nil, "", err
	}
	if _, err = part.Write(content); err != nil {
		return nil, "", err
	}
	if err = w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// isDialError tells if the request failed before any byte reached the server
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func readDetail(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxDetail))
	return strings.TrimSpace(string(b))
}
