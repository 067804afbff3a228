// Copyright © 2018 One Concern

package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/remoteconf/pkg/transport/status"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxResponse = 16 << 20

// ServiceOption is a functor to pass optional parameters to the service runner
type ServiceOption func(*serviceRunner)

// ServiceLogger specifies a logger for the service runner
func ServiceLogger(logger *zap.Logger) ServiceOption {
	return func(r *serviceRunner) {
		if logger != nil {
			r.l = logger
		}
	}
}

// ServiceHTTPClient specifies the client used to reach the helper service
func ServiceHTTPClient(client *http.Client) ServiceOption {
	return func(r *serviceRunner) {
		if client != nil {
			r.client = client
		}
	}
}

// NewService creates a runner posting commands to {baseURL}/run
func NewService(baseURL string, opts ...ServiceOption) (Runner, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid service url %q: %w", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid service url %q: scheme must be http or https", baseURL)
	}
	r := &serviceRunner{
		base:   base,
		client: http.DefaultClient,
		l:      zap.NewNop(),
	}
	for _, apply := range opts {
		apply(r)
	}
	return r, nil
}

type serviceRunner struct {
	base   *url.URL
	client *http.Client
	l      *zap.Logger
}

type runRequest struct {
	Cmd string `json:"cmd"`
}

type runResponse struct {
	Code   exitCode `json:"code"`
	Stdout string   `json:"stdout"`
	Stderr string   `json:"stderr"`
}

// exitCode accepts both 1 and "1": helper services disagree on the encoding
type exitCode int

func (c *exitCode) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(strings.TrimSpace(string(b)), `"`))
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid exit code %s", string(b))
	}
	*c = exitCode(n)
	return nil
}

func (r *serviceRunner) String() string {
	return "service@" + r.base.String()
}

func (r *serviceRunner) Run(ctx context.Context, command string) (string, error) {
	payload, err := json.Marshal(runRequest{Cmd: command})
	if err != nil {
		return "", err
	}

	u := r.base.JoinPath("run")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return "", status.ErrConnectFailed.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	r.l.Debug("service run", zap.String("url", u.String()), zap.String("command", command))
	resp, err := r.client.Do(req)
	if err != nil {
		return "", status.ErrConnectFailed.Wrap(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return "", status.ErrTransfer.Wrapf("reading result of %q: %v", command, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", status.Rejected(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result runResponse
	if err = json.Unmarshal(body, &result); err != nil {
		return "", status.ErrTransfer.Wrapf("decoding result of %q: %v", command, err)
	}
	for _, line := range strings.Split(strings.TrimRight(result.Stdout, "\n"), "\n") {
		if line != "" {
			r.l.Debug("service run output", zap.String("command", command), zap.String("line", line))
		}
	}
	if result.Code != 0 {
		return result.Stdout, &CommandError{
			Command: command,
			Code:    int(result.Code),
			Stdout:  result.Stdout,
			Stderr:  result.Stderr,
		}
	}
	return result.Stdout, nil
}
