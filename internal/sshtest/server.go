// Copyright © 2018 One Concern

// Package sshtest runs an in-process SSH server for tests.
//
// The server accepts password authentication, serves the sftp subsystem against the
// local file system and answers exec requests from a table of canned commands.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/oneconcern/remoteconf/internal/sshconn"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	// User accepted by the server
	User = "lens"
	// Password accepted by the server
	Password = "s3cr3t"
)

// Command is the canned outcome of an exec request
type Command struct {
	Stdout string
	Stderr string
	Code   int
}

// Server is a minimal SSH server
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig

	mu       sync.Mutex
	commands map[string]Command
	executed []string

	connections int64
	wg          sync.WaitGroup
}

// New starts a server listening on the loopback interface. It is stopped when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if meta.User() == User && string(password) == Password {
				return nil, nil
			}
			return nil, io.ErrUnexpectedEOF
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &Server{
		listener: listener,
		config:   config,
		commands: make(map[string]Command),
	}
	s.wg.Add(1)
	go s.serve()

	t.Cleanup(s.Close)
	return s
}

// Config yields a client configuration for this server
func (s *Server) Config() sshconn.Config {
	host, port, _ := net.SplitHostPort(s.listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return sshconn.Config{
		Host:     host,
		Port:     p,
		User:     User,
		Password: Password,
	}
}

// Handle registers the outcome of an exec request
func (s *Server) Handle(command string, outcome Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[command] = outcome
}

// Executed lists exec requests received so far
func (s *Server) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// Connections counts accepted SSH connections
func (s *Server) Connections() int {
	return int(atomic.LoadInt64(&s.connections))
}

// Close stops accepting connections
func (s *Server) Close() {
	_ = s.listener.Close()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(nc)
	}
}

func (s *Server) handle(nc net.Conn) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, s.config)
	if err != nil {
		_ = nc.Close()
		return
	}
	defer conn.Close()
	atomic.AddInt64(&s.connections, 1)

	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.session(ch, requests)
	}
}

func (s *Server) session(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		switch req.Type {
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			server, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			_ = server.Serve()
			_ = server.Close()
			return

		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			s.mu.Lock()
			s.executed = append(s.executed, payload.Command)
			outcome, ok := s.commands[payload.Command]
			s.mu.Unlock()
			if !ok {
				outcome = Command{Stderr: "command not found: " + payload.Command + "\n", Code: 127}
			}

			_, _ = io.WriteString(ch, outcome.Stdout)
			_, _ = io.WriteString(ch.Stderr(), outcome.Stderr)
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(outcome.Code)}))
			return

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}
