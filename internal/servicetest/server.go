// Copyright © 2018 One Concern

// Package servicetest runs an in-process helper service for tests.
//
// It serves download, upload and run endpoints against an afero file system,
// the way the helper deployed on managed hosts does.
package servicetest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Result is the canned outcome of a run request
type Result struct {
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Server is a fake helper service
type Server struct {
	*httptest.Server
	FS afero.Fs

	mu         sync.Mutex
	uploads    int
	uploadCode int
	dropUpload bool
	commands   map[string]Result
	executed   []string
}

// New starts a helper service. It is stopped when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		FS:       afero.NewMemMapFs(),
		commands: make(map[string]Result),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/download", s.download)
	mux.HandleFunc("/upload", s.upload)
	mux.HandleFunc("/run", s.run)
	s.Server = httptest.NewServer(mux)

	t.Cleanup(s.Close)
	return s
}

// FailUploads makes every upload answer with code. Zero restores normal behavior.
func (s *Server) FailUploads(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadCode = code
}

// DropUploads makes every upload hang up the connection without answering
func (s *Server) DropUploads(drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropUpload = drop
}

// Uploads counts successful uploads
func (s *Server) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// Handle registers the outcome of a run request
func (s *Server) Handle(command string, result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[command] = result
}

// Executed lists run requests received so far
func (s *Server) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// WriteFile seeds a remote file
func (s *Server) WriteFile(t testing.TB, name string, content []byte) {
	t.Helper()
	if err := afero.WriteFile(s.FS, name, content, 0644); err != nil {
		t.Fatal(err)
	}
}

// ReadFile reads back a remote file
func (s *Server) ReadFile(t testing.TB, name string) []byte {
	t.Helper()
	b, err := afero.ReadFile(s.FS, name)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("file")
	f, err := s.FS.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "no such file "+name, http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.Copy(w, f)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	code, drop := s.uploadCode, s.dropUpload
	s.mu.Unlock()

	if drop {
		hj, ok := w.(http.Hijacker)
		if ok {
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
				return
			}
		}
	}
	if code != 0 {
		http.Error(w, "upload refused", code)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := r.FormValue("path")
	part, _, err := r.FormFile(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer part.Close()

	content, err := io.ReadAll(part)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err = afero.WriteFile(s.FS, name, content, 0644); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.uploads++
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Cmd string `json:"cmd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.executed = append(s.executed, payload.Cmd)
	result, ok := s.commands[payload.Cmd]
	s.mu.Unlock()
	if !ok {
		result = Result{Code: 127, Stderr: "command not found: " + payload.Cmd}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
