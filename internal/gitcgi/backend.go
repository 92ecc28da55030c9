// Riley CMS is a self-hosted headless content service.
// Copyright (C) 2026  Riley CMS Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package gitcgi runs git-http-backend as a CGI child and streams its
// response. The HTTP layer decides authentication and routing; this package
// only speaks the CGI protocol.
package gitcgi

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Sentinel errors surfaced to the HTTP layer.
var (
	// ErrBodyTooLarge means the request body exceeded the configured cap
	// and the child was cut off.
	ErrBodyTooLarge = errors.New("request body too large")
	// ErrTimeout means the child did not exit within the completion window.
	ErrTimeout = errors.New("git backend timed out")
)

const (
	// maxHeaderBytes caps how much of the child's stdout may be CGI headers.
	maxHeaderBytes = 16 * 1024
	// maxStderrBytes caps how much child stderr is retained for logging.
	maxStderrBytes = 64 * 1024
)

// wellKnownPaths are checked in order when no binary path is configured.
var wellKnownPaths = []string{
	"/usr/lib/git-core/git-http-backend",
	"/usr/libexec/git-core/git-http-backend",
	"/opt/homebrew/libexec/git-core/git-http-backend",
	"/usr/local/libexec/git-core/git-http-backend",
}

// Backend executes git-http-backend for Smart HTTP requests.
type Backend struct {
	binaryPath  string
	projectRoot string
	maxBodySize int64
	logger      *slog.Logger
}

// New builds a Backend rooted at projectRoot. If binaryPath is empty the
// backend binary is located via well-known paths and `git --exec-path`.
func New(binaryPath, projectRoot string, maxBodySize int64, logger *slog.Logger) (*Backend, error) {
	if binaryPath == "" {
		var err error
		binaryPath, err = locateBackend()
		if err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(binaryPath); err != nil {
		return nil, fmt.Errorf("git-http-backend not found at %s: %w", binaryPath, err)
	}
	return &Backend{
		binaryPath:  binaryPath,
		projectRoot: projectRoot,
		maxBodySize: maxBodySize,
		logger:      logger,
	}, nil
}

func locateBackend() (string, error) {
	for _, p := range wellKnownPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	out, err := exec.Command("git", "--exec-path").Output()
	if err == nil {
		p := filepath.Join(strings.TrimSpace(string(out)), "git-http-backend")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.New("git-http-backend not found; set git.backend_path in the config")
}

// IsValidRepo reports whether path looks like a git repository: either a
// working tree with a .git directory or a bare repository with a HEAD file.
func IsValidRepo(path string) bool {
	if fi, err := os.Stat(filepath.Join(path, ".git")); err == nil && fi.IsDir() {
		return true
	}
	if fi, err := os.Stat(filepath.Join(path, "HEAD")); err == nil && !fi.IsDir() {
		return true
	}
	return false
}

// Request carries everything the CGI child needs from the HTTP request.
type Request struct {
	Method        string
	PathInfo      string // path under the project root, starting with /
	QueryString   string
	ContentType   string
	ContentLength int64 // -1 when unknown
	Body          io.Reader
}

// Response is the parsed CGI reply. Body streams live from the child's
// stdout; the caller must drain it and then call Completion.Wait to reap
// the process.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Completion *Completion
}

// Completion tracks the running child after headers have been parsed.
type Completion struct {
	cmd       *exec.Cmd
	stdinDone chan struct{}
	waitDone  chan error
	stderr    *limitedBuffer
	tooLarge  *atomic.Bool
	feedErr   *error // written by the stdin feeder before stdinDone closes
	logger    *slog.Logger
}

// Run starts git-http-backend for req and returns once the CGI headers have
// been parsed. The response body is still streaming when Run returns.
func (b *Backend) Run(req Request) (*Response, error) {
	cmd := exec.Command(b.binaryPath)
	cmd.Dir = b.projectRoot
	cmd.SysProcAttr = childProcAttr()

	// The child gets a scrubbed environment: only the CGI variables plus
	// PATH so git-http-backend can exec git subcommands.
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"GIT_PROJECT_ROOT=" + b.projectRoot,
		"GIT_HTTP_EXPORT_ALL=1",
		"PATH_INFO=" + req.PathInfo,
		"REQUEST_METHOD=" + req.Method,
		"QUERY_STRING=" + req.QueryString,
	}
	if req.ContentType != "" {
		env = append(env, "CONTENT_TYPE="+req.ContentType)
	}
	if req.ContentLength >= 0 {
		env = append(env, "CONTENT_LENGTH="+strconv.FormatInt(req.ContentLength, 10))
	}
	cmd.Env = env

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	// Manual pipes, not cmd.StdoutPipe: Wait must not tear down stdout
	// while the handler is still streaming the body.
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW} {
			f.Close()
		}
		return nil, fmt.Errorf("failed to start git-http-backend: %w", err)
	}
	// Parent closes the child's ends.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	tooLarge := &atomic.Bool{}
	var feedErr error
	stdinDone := make(chan struct{})
	go func() {
		defer close(stdinDone)
		defer stdinW.Close()
		if req.Body == nil {
			return
		}
		n, err := io.CopyN(stdinW, req.Body, b.maxBodySize)
		if err == nil && n == b.maxBodySize {
			// At the cap. One more readable byte means the body is over
			// the limit; that byte is never forwarded to the child.
			var extra [1]byte
			if m, _ := io.ReadFull(req.Body, extra[:]); m > 0 {
				tooLarge.Store(true)
			}
			return
		}
		if err == nil || errors.Is(err, io.EOF) {
			return
		}
		// A child that exits early closes its stdin; the resulting broken
		// pipe is expected, not an error.
		if errors.Is(err, os.ErrClosed) || isBrokenPipe(err) {
			return
		}
		b.logger.Warn("Error feeding git backend stdin", "error", err)
		feedErr = err
	}()

	stderrBuf := &limitedBuffer{max: maxStderrBytes}
	stderrDrained := make(chan struct{})
	go func() {
		defer close(stderrDrained)
		io.Copy(stderrBuf, stderrR)
		stderrR.Close()
	}()

	waitDone := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		<-stderrDrained
		waitDone <- err
	}()

	comp := &Completion{
		cmd:       cmd,
		stdinDone: stdinDone,
		waitDone:  waitDone,
		stderr:    stderrBuf,
		tooLarge:  tooLarge,
		feedErr:   &feedErr,
		logger:    b.logger,
	}

	br := bufio.NewReader(io.LimitReader(stdoutR, maxHeaderBytes))
	status, header, err := parseCGIHeaders(br)
	if err != nil {
		if tooLarge.Load() {
			comp.kill()
			stdoutR.Close()
			return nil, ErrBodyTooLarge
		}
		comp.kill()
		stdoutR.Close()
		return nil, fmt.Errorf("failed to parse CGI headers: %w", err)
	}
	if tooLarge.Load() {
		comp.kill()
		stdoutR.Close()
		return nil, ErrBodyTooLarge
	}

	// Whatever the limited header reader buffered beyond the blank line is
	// the start of the body; the rest streams straight from the pipe.
	body := struct {
		io.Reader
		io.Closer
	}{io.MultiReader(br, stdoutR), stdoutR}

	return &Response{
		StatusCode: status,
		Header:     header,
		Body:       body,
		Completion: comp,
	}, nil
}

// parseCGIHeaders reads header lines up to the empty separator line. Lines
// end in LF with an optional CR. A "Status:" line sets the response code;
// everything else becomes a response header.
func parseCGIHeaders(r *bufio.Reader) (int, http.Header, error) {
	status := http.StatusOK
	header := make(http.Header)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, nil, fmt.Errorf("unexpected end of CGI headers: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return status, header, nil
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return 0, nil, fmt.Errorf("malformed CGI header line: %q", line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if key == "status" {
			code, _, _ := strings.Cut(value, " ")
			n, err := strconv.Atoi(code)
			if err != nil {
				return 0, nil, fmt.Errorf("malformed CGI status %q", value)
			}
			status = n
			continue
		}
		header.Add(key, value)
	}
}

// BodyTooLarge reports whether the request body tripped the size cap.
func (c *Completion) BodyTooLarge() bool {
	return c.tooLarge.Load()
}

// Wait blocks until the stdin feeder has finished and the child has exited,
// or until timeout elapses. On timeout the child's process group is killed
// and ErrTimeout is returned. Child stderr, if any, is logged. Body stream
// failures observed by the feeder surface here.
func (c *Completion) Wait(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.stdinDone:
	case <-timer.C:
		c.kill()
		<-c.waitDone
		return ErrTimeout
	}

	var waitErr error
	select {
	case waitErr = <-c.waitDone:
	case <-timer.C:
		c.kill()
		<-c.waitDone
		return ErrTimeout
	}

	if msg := c.stderr.String(); msg != "" {
		c.logger.Warn("git-http-backend stderr", "output", msg)
	}
	if c.tooLarge.Load() {
		return ErrBodyTooLarge
	}
	if err := *c.feedErr; err != nil {
		return fmt.Errorf("request body stream failed: %w", err)
	}
	if waitErr != nil {
		return fmt.Errorf("git-http-backend exited with error: %w", waitErr)
	}
	return nil
}

func (c *Completion) kill() {
	if c.cmd.Process != nil {
		killProcess(c.cmd.Process)
	}
}

func isBrokenPipe(err error) bool {
	return strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "file already closed")
}

// limitedBuffer keeps the first max bytes written and drops the rest.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (lb *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := lb.max - lb.buf.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		lb.buf.Write(p)
	}
	return n, nil
}

func (lb *limitedBuffer) String() string {
	return strings.TrimSpace(lb.buf.String())
}
