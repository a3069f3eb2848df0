// Package shell runs newline-delimited command blocks inside one
// persistent shell process, so directory changes and environment exports
// from one command stay visible to the next.
package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// State tracks where a Session is in its lifecycle. A command may only be
// submitted in StateReady; the session is StateBusy until the command's
// output has been fully drained.
type State int

const (
	StateReady State = iota
	StateBusy
	StateClosed
)

var (
	ErrSessionBusy   = errors.New("session is busy")
	ErrSessionClosed = errors.New("session is closed")
)

// Dialect selects the marker syntax for the shell interpreter driving the
// session.
type Dialect int

const (
	Posix Dialect = iota // /bin/bash and friends
	Cmd                  // Windows cmd.exe
)

// Result is the captured outcome of one submitted command.
type Result struct {
	Output string
	Status int
}

// Session drives one live interactive shell over a stdin writer and a
// combined stdout/stderr reader. Each submitted command is bracketed by
// unique sentinel markers echoed through the shell, so its output can be
// isolated from anything else the shell prints (banners, prompts, command
// echoes). The end marker carries the command's exit status.
//
// A Session is owned by a single Executor or remote Connection and is not
// safe for concurrent use.
type Session struct {
	id      string
	dialect Dialect
	in      io.Writer
	out     *bufio.Reader
	closeFn func() error
	state   State
	seq     int
}

// NewSession wraps the given plumbing in a ready Session. closeFn releases
// the underlying process or transport and may be nil.
func NewSession(dialect Dialect, in io.Writer, out io.Reader, closeFn func() error) *Session {
	return &Session{
		id:      uuid.NewString(),
		dialect: dialect,
		in:      in,
		out:     bufio.NewReader(out),
		closeFn: closeFn,
		state:   StateReady,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Submit writes one command to the shell and blocks until its output has
// been drained back to the ready boundary. The command runs verbatim; no
// escaping is performed.
func (s *Session) Submit(cmd string) (Result, error) {
	switch s.state {
	case StateClosed:
		return Result{}, ErrSessionClosed
	case StateBusy:
		return Result{}, ErrSessionBusy
	}
	s.state = StateBusy
	s.seq++

	begin := fmt.Sprintf("__GHK_%s_%d_BEGIN__", s.id, s.seq)
	endPrefix := fmt.Sprintf("__GHK_%s_%d_END_", s.id, s.seq)

	var endEcho string
	if s.dialect == Cmd {
		endEcho = fmt.Sprintf("echo %s%%errorlevel%%__", endPrefix)
	} else {
		endEcho = fmt.Sprintf("echo \"%s$?__\"", endPrefix)
	}

	script := fmt.Sprintf("echo %s\n%s\n%s\n", begin, cmd, endEcho)
	if _, err := io.WriteString(s.in, script); err != nil {
		s.state = StateClosed
		return Result{}, fmt.Errorf("write command: %w", err)
	}

	lines, err := s.drain(endPrefix)
	if err != nil {
		s.state = StateClosed
		return Result{}, err
	}
	s.state = StateReady

	output, status := frame(lines, begin, endPrefix)
	return Result{Output: output, Status: status}, nil
}

// drain reads shell output line by line until the end marker appears.
// Lines that merely echo the marker commands do not terminate the read.
func (s *Session) drain(endPrefix string) ([]string, error) {
	var lines []string
	for {
		line, err := s.out.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.TrimRight(line, "\n"))
			if strings.Contains(line, endPrefix) && !strings.Contains(line, "echo ") {
				return lines, nil
			}
		}
		if err != nil {
			return lines, fmt.Errorf("shell session ended unexpectedly: %w", err)
		}
	}
}

var statusRE = regexp.MustCompile(`_END_(-?\d+)__`)

// frame cuts the captured lines down to the output produced between the
// begin and end markers, scrubbed for display, and extracts the exit
// status carried by the end marker.
func frame(lines []string, begin, endPrefix string) (string, int) {
	beginIdx, endIdx := -1, -1
	status := 0
	for i, line := range lines {
		if strings.Contains(line, "echo ") && (strings.Contains(line, begin) || strings.Contains(line, endPrefix)) {
			continue
		}
		if beginIdx == -1 && strings.Contains(line, begin) {
			beginIdx = i
		}
		if strings.Contains(line, endPrefix) {
			endIdx = i
			if m := statusRE.FindStringSubmatch(line); m != nil {
				status, _ = strconv.Atoi(m[1])
			}
		}
	}

	if beginIdx < 0 || endIdx < 0 || beginIdx >= endIdx {
		return "", status
	}
	body := Scrub(lines[beginIdx+1 : endIdx])
	return strings.Join(body, "\n"), status
}

// Close terminates the shell session. It is idempotent; errors from an
// already dead shell are not reported.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	// Ask the shell to exit cleanly before tearing down the plumbing.
	io.WriteString(s.in, "exit\n")
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}
