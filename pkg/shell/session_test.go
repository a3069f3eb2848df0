package shell_test

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgogulapati/gherkins/pkg/shell"
)

func pipePair(t *testing.T) (sessIn *os.File, shellIn *os.File, shellOut *os.File, sessOut *os.File) {
	t.Helper()
	shellIn, sessIn, err := os.Pipe()
	require.NoError(t, err)
	sessOut, shellOut, err = os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		sessIn.Close()
		shellIn.Close()
		shellOut.Close()
		sessOut.Close()
	})
	return sessIn, shellIn, shellOut, sessOut
}

// fakeShell emulates a posix shell on the other side of the session's
// plumbing: it expands $? in echoed end markers and produces canned
// output per command, so framing can be tested without a real process.
func fakeShell(t *testing.T) *shell.Session {
	t.Helper()
	sessIn, shellIn, shellOut, sessOut := pipePair(t)

	go func() {
		defer shellOut.Close()
		status := "0"
		sc := bufio.NewScanner(shellIn)
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "echo ") && strings.Contains(line, "_BEGIN__"):
				fmt.Fprintln(shellOut, strings.TrimPrefix(line, "echo "))
			case strings.HasPrefix(line, "echo ") && strings.Contains(line, "_END_"):
				marker := strings.Trim(strings.TrimPrefix(line, "echo "), `"`)
				fmt.Fprintln(shellOut, strings.Replace(marker, "$?", status, 1))
			case line == "exit":
				return
			case line == "fail":
				fmt.Fprintln(shellOut, "boom")
				status = "1"
			case line == "quiet":
				status = "0"
			case line == "noisy":
				fmt.Fprintln(shellOut, "\x1b[33mwarn\x1b[0m")
				fmt.Fprintln(shellOut, "12% [Working]")
				fmt.Fprintln(shellOut, "done")
				status = "0"
			default:
				fmt.Fprintln(shellOut, "ran "+line)
				status = "0"
			}
		}
	}()

	return shell.NewSession(shell.Posix, sessIn, sessOut, nil)
}

func TestSessionSubmit(t *testing.T) {
	sess := fakeShell(t)
	defer sess.Close()

	res, err := sess.Submit("hello")
	require.NoError(t, err)
	assert.Equal(t, "ran hello", res.Output)
	assert.Equal(t, 0, res.Status)
	assert.Equal(t, shell.StateReady, sess.State())
}

func TestSessionCapturesExitStatus(t *testing.T) {
	sess := fakeShell(t)
	defer sess.Close()

	res, err := sess.Submit("fail")
	require.NoError(t, err)
	assert.Equal(t, "boom", res.Output)
	assert.Equal(t, 1, res.Status)

	// The session is back at the ready boundary; the next command runs.
	res, err = sess.Submit("again")
	require.NoError(t, err)
	assert.Equal(t, "ran again", res.Output)
	assert.Equal(t, 0, res.Status)
}

func TestSessionEmptyOutput(t *testing.T) {
	sess := fakeShell(t)
	defer sess.Close()

	res, err := sess.Submit("quiet")
	require.NoError(t, err)
	assert.Equal(t, "", res.Output)
	assert.Equal(t, 0, res.Status)
}

func TestSessionScrubsOutput(t *testing.T) {
	sess := fakeShell(t)
	defer sess.Close()

	res, err := sess.Submit("noisy")
	require.NoError(t, err)
	assert.Equal(t, "warn\ndone", res.Output)
}

func TestSessionClosedIsTerminal(t *testing.T) {
	sess := fakeShell(t)
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close()) // idempotent

	assert.Equal(t, shell.StateClosed, sess.State())
	_, err := sess.Submit("anything")
	assert.ErrorIs(t, err, shell.ErrSessionClosed)
}

func TestSessionDeadShell(t *testing.T) {
	// A shell that hangs up before the end marker leaves the session
	// closed.
	sessIn, _, shellOut, sessOut := pipePair(t)
	shellOut.Close() // immediate EOF, no marker ever arrives

	sess := shell.NewSession(shell.Posix, sessIn, sessOut, nil)
	_, err := sess.Submit("ls")
	require.Error(t, err)
	assert.Equal(t, shell.StateClosed, sess.State())
}

func TestSessionCmdDialect(t *testing.T) {
	// Emulates cmd.exe closely enough for framing: every input line is
	// echoed back with a prompt prefix before it executes, and
	// %errorlevel% is expanded in echoed markers.
	sessIn, shellIn, shellOut, sessOut := pipePair(t)

	go func() {
		defer shellOut.Close()
		sc := bufio.NewScanner(shellIn)
		for sc.Scan() {
			line := sc.Text()
			fmt.Fprintln(shellOut, `C:\demo>`+line) // command echo
			switch {
			case strings.HasPrefix(line, "echo ") && strings.Contains(line, "_BEGIN__"):
				fmt.Fprintln(shellOut, strings.TrimPrefix(line, "echo "))
			case strings.HasPrefix(line, "echo ") && strings.Contains(line, "_END_"):
				marker := strings.TrimPrefix(line, "echo ")
				fmt.Fprintln(shellOut, strings.Replace(marker, "%errorlevel%", "0", 1))
			case line == "exit":
				return
			default:
				fmt.Fprintln(shellOut, "ran "+line)
			}
		}
	}()

	sess := shell.NewSession(shell.Cmd, sessIn, sessOut, nil)
	defer sess.Close()

	res, err := sess.Submit("dir")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Status)
	assert.Contains(t, res.Output, "ran dir")
}
