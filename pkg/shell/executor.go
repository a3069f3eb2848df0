package shell

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/sgogulapati/gherkins/internal/lg"
)

// SessionUnavailableError reports that the local shell process could not
// be spawned.
type SessionUnavailableError struct {
	Shell string
	Err   error
}

func (e *SessionUnavailableError) Error() string {
	return fmt.Sprintf("cannot spawn shell %s: %v", e.Shell, e.Err)
}

func (e *SessionUnavailableError) Unwrap() error { return e.Err }

// CommandError reports a command that exited non-zero while the executor
// was configured to stop on errors.
type CommandError struct {
	Cmd    string
	Status int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q exited with status %d", e.Cmd, e.Status)
}

// Config holds executor options. The zero value is usable.
type Config struct {
	Shell       string    // shell binary; defaults to /bin/bash (cmd.exe on Windows)
	Out         io.Writer // console sink; defaults to os.Stdout
	StopOnError bool      // abort a block on the first non-zero exit status
	Logger      lg.Logger
}

// Executor runs command blocks in one persistent local shell session.
// The session is spawned lazily on the first Execute call and reused
// across calls until Close, so shell state set by an earlier block is
// visible to later ones. Two Executor values never share state.
type Executor struct {
	cfg  Config
	sess *Session
	proc *exec.Cmd
}

// NewExecutor returns an Executor with defaults applied to cfg.
func NewExecutor(cfg Config) *Executor {
	if cfg.Shell == "" {
		if runtime.GOOS == "windows" {
			cfg.Shell = "cmd.exe"
		} else {
			cfg.Shell = "/bin/bash"
		}
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = lg.Discard
	}
	return &Executor{cfg: cfg}
}

// Execute splits block into commands and feeds them one at a time to the
// executor's persistent shell session. Each command is announced with a
// "> " prefix and its captured output is written to the console after the
// session returns to the ready boundary.
func (e *Executor) Execute(block string) error {
	cmds := SplitScript(block)
	if len(cmds) == 0 {
		return nil
	}
	if err := e.ensureSession(); err != nil {
		return err
	}
	return RunBlock(e.sess, cmds, e.cfg.Out, e.cfg.StopOnError, e.cfg.Logger)
}

func (e *Executor) ensureSession() error {
	if e.sess != nil {
		if e.sess.State() == StateClosed {
			return ErrSessionClosed
		}
		return nil
	}

	proc := exec.Command(e.cfg.Shell)
	stdin, err := proc.StdinPipe()
	if err != nil {
		return &SessionUnavailableError{Shell: e.cfg.Shell, Err: err}
	}
	// Merge stdout and stderr into one stream the way an interactive
	// terminal would show them.
	pr, pw, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return &SessionUnavailableError{Shell: e.cfg.Shell, Err: err}
	}
	proc.Stdout = pw
	proc.Stderr = pw

	if err := proc.Start(); err != nil {
		stdin.Close()
		pr.Close()
		pw.Close()
		return &SessionUnavailableError{Shell: e.cfg.Shell, Err: err}
	}
	// The child holds its own copy of the write end.
	pw.Close()

	dialect := Posix
	if runtime.GOOS == "windows" {
		dialect = Cmd
	}
	e.proc = proc
	e.sess = NewSession(dialect, stdin, pr, func() error {
		stdin.Close()
		// Keep draining so a shell blocked writing straggler output past
		// the kernel pipe buffer can still reach its exit.
		go io.Copy(io.Discard, pr)
		// The shell exits with the status of its last command; that is
		// not a teardown failure.
		proc.Wait()
		return pr.Close()
	})
	e.cfg.Logger.Debug("local shell session opened", lg.String("shell", e.cfg.Shell))
	return nil
}

// Close terminates the persistent session, if one was opened. Idempotent.
func (e *Executor) Close() error {
	if e.sess == nil {
		return nil
	}
	return e.sess.Close()
}

// Exec runs block in a fresh local shell session and closes it afterwards.
// It is the one-shot convenience form of Executor.
func Exec(block string) error {
	e := NewExecutor(Config{})
	defer e.Close()
	return e.Execute(block)
}

// RunBlock feeds cmds in order to sess, announcing each command and
// writing its captured output to out. With stopOnError false (the
// default), a non-zero exit status does not halt the block: preserving
// session state for the remaining commands takes priority.
func RunBlock(sess *Session, cmds []string, out io.Writer, stopOnError bool, log lg.Logger) error {
	for _, cmd := range cmds {
		fmt.Fprintln(out, ">", cmd)
		res, err := sess.Submit(cmd)
		if err != nil {
			return err
		}
		if res.Output != "" {
			fmt.Fprintln(out, res.Output)
		}
		log.Debug("command finished",
			lg.String("cmd", cmd), lg.Int("status", res.Status))
		if stopOnError && res.Status != 0 {
			return &CommandError{Cmd: cmd, Status: res.Status}
		}
	}
	return nil
}
