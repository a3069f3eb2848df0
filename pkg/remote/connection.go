// Package remote executes command blocks and copies files on a remote
// host over SSH. One Connection owns one persistent interactive shell
// session, so shell state set by an earlier block is visible to later
// ones, plus an SFTP channel for recursive uploads.
package remote

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sgogulapati/gherkins/internal/lg"
	"github.com/sgogulapati/gherkins/pkg/shell"
)

// ErrClosed is returned when a closed Connection is used again. Closed is
// terminal: construct a new Connection to reconnect.
var ErrClosed = errors.New("connection is closed")

// ConnectionError reports an authentication, key-parsing, or network
// failure while establishing the SSH transport.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type connState int

const (
	stateUnconnected connState = iota
	stateConnecting
	stateReady
	stateClosed
)

// Config holds connection parameters. Host, User and KeyFile are
// required; the rest defaults sensibly.
type Config struct {
	Host        string
	User        string
	KeyFile     string        // path to a private key, PEM format
	Port        int           // defaults to 22
	DialTimeout time.Duration // defaults to 10s
	Out         io.Writer     // console sink; defaults to os.Stdout
	StopOnError bool          // abort a block on the first non-zero exit status
	Logger      lg.Logger
}

// Connection is an SSH client wrapper bound to one host. Construction
// does not dial; the transport is established lazily on first use or
// explicitly via Connect. A Connection is not safe for concurrent use.
type Connection struct {
	cfg    Config
	state  connState
	client *ssh.Client
	sess   *shell.Session

	// dial is swapped out in tests.
	dial func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}

// New returns an unconnected Connection with default options.
func New(host, user, keyFile string) *Connection {
	return NewWithConfig(Config{Host: host, User: user, KeyFile: keyFile})
}

// NewWithConfig returns an unconnected Connection with defaults applied
// to cfg.
func NewWithConfig(cfg Config) *Connection {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = lg.Discard
	}
	return &Connection{cfg: cfg, dial: ssh.Dial}
}

// Connect establishes the SSH transport. It is a no-op on an already
// connected Connection and fails with ErrClosed on a closed one.
func (c *Connection) Connect() error {
	switch c.state {
	case stateClosed:
		return ErrClosed
	case stateReady:
		return nil
	}
	c.state = stateConnecting

	auth, err := publicKeyAuth(c.cfg.KeyFile)
	if err != nil {
		c.state = stateUnconnected
		return &ConnectionError{Host: c.cfg.Host, Err: err}
	}

	config := &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.cfg.DialTimeout,
		BannerCallback:  func(message string) error { return nil }, //ignore banner
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	client, err := c.dial("tcp", addr, config)
	if err != nil {
		c.state = stateUnconnected
		return &ConnectionError{Host: c.cfg.Host, Err: fmt.Errorf("failed to dial: %w", err)}
	}

	c.client = client
	c.state = stateReady
	c.cfg.Logger.Info("ssh connection established",
		lg.String("host", c.cfg.Host), lg.String("user", c.cfg.User))
	return nil
}

func publicKeyAuth(privateKeyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

func (c *Connection) ensureReady() error {
	if c.state == stateClosed {
		return ErrClosed
	}
	if c.state != stateReady {
		return c.Connect()
	}
	return nil
}

// shellSession returns the connection's persistent interactive shell,
// opening it on first use. The remote shell runs without a pty, with
// stdout and stderr merged, and is driven by the same sentinel framing as
// a local session.
func (c *Connection) shellSession() (*shell.Session, error) {
	if c.sess != nil && c.sess.State() != shell.StateClosed {
		return c.sess, nil
	}

	sess, err := c.client.NewSession()
	if err != nil {
		return nil, &ConnectionError{Host: c.cfg.Host, Err: fmt.Errorf("new session: %w", err)}
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, &ConnectionError{Host: c.cfg.Host, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	pr, pw := io.Pipe()
	sess.Stdout = pw
	sess.Stderr = pw

	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, &ConnectionError{Host: c.cfg.Host, Err: fmt.Errorf("start shell: %w", err)}
	}

	c.sess = shell.NewSession(shell.Posix, stdin, pr, func() error {
		stdin.Close()
		// Late output after the last drain boundary (backgrounded
		// commands, flushed progress) must keep flowing, or the
		// transport's stdout copier blocks on the pipe and Wait never
		// returns.
		go io.Copy(io.Discard, pr)
		// Wait returns the shell's final exit status; not a teardown
		// failure.
		sess.Wait()
		sess.Close()
		pw.Close()
		return pr.Close()
	})
	c.cfg.Logger.Debug("remote shell session opened", lg.String("host", c.cfg.Host))
	return c.sess, nil
}

// Exec splits block into commands and runs them one at a time inside the
// persistent remote shell session. Output of each command is written to
// the console after that command completes. Identical splitting and
// state-preservation semantics as the local executor.
func (c *Connection) Exec(block string) error {
	cmds := shell.SplitScript(block)
	if len(cmds) == 0 {
		return nil
	}
	if err := c.ensureReady(); err != nil {
		return err
	}
	sess, err := c.shellSession()
	if err != nil {
		return err
	}
	return shell.RunBlock(sess, cmds, c.cfg.Out, c.cfg.StopOnError, c.cfg.Logger)
}

// Close terminates the interactive session and releases the transport.
// Idempotent; Closed is terminal.
func (c *Connection) Close() error {
	if c.state == stateClosed {
		return nil
	}
	c.state = stateClosed
	if c.sess != nil {
		c.sess.Close()
		c.sess = nil
	}
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// With runs fn against a fresh Connection and guarantees Close is invoked
// exactly once on every exit path, including panics.
func With(host, user, keyFile string, fn func(*Connection) error) (err error) {
	c := New(host, user, keyFile)
	defer func() {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(c)
}
