package remote

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"

	"github.com/sgogulapati/gherkins/internal/lg"
)

// TransferError reports a file copy failure. Partial transfers are not
// rolled back: files copied before the failure remain on the remote host.
type TransferError struct {
	Local  string
	Remote string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("copy %s -> %s failed: %v", e.Local, e.Remote, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Copy transfers a file or directory tree from the local filesystem to
// remotePath on the remote host. Directory copies are recursive and
// reproduce the tree structure. The transfer runs over an SFTP channel on
// the same authenticated transport and does not touch the interactive
// shell session.
func (c *Connection) Copy(localPath, remotePath string) error {
	if err := c.ensureReady(); err != nil {
		return err
	}

	fmt.Fprintf(c.cfg.Out, "copying %s -> %s\n", localPath, remotePath)
	c.cfg.Logger.Info("transfer started",
		lg.String("local", localPath), lg.String("remote", remotePath))

	client, err := sftp.NewClient(c.client)
	if err != nil {
		return &TransferError{Local: localPath, Remote: remotePath,
			Err: fmt.Errorf("open sftp channel: %w", err)}
	}
	defer client.Close()

	info, err := os.Stat(localPath)
	if err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}
	if info.IsDir() {
		return c.copyTree(client, localPath, remotePath)
	}
	return copyFile(client, localPath, remotePath, info.Mode())
}

func (c *Connection) copyTree(client *sftp.Client, localRoot, remoteRoot string) error {
	return filepath.WalkDir(localRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return &TransferError{Local: p, Remote: remoteRoot, Err: err}
		}
		target, err := RemoteTarget(localRoot, p, remoteRoot)
		if err != nil {
			return &TransferError{Local: p, Remote: remoteRoot, Err: err}
		}
		if d.IsDir() {
			if err := client.MkdirAll(target); err != nil {
				return &TransferError{Local: p, Remote: target, Err: err}
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return &TransferError{Local: p, Remote: target, Err: err}
		}
		return copyFile(client, p, target, info.Mode())
	})
}

// RemoteTarget maps a path under localRoot to its destination under
// remoteRoot. Remote paths always use forward slashes.
func RemoteTarget(localRoot, localPath, remoteRoot string) (string, error) {
	rel, err := filepath.Rel(localRoot, localPath)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return remoteRoot, nil
	}
	return path.Join(remoteRoot, filepath.ToSlash(rel)), nil
}

func copyFile(client *sftp.Client, localPath, remotePath string, mode fs.FileMode) error {
	src, err := os.Open(localPath)
	if err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}
	defer src.Close()

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}
	dst, err := client.Create(remotePath)
	if err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}
	if err := client.Chmod(remotePath, mode.Perm()); err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}
	return nil
}
