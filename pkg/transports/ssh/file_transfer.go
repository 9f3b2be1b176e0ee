package ssh

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
)

// WriteFile uploads data over SFTP, creating missing parent directories.
// The mode is applied before any data is written. Cancelling ctx closes the
// SFTP session, which aborts the transfer.
func (c *Client) WriteFile(ctx context.Context, remotePath string, data []byte, mode uint32) error {
	client, err := c.conn()
	if err != nil {
		return err
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		return c.fail("sftp", err, true)
	}
	defer sc.Close()

	stop := context.AfterFunc(ctx, func() { _ = sc.Close() })
	defer stop()

	start := time.Now()
	dir := path.Dir(remotePath)
	if err := sc.MkdirAll(dir); err != nil {
		return c.fail("upload", fmt.Errorf("create %s: %w", dir, err), false)
	}

	f, err := sc.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return c.fail("upload", fmt.Errorf("open %s: %w", remotePath, err), ctx.Err() == nil)
	}
	if mode != 0 {
		if err := f.Chmod(os.FileMode(mode)); err != nil {
			_ = f.Close()
			return c.fail("upload", fmt.Errorf("chmod %s: %w", remotePath, err), false)
		}
	}

	n, err := f.ReadFrom(bytes.NewReader(data))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return c.fail("upload", fmt.Errorf("write %s: %w", remotePath, err), ctx.Err() == nil)
	}

	c.logger.Debug().
		Str("path", remotePath).
		Int64("bytes", n).
		Dur("duration", time.Since(start)).
		Msg("File uploaded")
	return nil
}
