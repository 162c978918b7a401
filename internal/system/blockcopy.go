package system

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/recoveryworks/update-engine/pkg/logger"
)

const blockCopyBuffer = 1024 * 1024

// FileBlockCopier writes a raw image onto a block device through the regular
// file API. The destination is opened without O_CREATE so a missing device
// node fails instead of leaving a stray file.
type FileBlockCopier struct {
	log *logger.Logger
}

func NewFileBlockCopier() *FileBlockCopier {
	return &FileBlockCopier{log: logger.NewLogger("blockcopy")}
}

func (c *FileBlockCopier) Copy(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open image %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open device %s: %w", dst, err)
	}
	defer out.Close()

	buf := make([]byte, blockCopyBuffer)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		nr, readErr := in.Read(buf)
		if nr > 0 {
			nw, writeErr := out.Write(buf[:nr])
			written += int64(nw)
			if writeErr != nil {
				return fmt.Errorf("writing %s: %w", dst, writeErr)
			}
			if nw != nr {
				return io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("reading %s: %w", src, readErr)
		}
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dst, err)
	}

	c.log.Infof("flashed %s onto %s (%d bytes)", src, dst, written)
	return nil
}
