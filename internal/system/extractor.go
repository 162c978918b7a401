package system

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/recoveryworks/update-engine/pkg/logger"
	"github.com/ulikunitz/xz"
)

// RemovalManifestName is the archive entry holding the list of paths a delta
// update removes from the system root. It is consumed by the applier and
// never extracted as a regular file.
const RemovalManifestName = "removed"

const copyWindow = 32 * 1024

// TarExtractor unpacks tar and tar.xz archives. Payloads and keyrings both
// use this format.
type TarExtractor struct {
	log *logger.Logger
}

func NewTarExtractor() *TarExtractor {
	return &TarExtractor{log: logger.NewLogger("extractor")}
}

// countingReader counts bytes consumed from the underlying archive file.
// Progress sizing divides the archive's on-disk size into units, so emission
// has to be measured in the same (compressed) byte space, not in the
// decompressed stream.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// openArchive returns a tar reader over the (possibly xz-compressed) archive,
// a closer for the underlying file, and the counter tracking archive bytes
// consumed.
func openArchive(path string) (*tar.Reader, io.Closer, *countingReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}

	cr := &countingReader{r: f}
	var r io.Reader = bufio.NewReader(cr)
	if strings.HasSuffix(path, ".xz") {
		xr, err := xz.NewReader(r)
		if err != nil {
			f.Close()
			return nil, nil, nil, fmt.Errorf("xz open %s: %w", path, err)
		}
		r = xr
	}

	return tar.NewReader(r), f, cr, nil
}

func (t *TarExtractor) RemovalManifest(archive string) ([]string, error) {
	tr, closer, _, err := openArchive(archive)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", archive, err)
		}
		if filepath.Clean(hdr.Name) != RemovalManifestName {
			continue
		}

		var paths []string
		scanner := bufio.NewScanner(tr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			paths = append(paths, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading removal manifest in %s: %w", archive, err)
		}
		return paths, nil
	}
}

func (t *TarExtractor) Extract(ctx context.Context, archive, dest string, onBytes func(n int64)) error {
	tr, closer, cr, err := openArchive(archive)
	if err != nil {
		return err
	}
	defer closer.Close()

	// report forwards the archive bytes consumed since the last call.
	var reported int64
	report := func() {
		if onBytes == nil {
			return
		}
		if d := cr.n - reported; d > 0 {
			reported = cr.n
			onBytes(d)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			report()
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", archive, err)
		}

		name := filepath.Clean(hdr.Name)
		if name == RemovalManifestName {
			continue
		}
		if name == "." || strings.HasPrefix(name, "..") {
			t.log.Warnf("skipping archive entry escaping destination: %s", hdr.Name)
			continue
		}

		target, ok := t.secureTarget(dest, name)
		if !ok {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, os.FileMode(hdr.Mode), report); err != nil {
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
		default:
			t.log.Debugf("skipping archive entry %s (type %c)", hdr.Name, hdr.Typeflag)
		}
		report()
	}
}

// secureTarget resolves an entry name under dest and refuses targets whose
// existing ancestors include a symlink: an archive must not write through a
// link it planted earlier.
func (t *TarExtractor) secureTarget(dest, name string) (string, bool) {
	dest = filepath.Clean(dest)
	target := filepath.Join(dest, name)
	for p := filepath.Dir(target); p != dest && p != filepath.Dir(p); p = filepath.Dir(p) {
		info, err := os.Lstat(p)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			t.log.Warnf("skipping archive entry %s: parent %s is a symlink", name, p)
			return "", false
		}
	}
	return target, true
}

func writeEntry(target string, r io.Reader, mode os.FileMode, report func()) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, copyWindow)
	for {
		nr, readErr := r.Read(buf)
		if nr > 0 {
			nw, writeErr := f.Write(buf[:nr])
			if writeErr != nil {
				return writeErr
			}
			if nw != nr {
				return io.ErrShortWrite
			}
			if report != nil {
				report()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
