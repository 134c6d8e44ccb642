package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/renameio/v2"
)

const defaultMode os.FileMode = 0o644

// CopyFile copies src to dst without verification. dst only appears once the
// copy is complete.
func CopyFile(src, dst string) error {
	_, err := copyAtomic(src, dst, false)
	return err
}

// CopyFileVerified copies src to dst, hashing both sides of the stream. The
// destination is only renamed into place when byte count and SHA-256 match,
// so a failed copy never leaves a truncated file behind.
func CopyFileVerified(src, dst string) error {
	_, err := copyAtomic(src, dst, true)
	return err
}

// MoveFile renames src to dst. Across filesystems it falls back to a
// verified copy followed by removal of src.
func MoveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}
	if err := CopyFileVerified(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// SameContent reports whether two files hold identical bytes.
func SameContent(a, b string) (bool, error) {
	ha, sa, err := hashFile(a)
	if err != nil {
		return false, err
	}
	hb, sb, err := hashFile(b)
	if err != nil {
		return false, err
	}
	return sa == sb && bytes.Equal(ha, hb), nil
}

func copyAtomic(src, dst string, verify bool) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	pending, err := renameio.NewPendingFile(dst,
		renameio.WithTempDir(filepath.Dir(dst)),
		renameio.WithPermissions(defaultMode),
	)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() { _ = pending.Cleanup() }()

	var reader io.Reader = in
	var writer io.Writer = pending
	srcHash, dstHash := sha256.New(), sha256.New()
	if verify {
		reader = io.TeeReader(in, srcHash)
		writer = io.MultiWriter(pending, dstHash)
	}
	written, err := io.Copy(writer, reader)
	if err != nil {
		return written, err
	}
	if verify {
		if written != info.Size() {
			return written, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), written)
		}
		if !bytes.Equal(srcHash.Sum(nil), dstHash.Sum(nil)) {
			return written, errors.New("copy hash mismatch: file corrupted during copy")
		}
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return written, err
	}
	return written, nil
}

func hashFile(path string) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, 0, err
	}
	return h.Sum(nil), n, nil
}
