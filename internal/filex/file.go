// Package filex contains small filesystem helpers: content checksums for
// local files and directory preparation for on-disk state.
package filex

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
)

// EnsureDir creates dir (and parents) if needed and returns its absolute path.
// A relative dir is resolved against the current working directory.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	return abs, nil
}

// Checksum returns the lowercase hex SHA-256 digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChecksumWriter counts and hashes everything written to it.
type ChecksumWriter struct {
	h hash.Hash
	n int64
}

func NewChecksumWriter() *ChecksumWriter {
	return &ChecksumWriter{h: sha256.New()}
}

func (w *ChecksumWriter) Write(p []byte) (int, error) {
	n, _ := w.h.Write(p)
	w.n += int64(n)
	return n, nil
}

func (w *ChecksumWriter) Size() int64 { return w.n }

// Checksum is the hex SHA-256 of the bytes written so far.
func (w *ChecksumWriter) Checksum() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// ReaderChecksum consumes r and returns the number of bytes read and their
// hex SHA-256 digest.
func ReaderChecksum(r io.Reader) (int64, string, error) {
	w := NewChecksumWriter()
	if _, err := io.Copy(w, r); err != nil {
		return w.Size(), "", err
	}
	return w.Size(), w.Checksum(), nil
}

// SizeAndChecksum streams the file at path and returns its size and checksum.
func SizeAndChecksum(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	n, sum, err := ReaderChecksum(f)
	if err != nil {
		return 0, "", fmt.Errorf("read %s: %w", path, err)
	}
	return n, sum, nil
}
