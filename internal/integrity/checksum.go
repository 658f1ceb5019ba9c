package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// ChecksumReader computes the hex-encoded SHA-256 digest of r, streaming so
// large packages never have to fit in memory.
func ChecksumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumFile computes the hex-encoded SHA-256 digest of the file at path.
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return ChecksumReader(f)
}

// VerifyFile reports whether the file at path matches the expected digest.
// The comparison is case-insensitive on the hex encoding.
func VerifyFile(path, expected string) (bool, error) {
	actual, err := ChecksumFile(path)
	if err != nil {
		return false, fmt.Errorf("checksum %s: %w", path, err)
	}
	return ChecksumsEqual(actual, expected), nil
}

// ChecksumsEqual compares two hex digests case-insensitively.
func ChecksumsEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}
