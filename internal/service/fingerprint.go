package service

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// newFingerprinter returns the digest used to fingerprint uploaded content.
// SHA-256 hex, 64 characters; the dedup key within a project.
func newFingerprinter() hash.Hash {
	return sha256.New()
}

func fingerprintHex(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes the content fingerprint of a full byte stream without
// buffering it in memory. The ingest path instead tees the stream through the
// digest while it uploads, so the bytes are only read once.
func Fingerprint(r io.Reader) (string, error) {
	h := newFingerprinter()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return fingerprintHex(h), nil
}
