package doc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix leaves room for
// changing the canonical form later.
const (
	DomainContent = "grimoire/content/v1"
	DomainArchive = "grimoire/archive/v1"
)

// hashWithDomain computes SHA-256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentKey returns a stable key for the canonical form of v.
// Used to group byte-identical codex content arrays.
func ContentKey(v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("ContentKey: %w", err)
	}
	return hashWithDomain(DomainContent, canonical), nil
}

// ArchiveDigest returns the digest recorded in archive manifests.
func ArchiveDigest(data []byte) string {
	return hashWithDomain(DomainArchive, data)
}
