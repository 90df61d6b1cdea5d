package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainDefinitions = "evoloop/definitions/v1"
	DomainSource      = "evoloop/source/v1"
	DomainEntry       = "evoloop/entry/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DefinitionsHash computes the content hash of a definitions document.
// Two documents that differ only in key order or insignificant whitespace
// hash identically.
func DefinitionsHash(doc any) (string, error) {
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("DefinitionsHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDefinitions, canonical), nil
}

// SourceHash computes the content hash of program source text.
func SourceHash(source string) string {
	return hashWithDomain(DomainSource, []byte(source))
}

// EntryHash computes the content hash of an iteration log entry. Entries
// repeated after a rollback restore hash identically, so the ledger indexes
// each distinct entry once.
func EntryHash(e LogEntry) (string, error) {
	canonical, err := MarshalCanonical(e)
	if err != nil {
		return "", fmt.Errorf("EntryHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEntry, canonical), nil
}

// ShortHash truncates a hex hash for display.
func ShortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}
