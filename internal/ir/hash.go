package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Domain prefixes for hashed identities.
// The version suffix allows the algorithm to change without collisions.
const (
	DomainState   = "domino/state/v1"
	DomainQuery   = "domino/query/v1"
	DomainProgram = "domino/program/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StateHash returns a stable hash of an app-db value.
// Replay compares these to check that a journal reproduces a snapshot.
func StateHash(v IRValue) string {
	return hashWithDomain(DomainState, MustMarshalCanonical(v))
}

// QueryKey returns the cache key for a subscription query vector.
// Structurally equal queries share a key.
func QueryKey(ev Event) string {
	return hashWithDomain(DomainQuery, MustMarshalCanonical(ev.Vector()))
}

// ProgramHash identifies a compiled program. Runs record it so replay can
// refuse a program that changed since the journal was written.
func ProgramHash(p *Program) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("program hash: %w", err)
	}
	v, err := UnmarshalIRValue(data)
	if err != nil {
		return "", fmt.Errorf("program hash: %w", err)
	}
	canon, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("program hash: %w", err)
	}
	return hashWithDomain(DomainProgram, canon), nil
}
