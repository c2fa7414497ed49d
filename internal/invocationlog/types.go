// Package invocationlog implements the invocation log: a persistent,
// crash-tolerant, append-only record of past build-step invocations and
// the directories Shuriken created to make room for their outputs, plus
// its recompaction.
//
// Grounded on original_source/src/persistent_invocation_log.cpp (record
// framing, parse/truncate-on-error, recompaction thresholds) and
// src/invocations.h (the in-memory Invocations shape, including fingerprint
// interning). The on-disk format matches spec.md §4.C/§6 byte for byte.
package invocationlog

import (
	"github.com/shurikenbuild/shuriken/internal/fingerprint"
)

// Hash identifies a build step (its command, rspfile content/path, pool
// name, and output paths hashed together by the manifest index).
type Hash = fingerprint.Hash

// PathFingerprint is one entry in the log's interned (path, Fingerprint)
// pool. Invocations.Entry references these by index. Parse adds one pool
// element per file of each INVOCATION record and does not merge equal
// (path, Fingerprint) pairs, so a file recorded by several steps appears
// once per step.
type PathFingerprint struct {
	Path        string
	Fingerprint fingerprint.Fingerprint
}

// Entry is the persisted record for one step hash: the set of outputs and
// inputs observed the last time the step ran, as indices into the log's
// interned fingerprint pool.
type Entry struct {
	OutputFiles []int
	InputFiles  []int
}

// Invocations is the whole post-parse state of the log.
type Invocations struct {
	Entries            map[Hash]Entry
	Fingerprints       []PathFingerprint
	CreatedDirectories map[fingerprint.FileId]string
}

// NewInvocations returns an empty Invocations, the state a build starts
// from when no log exists yet.
func NewInvocations() Invocations {
	return Invocations{
		Entries:            map[Hash]Entry{},
		CreatedDirectories: map[fingerprint.FileId]string{},
	}
}

// Equal reports deep equality modulo fingerprint-pool ordering, used by
// round-trip tests (spec.md §8 invariant 1).
func (inv Invocations) Equal(other Invocations) bool {
	if len(inv.CreatedDirectories) != len(other.CreatedDirectories) {
		return false
	}
	for k, v := range inv.CreatedDirectories {
		if other.CreatedDirectories[k] != v {
			return false
		}
	}
	if len(inv.Entries) != len(other.Entries) {
		return false
	}
	for hash, entry := range inv.Entries {
		otherEntry, ok := other.Entries[hash]
		if !ok {
			return false
		}
		if !filesEqual(inv.Fingerprints, other.Fingerprints, entry.OutputFiles, otherEntry.OutputFiles) {
			return false
		}
		if !filesEqual(inv.Fingerprints, other.Fingerprints, entry.InputFiles, otherEntry.InputFiles) {
			return false
		}
	}
	return true
}

func filesEqual(a, b []PathFingerprint, aIdx, bIdx []int) bool {
	if len(aIdx) != len(bIdx) {
		return false
	}
	for i := range aIdx {
		af, bf := a[aIdx[i]], b[bIdx[i]]
		if af.Path != bf.Path || !af.Fingerprint.Equal(bf.Fingerprint) {
			return false
		}
	}
	return true
}
