package manifest

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/shurikenbuild/shuriken/internal/fingerprint"
)

// stepHasher folds a step's execution-relevant fields into a single
// fingerprint.Hash, length-prefixing every string so "ab"+"c" never
// collides with "a"+"bc".
type stepHasher struct {
	h []byte
}

func newStepHasher() *stepHasher {
	return &stepHasher{}
}

func (s *stepHasher) writeString(str string) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(str)))
	s.h = append(s.h, lenBuf[:]...)
	s.h = append(s.h, str...)
}

func (s *stepHasher) sum() fingerprint.Hash {
	digest := blake2b.Sum512(s.h)
	var out fingerprint.Hash
	copy(out[:], digest[:len(out)])
	return out
}
