package lib

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/soypat/seqs"
)

func SeqIncrement(seq uint32) uint32 {
	return uint32(seqs.Add(seqs.Value(seq), 1))
}

func SeqIncrementBy(seq, inc uint32) uint32 {
	return uint32(seqs.Add(seqs.Value(seq), seqs.Size(inc)))
}

// SEQ compare function with SEQ wraparound in mind
func isGreater(seq1, seq2 uint32) bool {
	return seqs.LessThan(seqs.Value(seq2), seqs.Value(seq1))
}

func isGreaterOrEqual(seq1, seq2 uint32) bool {
	return seqs.LessThanEq(seqs.Value(seq2), seqs.Value(seq1))
}

func isLess(seq1, seq2 uint32) bool {
	return seqs.LessThan(seqs.Value(seq1), seqs.Value(seq2))
}

func isLessOrEqual(seq1, seq2 uint32) bool {
	return seqs.LessThanEq(seqs.Value(seq1), seqs.Value(seq2))
}

// GenerateISN returns a random initial sequence number in [0, MaxISN].
func GenerateISN() (uint32, error) {
	var isn uint16
	if err := binary.Read(rand.Reader, binary.BigEndian, &isn); err != nil {
		return 0, errors.Wrap(err, "generate ISN")
	}
	return uint32(isn) & MaxISN, nil
}
