package badgerindex

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/wbrown/corpusql/index"
	"github.com/wbrown/corpusql/match"
)

// Position on-disk layout, grounded on the teacher's hand-rolled
// StorageDatom.Bytes() (datalog/storage/types.go): fixed-width integer
// fields followed by a length-prefixed label, big-endian throughout.
// Format: DocID(8) SentenceID(8) Begin(8) End(8) HasDate(1) Date(8)
// LabelLen(2) Label(var)
func encodePosition(p match.Position) []byte {
	label := []byte(p.Label)
	buf := make([]byte, 8+8+8+8+1+8+2+len(label))
	binary.BigEndian.PutUint64(buf[0:8], uint64(p.DocID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(p.SentenceID))
	binary.BigEndian.PutUint64(buf[16:24], uint64(p.Begin))
	binary.BigEndian.PutUint64(buf[24:32], uint64(p.End))
	if p.HasDate {
		buf[32] = 1
	}
	binary.BigEndian.PutUint64(buf[33:41], uint64(p.Date.UnixNano()))
	binary.BigEndian.PutUint16(buf[41:43], uint16(len(label)))
	copy(buf[43:], label)
	return buf
}

func decodePosition(buf []byte) (match.Position, error) {
	if len(buf) < 43 {
		return match.Position{}, fmt.Errorf("badgerindex: position data too short: %d bytes", len(buf))
	}
	labelLen := int(binary.BigEndian.Uint16(buf[41:43]))
	if len(buf) < 43+labelLen {
		return match.Position{}, fmt.Errorf("badgerindex: position data truncated")
	}
	p := match.Position{
		DocID:      int(binary.BigEndian.Uint64(buf[0:8])),
		SentenceID: int(binary.BigEndian.Uint64(buf[8:16])),
		Begin:      int(binary.BigEndian.Uint64(buf[16:24])),
		End:        int(binary.BigEndian.Uint64(buf[24:32])),
		HasDate:    buf[32] == 1,
		Date:       time.Unix(0, int64(binary.BigEndian.Uint64(buf[33:41]))).UTC(),
		Label:      string(buf[43 : 43+labelLen]),
	}
	return p, nil
}

// DependencyTriple layout: GovernorLen(2) Governor RelationLen(2) Relation
// DependentLen(2) Dependent Position(var).
func encodeTriple(t index.DependencyTriple) []byte {
	gov, rel, dep := []byte(t.Governor), []byte(t.Relation), []byte(t.Dependent)
	pos := encodePosition(t.Position)
	buf := make([]byte, 2+len(gov)+2+len(rel)+2+len(dep)+len(pos))
	off := 0
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(gov)))
	off += 2
	off += copy(buf[off:], gov)
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(rel)))
	off += 2
	off += copy(buf[off:], rel)
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(dep)))
	off += 2
	off += copy(buf[off:], dep)
	copy(buf[off:], pos)
	return buf
}

func decodeTriple(buf []byte) (index.DependencyTriple, error) {
	off := 0
	readStr := func() (string, error) {
		if len(buf) < off+2 {
			return "", fmt.Errorf("badgerindex: triple data too short")
		}
		n := int(binary.BigEndian.Uint16(buf[off : off+2]))
		off += 2
		if len(buf) < off+n {
			return "", fmt.Errorf("badgerindex: triple data truncated")
		}
		s := string(buf[off : off+n])
		off += n
		return s, nil
	}
	gov, err := readStr()
	if err != nil {
		return index.DependencyTriple{}, err
	}
	rel, err := readStr()
	if err != nil {
		return index.DependencyTriple{}, err
	}
	dep, err := readStr()
	if err != nil {
		return index.DependencyTriple{}, err
	}
	pos, err := decodePosition(buf[off:])
	if err != nil {
		return index.DependencyTriple{}, err
	}
	return index.DependencyTriple{Governor: gov, Relation: rel, Dependent: dep, Position: pos}, nil
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}
