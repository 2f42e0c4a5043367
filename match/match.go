// Package match implements the match-unit data model and the match algebra
// from spec §3 and §4.4: Position, DocSentenceMatch, and the MatchSet
// intersect/union/subtract operations that combinators in package eval
// compose. It is grounded on the teacher's Relation/join machinery
// (datalog/executor/relation.go, datalog/executor/join.go) but keyed by
// (doc_id, sentence_id) instead of arbitrary tuple columns, since spec
// invariant I1 fixes that as the match identity.
package match

import (
	"fmt"
	"sort"
	"time"

	"github.com/wbrown/corpusql/ast"
	"github.com/wbrown/corpusql/binding"
)

// SentenceWildcard marks a document-granularity match (spec §3).
const SentenceWildcard = -1

// Position is a span in a document, optionally carrying a temporal value
// (spec §3).
type Position struct {
	DocID      int
	SentenceID int
	Begin      int
	End        int
	HasDate    bool
	Date       time.Time
	Label      string // entity/POS label contributing this position, when relevant
}

// Overlaps reports whether p and o are the same (doc, sentence) and their
// spans touch or cross (spec §4.6 merge rule: "p1.end >= p2.begin").
func (p Position) Overlaps(o Position) bool {
	return p.DocID == o.DocID && p.SentenceID == o.SentenceID && p.End >= o.Begin && o.End >= p.Begin
}

// Key identifies a (doc_id, sentence_id) pair.
type Key struct {
	DocID      int
	SentenceID int
}

func (k Key) less(o Key) bool {
	if k.DocID != o.DocID {
		return k.DocID < o.DocID
	}
	return k.SentenceID < o.SentenceID
}

// PositionSet is a deduplicated set of Position, keyed by value identity.
type PositionSet map[Position]struct{}

func NewPositionSet(ps ...Position) PositionSet {
	s := make(PositionSet, len(ps))
	for _, p := range ps {
		s[p] = struct{}{}
	}
	return s
}

func (s PositionSet) Add(p Position) { s[p] = struct{}{} }

func (s PositionSet) Union(o PositionSet) PositionSet {
	out := make(PositionSet, len(s)+len(o))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range o {
		out[p] = struct{}{}
	}
	return out
}

// Slice returns the positions in deterministic (doc,sentence,begin,end)
// order.
func (s PositionSet) Slice() []Position {
	out := make([]Position, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DocID != b.DocID {
			return a.DocID < b.DocID
		}
		if a.SentenceID != b.SentenceID {
			return a.SentenceID < b.SentenceID
		}
		if a.Begin != b.Begin {
			return a.Begin < b.Begin
		}
		return a.End < b.End
	})
	return out
}

// DocSentenceMatch is a single match unit (spec §3).
type DocSentenceMatch struct {
	DocID      int
	SentenceID int // SentenceWildcard for document-granularity matches
	Source     string
	Positions  map[string]PositionSet // keyed by the contributing condition's key (e.g. ast path or variable name)
	Bindings   *binding.Context
}

func newMatch(docID, sentenceID int, source string) *DocSentenceMatch {
	return &DocSentenceMatch{
		DocID:      docID,
		SentenceID: sentenceID,
		Source:     source,
		Positions:  make(map[string]PositionSet),
		Bindings:   binding.New(),
	}
}

// New builds a match with a single keyed position set and an empty binding
// context, satisfying invariant I2 (a leaf-produced match's position sets
// are always non-empty).
func New(docID, sentenceID int, source, key string, positions ...Position) *DocSentenceMatch {
	m := newMatch(docID, sentenceID, source)
	m.Positions[key] = NewPositionSet(positions...)
	return m
}

func (m *DocSentenceMatch) key() Key { return Key{m.DocID, m.SentenceID} }

// String renders the match for debugging/log output.
func (m *DocSentenceMatch) String() string {
	return fmt.Sprintf("match(doc=%d sent=%d src=%s vars=%v)", m.DocID, m.SentenceID, m.Source, m.Bindings.Variables())
}

// mergePositions unions m's position sets with other's, mutating a copy and
// returning it; keys present in only one side pass through unchanged.
func mergePositions(a, b map[string]PositionSet) map[string]PositionSet {
	out := make(map[string]PositionSet, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if existing, ok := out[k]; ok {
			out[k] = existing.Union(v)
		} else {
			out[k] = v
		}
	}
	return out
}

// mergeBindings returns the union of a's and b's bindings, with b appended
// after a per variable (spec §3 BindingContext.merge: "other wins on
// conflict").
func mergeBindings(a, b *binding.Context) *binding.Context {
	out := a.Copy()
	out.Merge(b)
	return out
}

// MatchSet is a keyed collection of DocSentenceMatch, iterated in
// (doc_id, sentence_id) ascending order (spec §4.3: "Within a match set,
// iteration order is (doc_id, sentence_id) ascending").
type MatchSet struct {
	byKey map[Key][]*DocSentenceMatch // >1 when Intersect yields several binding combinations or Union keeps distinct bindings
	order []Key
}

// NewSet builds a MatchSet from a slice of matches, grouping by key.
func NewSet(matches ...*DocSentenceMatch) *MatchSet {
	s := &MatchSet{byKey: make(map[Key][]*DocSentenceMatch)}
	for _, m := range matches {
		s.Add(m)
	}
	return s
}

// Add inserts m into the set, appending to any existing matches sharing
// its key (used when AND produces multiple binding combinations for the
// same (doc,sentence) pair, spec §4.3).
func (s *MatchSet) Add(m *DocSentenceMatch) {
	k := m.key()
	if _, ok := s.byKey[k]; !ok {
		s.order = append(s.order, k)
	}
	s.byKey[k] = append(s.byKey[k], m)
}

// Len returns the number of distinct (doc,sentence) keys.
func (s *MatchSet) Len() int { return len(s.order) }

// IsEmpty reports whether the set has no matches.
func (s *MatchSet) IsEmpty() bool { return len(s.order) == 0 }

// Keys returns the set's keys in ascending order.
func (s *MatchSet) Keys() []Key {
	keys := append([]Key(nil), s.order...)
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

// All returns every match in the set, ordered by key then insertion order
// within a key (spec §4.3 observable ordering).
func (s *MatchSet) All() []*DocSentenceMatch {
	var out []*DocSentenceMatch
	for _, k := range s.Keys() {
		out = append(out, s.byKey[k]...)
	}
	return out
}

// At returns the matches stored under key k.
func (s *MatchSet) At(k Key) []*DocSentenceMatch {
	return s.byKey[k]
}

// Has reports whether k is present in the set.
func (s *MatchSet) Has(k Key) bool {
	_, ok := s.byKey[k]
	return ok
}

// Intersect computes A ∩ B per spec §4.4: for each shared key, merge
// position maps and bindings; if bindings are incompatible the pair is
// dropped. A (doc,sentence) pair may yield several output matches, one per
// compatible binding combination (spec §4.3 AND semantics cross-product).
func Intersect(a, b *MatchSet) *MatchSet {
	out := NewSet()
	for _, k := range a.Keys() {
		if !b.Has(k) {
			continue
		}
		for _, ma := range a.At(k) {
			for _, mb := range b.At(k) {
				if !ma.Bindings.Compatible(mb.Bindings) {
					continue
				}
				merged := newMatch(k.DocID, k.SentenceID, pickSource(ma.Source, mb.Source))
				merged.Positions = mergePositions(ma.Positions, mb.Positions)
				merged.Bindings = mergeBindings(ma.Bindings, mb.Bindings)
				out.Add(merged)
			}
		}
	}
	return out
}

// Union computes A ∪ B per spec §4.4: every match of A, then of B. Matches
// sharing a key stay separate entries. A match whose (doc_id, sentence_id,
// source, frozen bindings) equals one already added is dropped, and its
// position sets are not merged into the kept match.
func Union(a, b *MatchSet) *MatchSet {
	out := NewSet()
	seen := make(map[string]struct{})
	add := func(m *DocSentenceMatch) {
		fp := fingerprint(m)
		if _, dup := seen[fp]; dup {
			return
		}
		seen[fp] = struct{}{}
		out.Add(m)
	}
	for _, m := range a.All() {
		add(m)
	}
	for _, m := range b.All() {
		add(m)
	}
	return out
}

// Subtract computes A \ B per spec §4.4 (used by NOT): every key in A not
// present in B.
func Subtract(a, b *MatchSet) *MatchSet {
	out := NewSet()
	for _, k := range a.Keys() {
		if b.Has(k) {
			continue
		}
		for _, m := range a.At(k) {
			out.Add(m)
		}
	}
	return out
}

func fingerprint(m *DocSentenceMatch) string {
	return fmt.Sprintf("%d|%d|%s|%s", m.DocID, m.SentenceID, m.Source, m.Bindings.Narrow())
}

func pickSource(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Universe builds the MatchSet of every document (or document/sentence
// pair) known to the corpus, with no bindings — used by NOT at the root of
// the AST (spec §4.3: "NOT at the root evaluates against the universe of
// documents from the corpus metadata index").
func Universe(docIDs []int, granularity ast.Granularity, sentenceCounts map[int]int) *MatchSet {
	out := NewSet()
	for _, doc := range docIDs {
		if granularity == ast.Document {
			out.Add(newMatch(doc, SentenceWildcard, "metadata"))
			continue
		}
		n := sentenceCounts[doc]
		for s := 0; s < n; s++ {
			out.Add(newMatch(doc, s, "metadata"))
		}
	}
	return out
}
