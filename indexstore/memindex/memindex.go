// Package memindex is a deterministic, in-memory reference implementation
// of the index.Manager and index.TextProvider contracts (spec §6), used by
// the engine's own tests and by cmd/corpusql's demo mode. It is grounded
// on the teacher's datalog/storage.Store/Iterator shape
// (datalog/storage/store.go) — a small write API plus a cursor-style
// Iterator — adapted from byte-range Datom scans to per-index posting
// lists keyed by term/type/tag string.
package memindex

import (
	"context"
	"fmt"
	"sort"

	"github.com/wbrown/corpusql/index"
	"github.com/wbrown/corpusql/match"
)

// Store is an in-memory corpus: posting lists for every named index plus
// sentence/document text, built incrementally via the Add* methods and
// then queried through its Manager()/TextProvider() views.
type Store struct {
	postings map[string]map[string][]match.Position
	triples  map[string][]index.DependencyTriple
	docIDs   map[int]struct{}
	sentCnt  map[int]int
	sentence map[sentKey]string
	document map[int]string
}

type sentKey struct {
	doc, sent int
}

// New returns an empty Store ready to be populated.
func New() *Store {
	return &Store{
		postings: map[string]map[string][]match.Position{
			index.Term:     {},
			index.Ner:      {},
			index.Pos:      {},
			index.Temporal: {},
		},
		triples:  map[string][]index.DependencyTriple{},
		docIDs:   map[int]struct{}{},
		sentCnt:  map[int]int{},
		sentence: map[sentKey]string{},
		document: map[int]string{},
	}
}

// AddDocument registers a document's full text and derives its doc_id
// presence in the metadata index.
func (s *Store) AddDocument(docID int, text string) {
	s.docIDs[docID] = struct{}{}
	s.document[docID] = text
}

// AddSentence registers a single sentence's text and bumps the document's
// sentence count if this is the highest sentence id seen so far.
func (s *Store) AddSentence(docID, sentenceID int, text string) {
	s.docIDs[docID] = struct{}{}
	s.sentence[sentKey{docID, sentenceID}] = text
	if sentenceID+1 > s.sentCnt[docID] {
		s.sentCnt[docID] = sentenceID + 1
	}
}

// AddTerm posts a term occurrence, surfaced by CONTAINS (spec §4.3). term
// should already be normalized the way the evaluator will look it up
// (lower-cased).
func (s *Store) AddTerm(term string, p match.Position) {
	p.Label = termLabel(p, term)
	s.postings[index.Term][term] = append(s.postings[index.Term][term], p)
}

// AddEntity posts a named-entity occurrence keyed by its NerType string
// (spec §4.3 NER), with p.Label carrying the entity's surface form so the
// evaluator can bind it without a second text lookup.
func (s *Store) AddEntity(nerType, surface string, p match.Position) {
	p.Label = surface
	s.postings[index.Ner][nerType] = append(s.postings[index.Ner][nerType], p)
}

// AddPos posts a part-of-speech tagged token, keyed by POS tag, with
// p.Label carrying the token's surface text.
func (s *Store) AddPos(tag, surface string, p match.Position) {
	p.Label = surface
	s.postings[index.Pos][tag] = append(s.postings[index.Pos][tag], p)
}

// AddTemporal posts a dated position (spec §4.3 Temporal). The reference
// implementation keeps a single bucket; the evaluator applies the actual
// date predicate client-side after Lookup.
func (s *Store) AddTemporal(p match.Position) {
	p.HasDate = true
	s.postings[index.Temporal]["*"] = append(s.postings[index.Temporal]["*"], p)
}

// AddDependencyTriple posts a governor/relation/dependent triple (spec
// §4.3 Dependency).
func (s *Store) AddDependencyTriple(t index.DependencyTriple) {
	s.triples[t.Relation] = append(s.triples[t.Relation], t)
}

func termLabel(p match.Position, term string) string {
	if p.Label != "" {
		return p.Label
	}
	return term
}

// Manager returns an index.Manager view over s.
func (s *Store) Manager() index.Manager { return &manager{s} }

// TextProvider returns an index.TextProvider view over s.
func (s *Store) TextProvider() index.TextProvider { return &textProvider{s} }

type manager struct{ s *Store }

func (m *manager) GetIndex(name string) (index.Handle, bool) {
	switch name {
	case index.Term, index.Ner, index.Pos, index.Temporal:
		return &handle{s: m.s, name: name}, true
	case index.Dependency:
		return &handle{s: m.s, name: name}, true
	case index.Metadata:
		return &handle{s: m.s, name: name}, true
	default:
		return nil, false
	}
}

type handle struct {
	s    *Store
	name string
}

func (h *handle) Lookup(ctx context.Context, key string) (index.PositionIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	postings, ok := h.s.postings[h.name]
	if !ok {
		return nil, fmt.Errorf("memindex: %q is not a position index", h.name)
	}
	return &positionIterator{positions: postings[key]}, nil
}

func (h *handle) Estimate(ctx context.Context, key string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return uint64(len(h.s.postings[h.name][key])), nil
}

func (h *handle) Documents(ctx context.Context) (index.DocIDIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.name != index.Metadata {
		return &docIDIterator{}, nil
	}
	ids := make([]int, 0, len(h.s.docIDs))
	for id := range h.s.docIDs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return &docIDIterator{ids: ids}, nil
}

// LookupTriples implements index.DependencyHandle for the dependency
// index's name.
func (h *handle) LookupTriples(ctx context.Context, relation string) (index.DependencyIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tripleIterator{triples: h.s.triples[relation]}, nil
}

type positionIterator struct {
	positions []match.Position
	i         int
}

func (it *positionIterator) Next(ctx context.Context) (match.Position, bool, error) {
	if err := ctx.Err(); err != nil {
		return match.Position{}, false, err
	}
	if it.i >= len(it.positions) {
		return match.Position{}, false, nil
	}
	p := it.positions[it.i]
	it.i++
	return p, true, nil
}

func (it *positionIterator) Close() error { return nil }

type tripleIterator struct {
	triples []index.DependencyTriple
	i       int
}

func (it *tripleIterator) Next(ctx context.Context) (index.DependencyTriple, bool, error) {
	if err := ctx.Err(); err != nil {
		return index.DependencyTriple{}, false, err
	}
	if it.i >= len(it.triples) {
		return index.DependencyTriple{}, false, nil
	}
	t := it.triples[it.i]
	it.i++
	return t, true, nil
}

func (it *tripleIterator) Close() error { return nil }

type docIDIterator struct {
	ids []int
	i   int
}

func (it *docIDIterator) Next(ctx context.Context) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if it.i >= len(it.ids) {
		return 0, false, nil
	}
	id := it.ids[it.i]
	it.i++
	return id, true, nil
}

func (it *docIDIterator) Close() error { return nil }

type textProvider struct{ s *Store }

func (t *textProvider) GetSentence(ctx context.Context, docID, sentenceID int) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	text, ok := t.s.sentence[sentKey{docID, sentenceID}]
	return text, ok, nil
}

func (t *textProvider) GetDocument(ctx context.Context, docID int) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	text, ok := t.s.document[docID]
	return text, ok, nil
}

func (t *textProvider) SentenceCount(ctx context.Context, docID int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.s.sentCnt[docID], nil
}
