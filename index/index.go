// Package index declares the external contracts the engine consumes
// (spec §6): the Index Manager API (term/ner/pos/dependency/temporal/
// metadata lookups) and the Text Provider API (sentence/document text by
// id). Corpus ingestion, the NLP annotation pipeline, and physical index
// storage are explicitly out of scope (spec §1) — this package is the
// seam, grounded on the teacher's datalog/storage.Store interface shape
// (datalog/storage/queries.go), generalized from Datom scans to the
// spec's Position-returning lookups.
package index

import (
	"context"

	"github.com/wbrown/corpusql/match"
)

// Name identifiers for the well-known indexes (spec §6).
const (
	Term       = "term"
	Ner        = "ner"
	Pos        = "pos"
	Dependency = "dependency"
	Temporal   = "temporal"
	Metadata   = "metadata"
)

// PositionIterator yields Position values lazily, following the teacher's
// Iterator<Position> contract. Implementations must be safe for use by a
// single goroutine; the Manager itself must support concurrent callers
// each holding their own iterators (spec §5).
type PositionIterator interface {
	// Next advances the iterator and reports whether a value is available.
	Next(ctx context.Context) (match.Position, bool, error)
	Close() error
}

// DependencyTriple is the unit the dependency index iterates over: a
// governor/relation/dependent triple anchored at a position (spec §4.3).
type DependencyTriple struct {
	Governor  string
	Relation  string
	Dependent string
	Position  match.Position
}

// DependencyIterator yields DependencyTriple values.
type DependencyIterator interface {
	Next(ctx context.Context) (DependencyTriple, bool, error)
	Close() error
}

// Handle is a single named index's read surface (spec §6 IndexHandle).
type Handle interface {
	// Lookup returns the positions matching key. The dependency index's
	// triples are read through DependencyHandle.LookupTriples instead.
	Lookup(ctx context.Context, key string) (PositionIterator, error)

	// Estimate returns an approximate candidate count for key, used by the
	// evaluator to order AND children by selectivity (spec §4.3).
	Estimate(ctx context.Context, key string) (uint64, error)

	// Documents iterates every doc_id known to this index. Only the
	// metadata index is required to implement this meaningfully; other
	// handles may return an empty iterator.
	Documents(ctx context.Context) (DocIDIterator, error)
}

// DependencyHandle extends Handle for the dependency index, whose lookups
// are keyed by relation and return triples rather than bare positions.
type DependencyHandle interface {
	Handle
	LookupTriples(ctx context.Context, relation string) (DependencyIterator, error)
}

// DocIDIterator yields doc_id values, used for metadata scans (universe
// construction, spec §4.3 NOT-at-root) and NOT-complement bookkeeping.
type DocIDIterator interface {
	Next(ctx context.Context) (int, bool, error)
	Close() error
}

// Manager is the Index Manager API (spec §6): a process-wide, read-only,
// concurrency-safe registry of named indexes.
type Manager interface {
	GetIndex(name string) (Handle, bool)
}

// TextProvider is the Text Provider API (spec §6): sentence- and
// document-level text lookup, backing the SNIPPET extractor (spec §4.6).
// Implementations must tolerate concurrent reads (spec §5).
type TextProvider interface {
	GetSentence(ctx context.Context, docID, sentenceID int) (string, bool, error)
	GetDocument(ctx context.Context, docID int) (string, bool, error)

	// SentenceCount reports how many sentences doc_id has, used to build
	// the NOT-at-root universe at SENTENCE granularity. Implementations
	// backed by a text store generally derive this for free; it is kept
	// on TextProvider rather than Manager because it describes document
	// shape, not indexed content.
	SentenceCount(ctx context.Context, docID int) (int, error)
}
