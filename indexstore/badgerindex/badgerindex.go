// Package badgerindex is a BadgerDB-backed, persistent implementation of
// the index.Manager and index.TextProvider contracts (spec §6), for
// corpora too large to hold in memindex. It is grounded directly on the
// teacher's BadgerStore (datalog/storage/badger_store.go): the same
// badger.DefaultOptions tuning for a read-heavy workload, the same
// txn/iterator wrapping shape, generalized from Datom byte-range scans to
// per-index posting lists addressed by a string key.
package badgerindex

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/wbrown/corpusql/index"
	"github.com/wbrown/corpusql/match"
)

// Store is a BadgerDB-backed corpus. Keys are namespaced by a one-byte
// prefix per concern; posting and triple keys additionally sort by an
// in-process sequence counter, so multiple occurrences under the same key
// get distinct storage slots without a read-modify-write per insert.
type Store struct {
	db  *badger.DB
	seq map[string]*uint64
}

const (
	prefixPosting  = "P:" // P:<indexName>\x00<key>\x00<seq>
	prefixTriple   = "T:" // T:<relation>\x00<seq>
	prefixDocument = "D:" // D:<docID big-endian>
	prefixSentence = "S:" // S:<docID><sentenceID>
	prefixSentCnt  = "N:" // N:<docID>
)

// Open creates (or reuses) a BadgerDB-backed Store at path, tuned for the
// read-heavy query workload the way the teacher's NewBadgerStore is.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.MemTableSize = 128 << 20
	opts.BlockCacheSize = 256 << 20
	opts.IndexCacheSize = 100 << 20
	opts.DetectConflicts = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerindex: failed to open badger: %w", err)
	}
	return &Store{db: db, seq: map[string]*uint64{}}, nil
}

// Close releases the underlying BadgerDB handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) nextSeq(namespace string) uint64 {
	ctr, ok := s.seq[namespace]
	if !ok {
		ctr = new(uint64)
		s.seq[namespace] = ctr
	}
	return atomic.AddUint64(ctr, 1) - 1
}

func postingKey(indexName, key string, seq uint64) []byte {
	return bytes.Join([][]byte{[]byte(prefixPosting + indexName), []byte(key), encodeUint64(seq)}, []byte{0})
}

func postingPrefix(indexName, key string) []byte {
	return append(bytes.Join([][]byte{[]byte(prefixPosting + indexName), []byte(key)}, []byte{0}), 0)
}

func tripleKey(relation string, seq uint64) []byte {
	return bytes.Join([][]byte{[]byte(prefixTriple + relation), encodeUint64(seq)}, []byte{0})
}

func triplePrefix(relation string) []byte {
	return append([]byte(prefixTriple+relation), 0)
}

func docKey(docID int) []byte {
	return append([]byte(prefixDocument), encodeUint64(uint64(docID))...)
}

func sentKey(docID, sentenceID int) []byte {
	buf := append([]byte(prefixSentence), encodeUint64(uint64(docID))...)
	return append(buf, encodeUint64(uint64(sentenceID))...)
}

func sentCountKey(docID int) []byte {
	return append([]byte(prefixSentCnt), encodeUint64(uint64(docID))...)
}

// AddTerm posts a term occurrence (spec §4.3 CONTAINS).
func (s *Store) AddTerm(term string, p match.Position) error {
	return s.addPosting(index.Term, term, p)
}

// AddEntity posts a named-entity occurrence keyed by NerType.
func (s *Store) AddEntity(nerType, surface string, p match.Position) error {
	p.Label = surface
	return s.addPosting(index.Ner, nerType, p)
}

// AddPos posts a POS-tagged token occurrence.
func (s *Store) AddPos(tag, surface string, p match.Position) error {
	p.Label = surface
	return s.addPosting(index.Pos, tag, p)
}

// AddTemporal posts a dated position under the single temporal bucket.
func (s *Store) AddTemporal(p match.Position) error {
	p.HasDate = true
	return s.addPosting(index.Temporal, "*", p)
}

func (s *Store) addPosting(indexName, key string, p match.Position) error {
	seq := s.nextSeq(indexName + "\x00" + key)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(postingKey(indexName, key, seq), encodePosition(p))
	})
}

// AddDependencyTriple posts a governor/relation/dependent triple.
func (s *Store) AddDependencyTriple(t index.DependencyTriple) error {
	seq := s.nextSeq("triple\x00" + t.Relation)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tripleKey(t.Relation, seq), encodeTriple(t))
	})
}

// AddDocument registers a document's full text, also making its doc_id
// discoverable via the metadata index's Documents() scan.
func (s *Store) AddDocument(docID int, text string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(docKey(docID), []byte(text))
	})
}

// AddSentence registers a sentence's text and bumps the document's tracked
// sentence count if sentenceID is the highest seen so far.
func (s *Store) AddSentence(docID, sentenceID int, text string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(sentKey(docID, sentenceID), []byte(text)); err != nil {
			return err
		}
		var current uint64
		if item, err := txn.Get(sentCountKey(docID)); err == nil {
			_ = item.Value(func(val []byte) error {
				current = decodeUint64(val)
				return nil
			})
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if want := uint64(sentenceID + 1); want > current {
			if err := txn.Set(sentCountKey(docID), encodeUint64(want)); err != nil {
				return err
			}
		}
		if _, err := txn.Get(docKey(docID)); err == badger.ErrKeyNotFound {
			return txn.Set(docKey(docID), []byte{})
		}
		return nil
	})
}

// Manager returns an index.Manager view over s.
func (s *Store) Manager() index.Manager { return &manager{s} }

// TextProvider returns an index.TextProvider view over s.
func (s *Store) TextProvider() index.TextProvider { return &textProvider{s} }

type manager struct{ s *Store }

func (m *manager) GetIndex(name string) (index.Handle, bool) {
	switch name {
	case index.Term, index.Ner, index.Pos, index.Temporal, index.Dependency, index.Metadata:
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
	txn := h.s.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	prefix := postingPrefix(h.name, key)
	it.Seek(prefix)
	return &positionIterator{txn: txn, it: it, prefix: prefix}, nil
}

func (h *handle) Estimate(ctx context.Context, key string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	txn := h.s.db.NewTransaction(false)
	defer txn.Discard()
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	prefix := postingPrefix(h.name, key)
	var count uint64
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		count++
	}
	return count, nil
}

func (h *handle) Documents(ctx context.Context) (index.DocIDIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.name != index.Metadata {
		return &docIDIterator{}, nil
	}
	txn := h.s.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	prefix := []byte(prefixDocument)
	it.Seek(prefix)
	return &docIDIterator{txn: txn, it: it, prefix: prefix}, nil
}

func (h *handle) LookupTriples(ctx context.Context, relation string) (index.DependencyIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := h.s.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	prefix := triplePrefix(relation)
	it.Seek(prefix)
	return &tripleIterator{txn: txn, it: it, prefix: prefix}, nil
}

type positionIterator struct {
	txn    *badger.Txn
	it     *badger.Iterator
	prefix []byte
}

func (p *positionIterator) Next(ctx context.Context) (match.Position, bool, error) {
	if err := ctx.Err(); err != nil {
		return match.Position{}, false, err
	}
	if !p.it.ValidForPrefix(p.prefix) {
		return match.Position{}, false, nil
	}
	var pos match.Position
	var decodeErr error
	err := p.it.Item().Value(func(val []byte) error {
		pos, decodeErr = decodePosition(val)
		return decodeErr
	})
	if err != nil {
		return match.Position{}, false, err
	}
	p.it.Next()
	return pos, true, nil
}

func (p *positionIterator) Close() error {
	p.it.Close()
	p.txn.Discard()
	return nil
}

type tripleIterator struct {
	txn    *badger.Txn
	it     *badger.Iterator
	prefix []byte
}

func (t *tripleIterator) Next(ctx context.Context) (index.DependencyTriple, bool, error) {
	if err := ctx.Err(); err != nil {
		return index.DependencyTriple{}, false, err
	}
	if !t.it.ValidForPrefix(t.prefix) {
		return index.DependencyTriple{}, false, nil
	}
	var triple index.DependencyTriple
	var decodeErr error
	err := t.it.Item().Value(func(val []byte) error {
		triple, decodeErr = decodeTriple(val)
		return decodeErr
	})
	if err != nil {
		return index.DependencyTriple{}, false, err
	}
	t.it.Next()
	return triple, true, nil
}

func (t *tripleIterator) Close() error {
	t.it.Close()
	t.txn.Discard()
	return nil
}

type docIDIterator struct {
	txn    *badger.Txn
	it     *badger.Iterator
	prefix []byte
}

func (d *docIDIterator) Next(ctx context.Context) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if d.it == nil || !d.it.ValidForPrefix(d.prefix) {
		return 0, false, nil
	}
	key := d.it.Item().KeyCopy(nil)
	id := decodeUint64(key[len(d.prefix):])
	d.it.Next()
	return int(id), true, nil
}

func (d *docIDIterator) Close() error {
	if d.it != nil {
		d.it.Close()
		d.txn.Discard()
	}
	return nil
}

type textProvider struct{ s *Store }

func (t *textProvider) GetSentence(ctx context.Context, docID, sentenceID int) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return t.get(sentKey(docID, sentenceID))
}

func (t *textProvider) GetDocument(ctx context.Context, docID int) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return t.get(docKey(docID))
}

func (t *textProvider) get(key []byte) (string, bool, error) {
	var text string
	found := false
	err := t.s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			text = string(val)
			return nil
		})
	})
	return text, found, err
}

func (t *textProvider) SentenceCount(ctx context.Context, docID int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var count uint64
	err := t.s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sentCountKey(docID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			count = decodeUint64(val)
			return nil
		})
	})
	return int(count), err
}
