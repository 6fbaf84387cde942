// Package memstore is an in-memory docstore.Store used by tests and local
// runs. Commits are all-or-nothing under a single mutex and the store keeps
// commit/write counters so tests can assert on write traffic.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/MuradAles/OrangeAI-sub003/internal/docstore"
)

type listener struct {
	id int
	fn func(docstore.Event)
}

// Store implements docstore.Store in process memory.
type Store struct {
	mu        sync.Mutex
	docs      map[string]map[string]map[string]interface{} // collection -> id -> fields
	versions  map[string]int64                             // path -> version
	listeners map[string][]listener                        // collection -> subscribers
	nextSub   int
	commits   int
	writes    int
	closed    bool
}

var _ docstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		docs:      make(map[string]map[string]map[string]interface{}),
		versions:  make(map[string]int64),
		listeners: make(map[string][]listener),
	}
}

// Commits reports how many successful commits the store has applied.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Writes reports the total number of document writes across all commits.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) Get(_ context.Context, path docstore.Path) (docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.Document{}, docstore.ErrStoreClosed
	}

	coll, ok := s.docs[path.Collection]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	fields, ok := coll[path.ID]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}

	return docstore.Document{
		Path:    path,
		Fields:  deepCopy(fields),
		Version: s.versions[path.String()],
	}, nil
}

func (s *Store) Query(_ context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, docstore.ErrStoreClosed
	}

	var out []docstore.Document
	for id, fields := range s.docs[collection] {
		ok, err := matches(fields, filters)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		path := docstore.Path{Collection: collection, ID: id}
		out = append(out, docstore.Document{
			Path:    path,
			Fields:  deepCopy(fields),
			Version: s.versions[path.String()],
		})
	}

	return out, nil
}

func (s *Store) Commit(_ context.Context, writes []docstore.Write) error {
	fanout, err := s.apply(writes)
	if err != nil {
		return err
	}

	// Deliver after releasing the lock so a subscriber callback may call back
	// into the store. Events of one commit stay in write order.
	for _, deliver := range fanout {
		deliver()
	}
	return nil
}

func (s *Store) apply(writes []docstore.Write) ([]func(), error) {
	if len(writes) == 0 {
		return nil, docstore.ErrEmptyCommit
	}
	if len(writes) > docstore.MaxCommitWrites {
		return nil, docstore.ErrTooManyWrites
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, docstore.ErrStoreClosed
	}

	// Stage against copies so a failing transform leaves the store untouched.
	// Writes later in the batch see the staged state of earlier writes to the
	// same document.
	staged := make([]map[string]interface{}, len(writes))
	stagedByPath := make(map[string]map[string]interface{})
	deleted := make(map[string]bool)
	for i, w := range writes {
		key := w.Path.String()
		cur, ok := stagedByPath[key]
		if !ok && !deleted[key] {
			cur = s.docs[w.Path.Collection][w.Path.ID]
		}

		switch w.Op {
		case docstore.OpDelete:
			staged[i] = nil
			delete(stagedByPath, key)
			deleted[key] = true
			continue
		case docstore.OpSet:
			staged[i] = deepCopy(w.Fields)
		case docstore.OpMerge:
			merged := deepCopy(cur)
			if merged == nil {
				merged = make(map[string]interface{})
			}
			for k, v := range deepCopy(w.Fields) {
				merged[k] = v
			}
			staged[i] = merged
		default:
			return nil, fmt.Errorf("memstore: unknown write op %d", w.Op)
		}

		for _, tr := range w.Transforms {
			if err := docstore.ApplyTransform(staged[i], tr); err != nil {
				return nil, err
			}
		}

		stagedByPath[key] = staged[i]
		delete(deleted, key)
	}

	var events []docstore.Event
	for i, w := range writes {
		key := w.Path.String()
		if w.Op == docstore.OpDelete {
			if coll, ok := s.docs[w.Path.Collection]; ok {
				delete(coll, w.Path.ID)
			}
			delete(s.versions, key)
			events = append(events, docstore.Event{Path: w.Path, Deleted: true})
			continue
		}

		coll, ok := s.docs[w.Path.Collection]
		if !ok {
			coll = make(map[string]map[string]interface{})
			s.docs[w.Path.Collection] = coll
		}
		coll[w.Path.ID] = staged[i]
		s.versions[key]++
		events = append(events, docstore.Event{
			Path:    w.Path,
			Fields:  deepCopy(staged[i]),
			Version: s.versions[key],
		})
	}

	s.commits++
	s.writes += len(writes)

	var fanout []func()
	for _, ev := range events {
		for _, l := range s.listeners[ev.Path.Collection] {
			ev, fn := ev, l.fn
			fanout = append(fanout, func() { fn(ev) })
		}
	}

	return fanout, nil
}

func (s *Store) Subscribe(_ context.Context, collection string, fn func(docstore.Event)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, docstore.ErrStoreClosed
	}

	s.nextSub++
	id := s.nextSub
	s.listeners[collection] = append(s.listeners[collection], listener{id: id, fn: fn})

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		ls := s.listeners[collection]
		for i, l := range ls {
			if l.id == id {
				s.listeners[collection] = append(ls[:i], ls[i+1:]...)
				return
			}
		}
	}

	return unsubscribe, nil
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.listeners = make(map[string][]listener)
}

func matches(fields map[string]interface{}, filters []docstore.Filter) (bool, error) {
	for _, f := range filters {
		switch f.Op {
		case docstore.FilterEq:
			if fields[f.Field] != f.Value {
				return false, nil
			}
		case docstore.FilterContains:
			set, err := docstore.StringSet(fields[f.Field])
			if err != nil {
				return false, err
			}
			want, _ := f.Value.(string)
			found := false
			for _, e := range set {
				if e == want {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			return false, docstore.ErrBadFilterOp
		}
	}
	return true, nil
}

func deepCopy(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = copyValue(v)
	}
	return dst
}

func copyValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		return deepCopy(vv)
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	default:
		return v
	}
}
