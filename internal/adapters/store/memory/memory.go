// Package memory provides an in-process DocumentStore. It backs tests and
// the offline development mode; its subscription semantics mirror the
// remote adapter so the reconciler cannot tell them apart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/petsync/internal/application/ports"
	dmerrors "github.com/jbctechsolutions/petsync/internal/domain/errors"
)

// Store is an in-memory DocumentStore keyed by slash-separated paths.
// Document paths have an even number of segments; collection paths odd.
type Store struct {
	mu     sync.Mutex
	docs   map[string]map[string]interface{}
	subs   map[int]*subscription
	nextID int
	closed bool
}

type subscription struct {
	// path is set for document subscriptions, collection+query for
	// collection subscriptions.
	path       string
	collection string
	query      ports.Query
	isQuery    bool

	ch      chan []ports.Change
	ctx     context.Context
	matched map[string]bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		docs: make(map[string]map[string]interface{}),
		subs: make(map[int]*subscription),
	}
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, path string) (ports.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.docs[path]
	if !ok {
		return ports.Document{}, dmerrors.ErrNotFound
	}
	return ports.Document{ID: docID(path), Path: path, Data: cloneMap(data)}, nil
}

// Set merge-writes fields onto the document at path.
func (s *Store) Set(ctx context.Context, path string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dmerrors.ErrStoreClosed
	}

	existing, existed := s.docs[path]
	if !existed {
		existing = make(map[string]interface{})
	}
	merged := cloneMap(existing)
	for k, v := range fields {
		merged[k] = v
	}
	s.docs[path] = merged

	s.notifyLocked(path, existed)
	return nil
}

// Add creates a document with a generated ID under collection.
func (s *Store) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection+"/"+id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// Delete removes the document at path. Absent documents are not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dmerrors.ErrStoreClosed
	}
	if _, ok := s.docs[path]; !ok {
		return nil
	}
	delete(s.docs, path)

	for _, sub := range s.subs {
		if sub.ctx.Err() != nil {
			continue
		}
		if !sub.isQuery {
			if sub.path == path {
				sub.deliver([]ports.Change{{Kind: ports.ChangeRemoved, Doc: ports.Document{ID: docID(path), Path: path}}})
			}
			continue
		}
		if sub.matched[path] {
			delete(sub.matched, path)
			sub.deliver([]ports.Change{{Kind: ports.ChangeRemoved, Doc: ports.Document{ID: docID(path), Path: path}}})
		}
	}
	return nil
}

// Query reads the documents of a collection matching q.
func (s *Store) Query(ctx context.Context, collection string, q ports.Query) ([]ports.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(collection, q), nil
}

// Watch subscribes to a single document. An existing document is delivered
// as an initial added change.
func (s *Store) Watch(ctx context.Context, path string) (<-chan []ports.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, dmerrors.ErrStoreClosed
	}

	sub := &subscription{
		path: path,
		ch:   make(chan []ports.Change, 64),
		ctx:  ctx,
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = sub

	if data, ok := s.docs[path]; ok {
		sub.deliver([]ports.Change{{
			Kind: ports.ChangeAdded,
			Doc:  ports.Document{ID: docID(path), Path: path, Data: cloneMap(data)},
		}})
	}

	go s.reap(id, sub)
	return sub.ch, nil
}

// WatchQuery subscribes to a filtered collection. Current matches arrive as
// an initial batch of added changes.
func (s *Store) WatchQuery(ctx context.Context, collection string, q ports.Query) (<-chan []ports.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, dmerrors.ErrStoreClosed
	}

	sub := &subscription{
		collection: collection,
		query:      q,
		isQuery:    true,
		ch:         make(chan []ports.Change, 64),
		ctx:        ctx,
		matched:    make(map[string]bool),
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = sub

	initial := s.queryLocked(collection, q)
	if len(initial) > 0 {
		batch := make([]ports.Change, 0, len(initial))
		for _, doc := range initial {
			sub.matched[doc.Path] = true
			batch = append(batch, ports.Change{Kind: ports.ChangeAdded, Doc: doc})
		}
		sub.deliver(batch)
	}

	go s.reap(id, sub)
	return sub.ch, nil
}

// Close shuts the store down and closes all subscription channels.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
}

// reap closes the subscription channel once its context ends.
func (s *Store) reap(id int, sub *subscription) {
	<-sub.ctx.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(sub.ch)
	}
}

// notifyLocked fans a write out to matching subscriptions. Caller holds mu.
func (s *Store) notifyLocked(path string, existed bool) {
	data := s.docs[path]
	collection := collectionOf(path)

	for _, sub := range s.subs {
		if sub.ctx.Err() != nil {
			continue
		}
		if !sub.isQuery {
			if sub.path != path {
				continue
			}
			kind := ports.ChangeModified
			if !existed {
				kind = ports.ChangeAdded
			}
			sub.deliver([]ports.Change{{
				Kind: kind,
				Doc:  ports.Document{ID: docID(path), Path: path, Data: cloneMap(data)},
			}})
			continue
		}

		if sub.collection != collection {
			continue
		}
		matches := matchesQuery(data, sub.query)
		wasMatched := sub.matched[path]
		doc := ports.Document{ID: docID(path), Path: path, Data: cloneMap(data)}

		switch {
		case matches && !wasMatched:
			sub.matched[path] = true
			sub.deliver([]ports.Change{{Kind: ports.ChangeAdded, Doc: doc}})
		case matches && wasMatched:
			sub.deliver([]ports.Change{{Kind: ports.ChangeModified, Doc: doc}})
		case !matches && wasMatched:
			delete(sub.matched, path)
			sub.deliver([]ports.Change{{Kind: ports.ChangeRemoved, Doc: doc}})
		}
	}
}

func (sub *subscription) deliver(batch []ports.Change) {
	select {
	case sub.ch <- batch:
	default:
		// Slow consumer; drop rather than block the store.
	}
}

func (s *Store) queryLocked(collection string, q ports.Query) []ports.Document {
	var out []ports.Document
	for path, data := range s.docs {
		if collectionOf(path) != collection {
			continue
		}
		if !matchesQuery(data, q) {
			continue
		}
		out = append(out, ports.Document{ID: docID(path), Path: path, Data: cloneMap(data)})
	}

	if q.OrderBy != "" {
		sort.Slice(out, func(i, j int) bool {
			less := compareValues(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
			if q.Ascending {
				return less
			}
			return !less
		})
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	}
	return out
}

func matchesQuery(data map[string]interface{}, q ports.Query) bool {
	for _, f := range q.Filters {
		v, ok := data[f.Field]
		switch f.Op {
		case "==":
			if !ok || v != f.Value {
				return false
			}
		case "in":
			values, isSlice := f.Value.([]interface{})
			if !isSlice {
				if strs, isStrs := f.Value.([]string); isStrs {
					values = make([]interface{}, len(strs))
					for i, s := range strs {
						values[i] = s
					}
				}
			}
			found := false
			for _, want := range values {
				if ok && v == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func compareValues(a, b interface{}) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af < bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	return false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func docID(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func collectionOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
