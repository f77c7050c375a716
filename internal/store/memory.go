package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"agrihub.org/internal/ids"
)

// Memory is an in-process RecordStore. It backs tests and DSN-less dev runs
// and mirrors the Postgres implementation's matching semantics.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]Doc
}

var _ RecordStore = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]Doc)}
}

func (m *Memory) Insert(_ context.Context, collection string, doc Doc) (string, error) {
	cp := deepCopy(doc)
	id, _ := cp[IDField].(string)
	if id == "" {
		id = ids.New()
		cp[IDField] = id
	}
	m.mu.Lock()
	m.collections[collection] = append(m.collections[collection], cp)
	m.mu.Unlock()
	return id, nil
}

func (m *Memory) FindOne(_ context.Context, collection string, filter Filter) (Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, doc := range m.collections[collection] {
		if matches(doc, filter) {
			return deepCopy(doc), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Find(_ context.Context, collection string, filter Filter) ([]Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Doc
	for _, doc := range m.collections[collection] {
		if matches(doc, filter) {
			out = append(out, deepCopy(doc))
		}
	}
	return out, nil
}

func (m *Memory) Update(_ context.Context, collection string, filter Filter, set Doc) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, doc := range m.collections[collection] {
		if !matches(doc, filter) {
			continue
		}
		for k, v := range deepCopy(set) {
			if k == IDField {
				continue
			}
			doc[k] = v
		}
		n++
	}
	return n, nil
}

func (m *Memory) Delete(_ context.Context, collection string, filter Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.collections[collection]
	kept := docs[:0]
	var n int64
	for _, doc := range docs {
		if matches(doc, filter) {
			n++
			continue
		}
		kept = append(kept, doc)
	}
	m.collections[collection] = kept
	return n, nil
}

func matches(doc Doc, filter Filter) bool {
	for key, want := range filter {
		got, ok := doc[key]
		if !ok {
			return false
		}
		if folded, isFold := want.(Fold); isFold {
			s, isStr := got.(string)
			if !isStr || !strings.EqualFold(s, string(folded)) {
				return false
			}
			continue
		}
		if !jsonEqual(got, want) {
			return false
		}
	}
	return true
}

// jsonEqual compares values through their JSON form, so int/float64 and
// struct/map representations of the same value match.
func jsonEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

// deepCopy round-trips through JSON so stored documents never alias caller
// memory and values normalize to JSON types.
func deepCopy(doc Doc) Doc {
	if doc == nil {
		return Doc{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		cp := make(Doc, len(doc))
		for k, v := range doc {
			cp[k] = v
		}
		return cp
	}
	var out Doc
	if err := json.Unmarshal(data, &out); err != nil {
		return Doc{}
	}
	return out
}
