package rolestore

import (
	"context"
	"sync"
)

// MemoryStore guarda documentos como mapas de campos. Util en desarrollo y tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]any)}
}

func docKey(collection, id string) string {
	return collection + "/" + id
}

// Put crea o reemplaza un documento.
func (s *MemoryStore) Put(collection, id string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := make(map[string]any, len(fields))
	for k, v := range fields {
		doc[k] = v
	}
	s.docs[docKey(collection, id)] = doc
}

func (s *MemoryStore) Field(collection, id, field string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[docKey(collection, id)]
	if !ok {
		return nil, false
	}
	v, ok := doc[field]
	return v, ok
}

func (s *MemoryStore) UpdateField(_ context.Context, collection, id, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docKey(collection, id)]
	if !ok {
		return ErrDocumentNotFound
	}
	doc[field] = value
	return nil
}

// Seed crea los documentos que falten con los campos dados. Los existentes no
// se tocan. Devuelve cuantos creo.
func (s *MemoryStore) Seed(collection string, ids []string, fields map[string]any) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for _, id := range ids {
		key := docKey(collection, id)
		if _, ok := s.docs[key]; ok {
			continue
		}
		doc := make(map[string]any, len(fields))
		for k, v := range fields {
			doc[k] = v
		}
		s.docs[key] = doc
		created++
	}
	return created
}
