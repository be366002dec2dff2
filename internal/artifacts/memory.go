package artifacts

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type memoryItem struct {
	key     string
	data    []byte
	created time.Time
}

// MemoryStore hält die letzten maxItems Artefakte im Speicher und verdrängt
// bei Überlauf das älteste.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[string]*memoryItem
	order     []*memoryItem
	maxItems  int
	urlPrefix string
}

// NewMemoryStore erstellt einen begrenzten Speicher-Store
func NewMemoryStore(maxItems int, urlPrefix string) *MemoryStore {
	if maxItems <= 0 {
		maxItems = 20
	}
	return &MemoryStore{
		items:     make(map[string]*memoryItem),
		order:     make([]*memoryItem, 0, maxItems),
		maxItems:  maxItems,
		urlPrefix: urlPrefix,
	}
}

// Put implementiert Store
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[key]; exists {
		return fmt.Errorf("%w: %s", ErrExists, key)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	item := &memoryItem{key: key, data: buf, created: time.Now()}
	s.items[key] = item
	s.order = append(s.order, item)

	if len(s.order) > s.maxItems {
		oldest := s.order[0]
		delete(s.items, oldest.key)
		s.order = s.order[1:]
		log.Debugf("Evicted heatmap %s from memory store", oldest.key)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return item.data, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(s.items, key)
	for i, item := range s.order {
		if item.key == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len liefert die Anzahl gespeicherter Artefakte
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *MemoryStore) URL(key string) string {
	return joinURL(s.urlPrefix, key)
}
