package acp

import (
	"sync"

	"github.com/AlexxIT/go-acp/pkg/acp"
)

// Store is the in-memory property store behind the test server.
type Store struct {
	mu    sync.RWMutex
	props map[string][]byte
}

func NewStore() *Store {
	return &Store{props: map[string][]byte{}}
}

// Seed coerces a config value through the property catalogue. Uncatalogued
// names accept plain strings as raw bytes.
func (s *Store) Seed(name string, value any) error {
	if acp.Lookup(name) == nil {
		str, ok := value.(string)
		if !ok {
			return acp.ErrUnknownProperty
		}
		s.mu.Lock()
		s.props[name] = []byte(str)
		s.mu.Unlock()
		return nil
	}

	if n, ok := value.(int); ok && n >= 0 {
		value = uint64(n)
	}

	p, err := acp.NewProperty(name, value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.props[name] = p.Value
	s.mu.Unlock()
	return nil
}

func (s *Store) GetProperty(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.props[name]
	if !ok {
		return nil, acp.ErrUnknownProperty
	}
	return value, nil
}

func (s *Store) SetProperty(name string, value []byte) error {
	s.mu.Lock()
	s.props[name] = value
	s.mu.Unlock()
	return nil
}
