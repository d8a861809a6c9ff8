package timewarp

// Store is the host's live storage for one tracked component type. The
// world reads it to detect births, deaths, and per-frame values, and writes
// it when restoring state for a rollback. Implementations do not need to be
// concurrency-safe; all access happens inside RunFrame or under the host's
// own locking.
type Store[T comparable] interface {
	Get(id string) (T, bool)
	Set(id string, value T)
	Remove(id string)
	// Each visits every live component. Mutating the store during iteration
	// is not allowed.
	Each(fn func(id string, value T))
	Len() int
}

// MapStore is the bundled map-backed Store for hosts without their own
// component storage.
type MapStore[T comparable] struct {
	values map[string]T
}

func NewMapStore[T comparable]() *MapStore[T] {
	return &MapStore[T]{values: make(map[string]T)}
}

func (s *MapStore[T]) Get(id string) (T, bool) {
	v, ok := s.values[id]
	return v, ok
}

func (s *MapStore[T]) Set(id string, value T) {
	s.values[id] = value
}

func (s *MapStore[T]) Remove(id string) {
	delete(s.values, id)
}

func (s *MapStore[T]) Each(fn func(id string, value T)) {
	for id, v := range s.values {
		fn(id, v)
	}
}

func (s *MapStore[T]) Len() int {
	return len(s.values)
}
