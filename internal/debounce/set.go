package debounce

// Set is an accumulator that deduplicates keys.
type Set[K comparable] map[K]struct{}

// Union merges a batch of keys into acc.
func Union[K comparable](acc Set[K], keys []K) Set[K] {
	if acc == nil {
		acc = make(Set[K], len(keys))
	}
	for _, k := range keys {
		acc[k] = struct{}{}
	}
	return acc
}

// Add merges a single key into acc.
func Add[K comparable](acc Set[K], key K) Set[K] {
	if acc == nil {
		acc = make(Set[K], 1)
	}
	acc[key] = struct{}{}
	return acc
}

// Has reports whether key is in the set.
func (s Set[K]) Has(key K) bool {
	_, ok := s[key]
	return ok
}
