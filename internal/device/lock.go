package device

import "sync"

// KeyedMutex hands out one mutex per key, created on first use. Entries are
// never evicted; the key space is bounded by the number of known devices.
type KeyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*sync.Mutex
}

// Lock acquires the mutex of key and returns the function releasing it.
func (k *KeyedMutex[K]) Lock(key K) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[K]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Len returns the number of keys that have a mutex.
func (k *KeyedMutex[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// GetOrFill returns the value of f. When f is absent, fill runs under the
// mutex of key after a second check, so concurrent callers on the same key
// call fill at most once per miss. A nil value from fill leaves f absent and
// the next caller will try again.
func GetOrFill[K comparable, T any](locks *KeyedMutex[K], key K, f *Field[T], fill func() (*T, error)) (*T, error) {
	if v := f.Load(); v != nil {
		return v, nil
	}

	unlock := locks.Lock(key)
	defer unlock()

	if v := f.Load(); v != nil {
		return v, nil
	}
	v, err := fill()
	if err != nil || v == nil {
		return nil, err
	}
	return f.Fill(v), nil
}
