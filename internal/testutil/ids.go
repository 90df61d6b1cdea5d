package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs returns an id generator yielding prefix-0001, prefix-0002, ...
//
// Use it wherever production code takes a func() string for run, backup or
// quarantine ids, so directory names in tests are predictable.
func SequenceIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%04d", prefix, n)
	}
}
