package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("entry")
	assert.Equal(t, "entry-000001", g.Generate())
	assert.Equal(t, "entry-000002", g.Generate())
	assert.Equal(t, 2, g.Count())

	assert.Equal(t, "id-000001", NewSequentialIDs("").Generate())
}

func TestSequentialIDsUnique(t *testing.T) {
	g := NewSequentialIDs("x")

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
}
