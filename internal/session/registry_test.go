package session

import (
	"sync"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestTask(videoID string, addedAt time.Time) *task {
	t := newTask(TaskRequest{VideoID: videoID, Kind: TaskKindVideo}, zap.NewNop().Sugar())
	t.addedAt = addedAt
	t.state.AddedAt = addedAt
	return t
}

func TestRegistry(t *testing.T) {
	assert := assert_.New(t)
	r := newRegistry()
	now := time.Now()
	a := newTestTask("a", now.Add(time.Second))
	b := newTestTask("b", now)

	assert.Nil(r.insert(a))
	assert.Nil(r.insert(b))
	assert.ErrorIs(r.insert(a), ErrDuplicateTask)
	assert.Same(a, r.get(a.id))
	assert.Nil(r.get("missing"))

	// Oldest first
	assert.Equal([]*task{b, a}, r.all())

	replacement := newTestTask("a2", now.Add(2*time.Second))
	replacement.id = a.id
	r.replace(replacement)
	assert.Same(replacement, r.get(a.id))
	assert.Len(r.all(), 2)

	assert.Same(replacement, r.remove(a.id))
	assert.Nil(r.remove(a.id))
	assert.Equal([]*task{b}, r.all())

	assert.Equal([]*task{b}, r.clear())
	assert.Empty(r.all())
}

func TestRegistry_Concurrent(t *testing.T) {
	assert := assert_.New(t)
	r := newRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tk := newTestTask("x", time.Now())
			assert.Nil(r.insert(tk))
		}()
		go func() {
			defer wg.Done()
			for _, tk := range r.all() {
				_ = tk.snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Len(r.all(), 20)
}
