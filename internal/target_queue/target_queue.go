package targetqueue

import (
	"strings"
	"sync"
)

// TargetQueue hands out entity names in insertion order, each at most once.
type TargetQueue struct {
	seen  map[string]bool
	queue []string
	mu    sync.Mutex
}

func NewTargetQueue(entities ...string) *TargetQueue {
	q := &TargetQueue{
		seen:  make(map[string]bool),
		queue: make([]string, 0, len(entities)),
	}
	for _, e := range entities {
		q.Add(e)
	}
	return q
}

// Add enqueues entity unless it is blank or was added before.
func (q *TargetQueue) Add(entity string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	normalized := NormalizeEntity(entity)
	if normalized == "" || q.seen[normalized] {
		return false
	}
	q.seen[normalized] = true
	q.queue = append(q.queue, normalized)
	return true
}

func (q *TargetQueue) Get() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return "", false
	}
	entity := q.queue[0]
	q.queue = q.queue[1:]
	return entity, true
}

func (q *TargetQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// NormalizeEntity trims whitespace and a leading "@". Case is kept since
// stored keys are compared as given.
func NormalizeEntity(entity string) string {
	return strings.TrimPrefix(strings.TrimSpace(entity), "@")
}
