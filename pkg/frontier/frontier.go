// Package frontier holds the crawl frontier: a FIFO queue of pending work
// items and the set of ids that have already been dispatched.
//
// A Frontier does no I/O and no locking. It is owned by exactly one
// scheduler, which serialises access to it.
package frontier

import (
	"igcrawler/pkg/models"
)

// Frontier is a FIFO queue of work items with a visited set used for
// deduplication. Items whose id is visited or already queued are dropped
// at enqueue time, so an id is never present in both the queue and the
// visited set.
type Frontier struct {
	queue   []models.WorkItem
	queued  map[string]struct{}
	visited map[string]struct{}
}

// New creates an empty Frontier
func New() *Frontier {
	return &Frontier{
		queued:  make(map[string]struct{}),
		visited: make(map[string]struct{}),
	}
}

// Enqueue appends the items that are neither visited nor already queued,
// preserving their relative order. It returns how many were accepted.
func (f *Frontier) Enqueue(items ...models.WorkItem) int {
	accepted := 0
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if _, ok := f.visited[item.ID]; ok {
			continue
		}
		if _, ok := f.queued[item.ID]; ok {
			continue
		}
		f.queue = append(f.queue, item)
		f.queued[item.ID] = struct{}{}
		accepted++
	}
	return accepted
}

// DequeueUpTo removes and returns up to n items from the head of the queue
func (f *Frontier) DequeueUpTo(n int) []models.WorkItem {
	if n <= 0 || len(f.queue) == 0 {
		return nil
	}
	if n > len(f.queue) {
		n = len(f.queue)
	}

	out := make([]models.WorkItem, n)
	copy(out, f.queue[:n])

	// Zero the vacated slots so the backing array does not pin old items.
	for i := 0; i < n; i++ {
		f.queue[i] = models.WorkItem{}
	}
	f.queue = f.queue[n:]
	if len(f.queue) == 0 {
		f.queue = nil
	}

	for _, item := range out {
		delete(f.queued, item.ID)
	}
	return out
}

// MarkVisited records id as dispatched
func (f *Frontier) MarkVisited(id string) {
	f.visited[id] = struct{}{}
}

// Visited reports whether id has been dispatched
func (f *Frontier) Visited(id string) bool {
	_, ok := f.visited[id]
	return ok
}

// Clear empties the queue. The visited set is kept.
func (f *Frontier) Clear() {
	f.queue = nil
	f.queued = make(map[string]struct{})
}

// IsEmpty reports whether the queue is empty
func (f *Frontier) IsEmpty() bool {
	return len(f.queue) == 0
}

// Len returns the number of queued items
func (f *Frontier) Len() int {
	return len(f.queue)
}

// VisitedCount returns the size of the visited set
func (f *Frontier) VisitedCount() int {
	return len(f.visited)
}

// Pending returns a copy of the queued items in dispatch order
func (f *Frontier) Pending() []models.WorkItem {
	out := make([]models.WorkItem, len(f.queue))
	copy(out, f.queue)
	return out
}

// Snapshot returns a serialisable copy of the queue and visited set
func (f *Frontier) Snapshot() models.FrontierSnapshot {
	visited := make([]string, 0, len(f.visited))
	for id := range f.visited {
		visited = append(visited, id)
	}
	return models.FrontierSnapshot{
		Queue:   f.Pending(),
		Visited: visited,
	}
}

// Restore replaces the frontier contents with snap
func (f *Frontier) Restore(snap models.FrontierSnapshot) {
	f.queue = nil
	f.queued = make(map[string]struct{})
	f.visited = make(map[string]struct{}, len(snap.Visited))
	for _, id := range snap.Visited {
		f.visited[id] = struct{}{}
	}
	f.Enqueue(snap.Queue...)
}
