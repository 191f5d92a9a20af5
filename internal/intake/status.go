package intake

import (
	"sync"

	"github.com/lingosum/intake/internal/model"
)

// ProgressUnchanged leaves an item's progress as it is.
const ProgressUnchanged = -1

// StatusUpdate is published after every item mutation.
type StatusUpdate struct {
	Handle   model.Handle
	Status   model.ItemStatus
	Progress int
	Error    string
}

// Listener consumes status updates. Listeners run on the mutating goroutine
// and must not call back into the tracker.
type Listener func(StatusUpdate)

// Tracker owns every mutation of FileItem status fields and publishes each
// change to its listeners. Transitions are not restricted; callers treat
// completed and failed as terminal.
type Tracker struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func NewTracker() *Tracker {
	return &Tracker{listeners: make(map[int]Listener)}
}

// Subscribe registers l and returns a function that removes it.
func (t *Tracker) Subscribe(l Listener) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = l
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// SetStatus sets status and progress. While the item stays uploading or
// processing its progress never decreases. Moving to a non-terminal status
// clears any recorded summary or error.
func (t *Tracker) SetStatus(item *model.FileItem, status model.ItemStatus, progress int) model.FileItem {
	return t.mutate(item, func() {
		applyStatus(item, status, progress)
		if !status.IsTerminal() {
			item.Error = ""
			item.Summary = ""
		}
	})
}

// Complete records a successful outcome: completed, progress 100.
func (t *Tracker) Complete(item *model.FileItem, summary string) model.FileItem {
	return t.mutate(item, func() {
		item.Status = model.ItemStatusCompleted
		item.Progress = 100
		item.Summary = summary
		item.Error = ""
	})
}

// Fail records a failed outcome: failed, progress reset to 0.
func (t *Tracker) Fail(item *model.FileItem, reason string) model.FileItem {
	return t.mutate(item, func() {
		item.Status = model.ItemStatusFailed
		item.Progress = 0
		item.Error = reason
		item.Summary = ""
	})
}

// Snapshot returns a consistent copy of item.
func (t *Tracker) Snapshot(item *model.FileItem) model.FileItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *item
}

func (t *Tracker) mutate(item *model.FileItem, fn func()) model.FileItem {
	t.mu.Lock()
	fn()
	snap := *item
	listeners := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()

	update := StatusUpdate{
		Handle:   snap.Handle,
		Status:   snap.Status,
		Progress: snap.Progress,
		Error:    snap.Error,
	}
	for _, l := range listeners {
		l(update)
	}
	return snap
}

func applyStatus(item *model.FileItem, status model.ItemStatus, progress int) {
	wasInFlight := item.Status.IsInFlight()
	item.Status = status

	if progress == ProgressUnchanged {
		return
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if wasInFlight && status.IsInFlight() && progress < item.Progress {
		return
	}
	item.Progress = progress
}
