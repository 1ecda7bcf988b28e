package pd

import (
	"slices"
	"sync"
)

// EventKind identifies a library change.
type EventKind int

const (
	// EventDirectoryChanged: the contents of Path changed.
	EventDirectoryChanged EventKind = iota + 1
	// EventImageMoved: Image moved from OldPath to Path.
	EventImageMoved
	// EventImageRemoved: Image at Path was removed.
	EventImageRemoved
	// EventPropertyChanged: Key of Image changed.
	EventPropertyChanged
	// EventImportFinished: Operation completed.
	EventImportFinished
)

func (k EventKind) String() string {
	switch k {
	case EventDirectoryChanged:
		return "directory-changed"
	case EventImageMoved:
		return "image-moved"
	case EventImageRemoved:
		return "image-removed"
	case EventPropertyChanged:
		return "property-changed"
	case EventImportFinished:
		return "import-finished"
	default:
		return "unknown"
	}
}

// Event describes one change. Fields not relevant to Kind are zero.
type Event struct {
	Kind      EventKind
	LibraryID uint32
	Path      string
	OldPath   string
	Image     ImageName
	Key       string
	Operation *ImportOperation
}

// observerList fans events out to registered callbacks in registration order.
// Callbacks run on the goroutine that caused the change and must not block.
type observerList struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Event)
}

func (o *observerList) add(fn func(Event)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(Event))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.fns, id)
	}
}

func (o *observerList) notify(ev Event) {
	o.mu.Lock()
	ids := make([]int, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, o.fns[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
