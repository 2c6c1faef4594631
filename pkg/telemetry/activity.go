package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActivityEntry is one line of the activity log.
type ActivityEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// Activity levels.
const (
	ActivityLevelInfo    = "info"
	ActivityLevelWarning = "warning"
	ActivityLevelError   = "error"
)

// DefaultActivityCapacity is the ring size used when none is configured.
const DefaultActivityCapacity = 500

// ActivitySubscriber receives entries as they are pushed.
type ActivitySubscriber func(entry ActivityEntry)

// ActivityFilter selects the entries a subscriber receives.
type ActivityFilter func(entry ActivityEntry) bool

// ActivityLog is an append-only ring buffer of progress lines that
// subscribers can follow. It satisfies engine.ActivityLog.
type ActivityLog struct {
	mu          sync.RWMutex
	entries     []ActivityEntry
	next        int
	full        bool
	source      string
	now         func() time.Time
	subscribers map[int]subscriberEntry
	nextSubID   int
}

type subscriberEntry struct {
	subscriber ActivitySubscriber
	filter     ActivityFilter
}

// NewActivityLog creates an activity log keeping the last capacity entries.
func NewActivityLog(cfg ActivityConfig) *ActivityLog {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultActivityCapacity
	}
	return &ActivityLog{
		entries:     make([]ActivityEntry, capacity),
		source:      "engine",
		now:         time.Now,
		subscribers: make(map[int]subscriberEntry),
	}
}

// PushLog appends an info line from the engine.
func (a *ActivityLog) PushLog(message string) {
	a.Push(ActivityEntry{Level: ActivityLevelInfo, Source: a.source, Message: message})
}

// Push appends an entry, filling in ID and timestamp when missing, and
// delivers it to matching subscribers synchronously.
func (a *ActivityLog) Push(entry ActivityEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.now().UTC()
	}
	if entry.Level == "" {
		entry.Level = ActivityLevelInfo
	}

	a.mu.Lock()
	a.entries[a.next] = entry
	a.next = (a.next + 1) % len(a.entries)
	if a.next == 0 {
		a.full = true
	}
	subs := make([]subscriberEntry, 0, len(a.subscribers))
	for _, s := range a.subscribers {
		subs = append(subs, s)
	}
	a.mu.Unlock()

	// Delivered outside the lock so subscribers may read the log.
	for _, s := range subs {
		if s.filter == nil || s.filter(entry) {
			s.subscriber(entry)
		}
	}
}

// Recent returns up to n entries, oldest first. n <= 0 returns everything.
func (a *ActivityLog) Recent(n int) []ActivityEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	size := a.next
	start := 0
	if a.full {
		size = len(a.entries)
		start = a.next
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]ActivityEntry, 0, n)
	for i := size - n; i < size; i++ {
		out = append(out, a.entries[(start+i)%len(a.entries)])
	}
	return out
}

// Len returns the number of entries held.
func (a *ActivityLog) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.full {
		return len(a.entries)
	}
	return a.next
}

// Capacity returns the ring size.
func (a *ActivityLog) Capacity() int {
	return len(a.entries)
}

// Subscribe registers a subscriber and returns a function that removes it.
func (a *ActivityLog) Subscribe(subscriber ActivitySubscriber, filter ActivityFilter) func() {
	a.mu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = subscriberEntry{subscriber: subscriber, filter: filter}
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subscribers, id)
			a.mu.Unlock()
		})
	}
}

// FilterByLevel passes entries at or above minLevel.
func FilterByLevel(minLevel string) ActivityFilter {
	levels := map[string]int{
		ActivityLevelInfo:    0,
		ActivityLevelWarning: 1,
		ActivityLevelError:   2,
	}
	floor := levels[minLevel]
	return func(entry ActivityEntry) bool {
		return levels[entry.Level] >= floor
	}
}

// FilterBySource passes entries from the given sources.
func FilterBySource(sources ...string) ActivityFilter {
	allowed := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		allowed[s] = struct{}{}
	}
	return func(entry ActivityEntry) bool {
		_, ok := allowed[entry.Source]
		return ok
	}
}
