package chat

import (
	"sync"
	"time"
)

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// TypingState is an active "is typing" flag.
type TypingState struct {
	RoomID    string
	UserID    string
	ExpiresAt time.Time
}

type typingKey struct {
	room string
	user string
}

type typingEntry struct {
	state TypingState
	timer Timer
	gen   uint64
}

// TypingNotifier is told about every idle/typing transition. It is called
// with the tracker's lock held, so transitions of one pair are reported in
// the order they happened. It must not block or call back into the tracker.
type TypingNotifier func(roomID, userID string, typing bool)

// TypingTracker keeps at most one entry and one pending expiry per
// (room, user).
type TypingTracker struct {
	mu      sync.Mutex
	timeout time.Duration
	sched   Scheduler
	now     func() time.Time
	notify  TypingNotifier
	entries map[typingKey]*typingEntry
	gen     uint64
}

func NewTypingTracker(timeout time.Duration, sched Scheduler, now func() time.Time, notify TypingNotifier) *TypingTracker {
	if sched == nil {
		sched = clockScheduler{}
	}
	if now == nil {
		now = time.Now
	}
	return &TypingTracker{
		timeout: timeout,
		sched:   sched,
		now:     now,
		notify:  notify,
		entries: map[typingKey]*typingEntry{},
	}
}

// Start moves the pair to typing, or refreshes its expiry if it already is.
// Every call notifies once.
func (t *TypingTracker) Start(roomID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{room: roomID, user: userID}
	if old, ok := t.entries[key]; ok {
		old.timer.Stop()
	}
	t.gen++
	gen := t.gen
	e := &typingEntry{
		state: TypingState{RoomID: roomID, UserID: userID, ExpiresAt: t.now().Add(t.timeout)},
		gen:   gen,
	}
	e.timer = t.sched.AfterFunc(t.timeout, func() { t.expire(key, gen) })
	t.entries[key] = e
	t.notify(roomID, userID, true)
}

// Stop moves the pair back to idle. It reports false, and notifies nothing,
// when the pair was already idle.
func (t *TypingTracker) Stop(roomID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopLocked(typingKey{room: roomID, user: userID})
}

// StopRooms stops the user in each of rooms.
func (t *TypingTracker) StopRooms(userID string, rooms []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range rooms {
		t.stopLocked(typingKey{room: r, user: userID})
	}
}

func (t *TypingTracker) stopLocked(key typingKey) bool {
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, key)
	t.notify(key.room, key.user, false)
	return true
}

// expire fires from the timer. A refreshed or stopped entry has a different
// generation, so a stale timer does nothing.
func (t *TypingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok || e.gen != gen {
		return
	}
	delete(t.entries, key)
	t.notify(key.room, key.user, false)
}

// Typing lists the users typing in room.
func (t *TypingTracker) Typing(roomID string) []TypingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []TypingState
	for k, e := range t.entries {
		if k.room == roomID {
			out = append(out, e.state)
		}
	}
	return out
}

// IsTyping reports whether the pair is in the typing state.
func (t *TypingTracker) IsTyping(roomID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{room: roomID, user: userID}]
	return ok
}
