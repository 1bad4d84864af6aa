package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transition struct {
	room, user string
	typing     bool
}

type recorder struct {
	mu  sync.Mutex
	got []transition
}

func (r *recorder) notify(room, user string, typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, transition{room, user, typing})
}

func (r *recorder) events() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.got...)
}

func newTestTracker() (*TypingTracker, *fakeScheduler, *recorder) {
	sched := &fakeScheduler{}
	rec := &recorder{}
	return NewTypingTracker(3*time.Second, sched, func() time.Time { return testNow }, rec.notify), sched, rec
}

func TestTypingTracker_StartExpire(t *testing.T) {
	tr, sched, rec := newTestTracker()

	tr.Start("general", "u1")
	require.True(t, tr.IsTyping("general", "u1"))
	require.Equal(t, 1, sched.pending())

	states := tr.Typing("general")
	require.Len(t, states, 1)
	assert.Equal(t, testNow.Add(3*time.Second), states[0].ExpiresAt)

	sched.fireAll()
	assert.False(t, tr.IsTyping("general", "u1"))
	assert.Equal(t, []transition{
		{"general", "u1", true},
		{"general", "u1", false},
	}, rec.events())
}

func TestTypingTracker_RefreshKeepsOneTimer(t *testing.T) {
	tr, sched, rec := newTestTracker()

	tr.Start("general", "u1")
	tr.Start("general", "u1")
	tr.Start("general", "u1")
	assert.Equal(t, 1, sched.pending(), "older timers are stopped")

	// 过期的旧定时器即使触发也不能提前结束
	sched.mu.Lock()
	stale := sched.timers[0]
	sched.mu.Unlock()
	stale.f()
	assert.True(t, tr.IsTyping("general", "u1"))

	sched.fireAll()
	assert.False(t, tr.IsTyping("general", "u1"))

	got := rec.events()
	require.Len(t, got, 4)
	assert.Equal(t, transition{"general", "u1", false}, got[3], "exactly one stop")
}

func TestTypingTracker_Stop(t *testing.T) {
	tr, sched, rec := newTestTracker()

	assert.False(t, tr.Stop("general", "u1"), "stop while idle")
	assert.Empty(t, rec.events())

	tr.Start("general", "u1")
	assert.True(t, tr.Stop("general", "u1"))
	assert.False(t, tr.Stop("general", "u1"))
	assert.Equal(t, 0, sched.pending())

	sched.fireAll()
	assert.Equal(t, []transition{
		{"general", "u1", true},
		{"general", "u1", false},
	}, rec.events(), "a stopped timer firing late changes nothing")
}

func TestTypingTracker_StopRooms(t *testing.T) {
	tr, _, rec := newTestTracker()
	tr.Start("general", "u1")
	tr.Start("tech", "u1")
	tr.Start("tech", "u2")

	tr.StopRooms("u1", []string{"general", "tech", "random"})
	assert.False(t, tr.IsTyping("general", "u1"))
	assert.False(t, tr.IsTyping("tech", "u1"))
	assert.True(t, tr.IsTyping("tech", "u2"))
	assert.Len(t, rec.events(), 5)
}
