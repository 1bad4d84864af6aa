package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pelusa-v/pelusa-chat/internal/identity"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// memStore is an in-memory Store with switchable failures.
type memStore struct {
	mu       sync.Mutex
	messages []*Message
	rooms    map[string]*Room
	users    map[string]string
	creates  int

	failSave    error
	failHistory error
	failFind    error
}

func newMemStore() *memStore {
	return &memStore{rooms: map[string]*Room{}, users: map[string]string{}}
}

func cloneMessage(m *Message) *Message {
	cp := *m
	cp.ReadBy = slices.Clone(m.ReadBy)
	return &cp
}

func (s *memStore) SaveMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.messages = append(s.messages, cloneMessage(msg))
	return nil
}

func (s *memStore) ListRecentMessages(_ context.Context, roomID string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failHistory != nil {
		return nil, s.failHistory
	}
	var out []*Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, cloneMessage(m))
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) UpdateMessageReaders(_ context.Context, messageID, userID string) (*Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID != messageID {
			continue
		}
		if m.HasReader(userID) {
			return cloneMessage(m), false, nil
		}
		m.ReadBy = append(m.ReadBy, userID)
		return cloneMessage(m), true, nil
	}
	return nil, false, ErrNotFound
}

func (s *memStore) FindRoomByKey(_ context.Context, key string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFind != nil {
		return nil, s.failFind
	}
	r, ok := s.rooms[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) CreateRoomIfAbsent(_ context.Context, key string, participants []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[key]; ok {
		return false, nil
	}
	ps := slices.Clone(participants)
	sort.Strings(ps)
	s.rooms[key] = &Room{ID: key, Kind: RoomPrivate, Participants: ps, CreatedAt: testNow}
	s.creates++
	return true, nil
}

func (s *memStore) SaveUser(_ context.Context, userID, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = displayName
	return nil
}

func (s *memStore) DisplayNames(_ context.Context, userIDs []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for _, id := range userIDs {
		if name, ok := s.users[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (s *memStore) set(f func(s *memStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

// fakeConn feeds queued frames to ReadMessage and blocks once they run out
// until closed.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, slices.Clone(data))
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeScheduler collects timers; tests fire them by hand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// fireAll runs every timer, stopped ones included, like a timer whose Stop
// lost the race with its expiry.
func (s *fakeScheduler) fireAll() {
	s.mu.Lock()
	timers := slices.Clone(s.timers)
	s.timers = nil
	s.mu.Unlock()
	for _, t := range timers {
		t.mu.Lock()
		t.fired = true
		t.mu.Unlock()
		t.f()
	}
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		t.mu.Lock()
		if !t.stopped && !t.fired {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

type testEnv struct {
	m     *Manager
	store *memStore
	sched *fakeScheduler
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	st := newMemStore()
	sched := &fakeScheduler{}
	opts.Scheduler = sched
	opts.Now = func() time.Time { return testNow }
	m := NewManager(st, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(m.Shutdown)
	return &testEnv{m: m, store: st, sched: sched}
}

func (e *testEnv) connect(t *testing.T, userID, name string) (*Client, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	c := e.m.Connect(context.Background(), identity.Identity{UserID: userID, DisplayName: name}, conn)
	require.NotNil(t, c)
	return c, conn
}

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// drain empties the client's outbound queue.
func drain(t *testing.T, c *Client) []wireEvent {
	t.Helper()
	var out []wireEvent
	for {
		select {
		case data := <-c.Send:
			var ev wireEvent
			require.NoError(t, json.Unmarshal(data, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofType(evs []wireEvent, typ string) []wireEvent {
	var out []wireEvent
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func types(evs []wireEvent) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func decode[T any](t *testing.T, ev wireEvent) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(ev.Data, &v))
	return v
}
