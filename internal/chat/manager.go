package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pelusa-v/pelusa-chat/internal/identity"
	"golang.org/x/sync/singleflight"
)

// Options tunes the coordinator. Zero fields take the defaults.
type Options struct {
	PublicRooms     []string
	DefaultRooms    []string
	HistoryLimit    int
	TypingTimeout   time.Duration
	MaxMessageRunes int
	SendBuffer      int
	EventsPerSecond float64
	EventBurst      int
	PingInterval    time.Duration
	PongWait        time.Duration

	// Scheduler and Now are replaced in tests.
	Scheduler Scheduler
	Now       func() time.Time
}

// DefaultOptions mirrors the public rooms and limits of the web client.
func DefaultOptions() Options {
	return Options{
		PublicRooms:     []string{"general", "random", "tech"},
		DefaultRooms:    []string{"general"},
		HistoryLimit:    100,
		TypingTimeout:   3 * time.Second,
		MaxMessageRunes: 2000,
		SendBuffer:      256,
		EventsPerSecond: 20,
		EventBurst:      40,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PublicRooms == nil {
		o.PublicRooms = d.PublicRooms
	}
	if o.DefaultRooms == nil {
		o.DefaultRooms = d.DefaultRooms
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = d.HistoryLimit
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = d.TypingTimeout
	}
	if o.MaxMessageRunes <= 0 {
		o.MaxMessageRunes = d.MaxMessageRunes
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.EventsPerSecond <= 0 {
		o.EventsPerSecond = d.EventsPerSecond
	}
	if o.EventBurst <= 0 {
		o.EventBurst = d.EventBurst
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Scheduler == nil {
		o.Scheduler = clockScheduler{}
	}
	return o
}

// Manager owns the process-wide presence, membership and typing state and
// is the only way to mutate it.
type Manager struct {
	opts   Options
	store  Store
	logger *slog.Logger

	Sessions *Registry
	Subs     *Subscriptions
	Typing   *TypingTracker

	public       map[string]bool
	roomLocks    *keyLock
	presenceMu   sync.Mutex
	privateRooms singleflight.Group
	handlers     map[string]handlerFunc
}

func NewManager(store Store, opts Options, logger *slog.Logger) *Manager {
	opts = opts.withDefaults()
	m := &Manager{
		opts:      opts,
		store:     store,
		logger:    logger.With(slog.String("component", "chat")),
		Sessions:  NewRegistry(opts.Now),
		Subs:      NewSubscriptions(),
		public:    map[string]bool{},
		roomLocks: newKeyLock(),
	}
	for _, r := range opts.PublicRooms {
		id := normalizeRoom(r)
		if id == "" {
			continue
		}
		if isPrivateRoomKey(id) {
			m.logger.Warn("ignoring public room with a private room prefix", slog.String("roomID", id))
			continue
		}
		m.public[id] = true
	}
	m.Typing = NewTypingTracker(opts.TypingTimeout, opts.Scheduler, opts.Now, m.onTyping)
	m.handlers = m.routes()
	return m
}

// Connect registers an authenticated connection, announces the new presence
// list to everyone and joins the default rooms.
func (m *Manager) Connect(ctx context.Context, id identity.Identity, conn ConnLike) *Client {
	c := newClient(m, id, conn)

	if err := m.store.SaveUser(ctx, id.UserID, id.DisplayName); err != nil {
		c.logger.Warn("failed to record display name", slog.Any("error", err))
	}

	m.presenceMu.Lock()
	snapshot := m.Sessions.Add(c)
	m.broadcastAll(Event{Type: EventUsersOnline, Data: snapshot})
	m.presenceMu.Unlock()

	for _, r := range m.opts.DefaultRooms {
		if err := m.Join(ctx, c, r); err != nil {
			c.logger.Warn("failed to join default room", slog.String("roomID", r), slog.Any("error", err))
		}
	}
	c.logger.Info("connection registered")
	return c
}

// Disconnect runs cleanup for a closed or lost connection. It is idempotent.
func (m *Manager) Disconnect(c *Client) {
	rooms := m.Subs.LeaveAll(c.ID)
	m.Typing.StopRooms(c.UserID, rooms)

	m.presenceMu.Lock()
	p, last := m.Sessions.Remove(c.ID)
	if last {
		m.broadcastAll(Event{Type: EventUserOffline, Data: offlinePayload{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			LastSeen:    p.LastSeen,
		}})
	}
	m.presenceMu.Unlock()

	c.Close()
	if last {
		c.logger.Info("user went offline")
	}
}

// Shutdown closes every live connection. Their read pumps run the normal
// disconnect cleanup.
func (m *Manager) Shutdown() {
	for _, c := range m.Sessions.Clients() {
		c.Close()
	}
}

// OnlineUsers returns the presence snapshot, optionally without one user.
func (m *Manager) OnlineUsers(exclude string) []Presence {
	all := m.Sessions.Snapshot()
	if exclude == "" {
		return all
	}
	out := make([]Presence, 0, len(all))
	for _, p := range all {
		if p.UserID == exclude {
			continue
		}
		out = append(out, p)
	}
	return out
}

// PublicRooms lists the pre-declared rooms with their subscriber counts.
func (m *Manager) PublicRooms() []RoomInfo {
	out := make([]RoomInfo, 0, len(m.public))
	for r := range m.public {
		out = append(out, RoomInfo{ID: r, Kind: string(RoomPublic), Subscribers: m.Subs.Count(r)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) displayName(userID string) string {
	if name, ok := m.Sessions.DisplayName(userID); ok {
		return name
	}
	return userID
}

func (m *Manager) onTyping(roomID, userID string, typing bool) {
	ev := Event{Type: EventUserStopTyping}
	if typing {
		ev.Type = EventUserTyping
	}
	ev.Data = typingPayload{UserID: userID, Username: m.displayName(userID), RoomID: roomID}
	m.broadcastRoom(roomID, ev, userID)
}

// sendTo delivers to a single connection.
func (m *Manager) sendTo(c *Client, ev Event) {
	data, err := ev.encode()
	if err != nil {
		m.logger.Error("failed to encode event", slog.String("type", ev.Type), slog.Any("error", err))
		return
	}
	c.enqueue(data)
}

// broadcastRoom delivers to every subscriber of room except the connections
// of excludeUserID, and returns how many got it.
func (m *Manager) broadcastRoom(roomID string, ev Event, excludeUserID string) int {
	data, err := ev.encode()
	if err != nil {
		m.logger.Error("failed to encode event", slog.String("type", ev.Type), slog.Any("error", err))
		return 0
	}
	n := 0
	for _, c := range m.Subs.Subscribers(roomID) {
		if excludeUserID != "" && c.UserID == excludeUserID {
			continue
		}
		if c.enqueue(data) {
			n++
		}
	}
	return n
}

func (m *Manager) broadcastAll(ev Event) {
	data, err := ev.encode()
	if err != nil {
		m.logger.Error("failed to encode event", slog.String("type", ev.Type), slog.Any("error", err))
		return
	}
	for _, c := range m.Sessions.Clients() {
		c.enqueue(data)
	}
}

// replyError reports a failed inbound event to its connection only.
func (m *Manager) replyError(c *Client, event string, err error) {
	code := ErrorCode(err)
	if code == "internal" || code == "persistence_failure" {
		c.logger.Error("event failed", slog.String("event", event), slog.Any("error", err))
	} else {
		c.logger.Debug("event rejected", slog.String("event", event), slog.Any("error", err))
	}
	m.sendTo(c, Event{Type: EventError, Data: errorPayload{Event: event, Code: code, Message: err.Error()}})
}
