package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SendFansOut(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	a1, _ := env.connect(t, "u1", "Alice")
	a2, _ := env.connect(t, "u1", "Alice")
	b, _ := env.connect(t, "u2", "Bob")
	c, _ := env.connect(t, "u3", "Carol")
	require.NoError(t, env.m.Leave(c, "general"))
	for _, cl := range []*Client{a1, a2, b, c} {
		drain(t, cl)
	}

	msg, err := env.m.Send(ctx, a1, "general", "hello", "")
	require.NoError(t, err)
	assert.Equal(t, KindText, msg.Kind)
	assert.Equal(t, []string{"u1"}, msg.ReadBy)
	assert.Equal(t, testNow, msg.CreatedAt)

	evs := drain(t, b)
	require.Equal(t, []string{EventReceiveMessage, EventNewNotification}, types(evs))
	view := decode[MessageView](t, evs[0])
	assert.Equal(t, msg.ID, view.ID)
	assert.Equal(t, "general", view.RoomID)
	assert.Equal(t, "u1", view.SenderID)
	assert.Equal(t, "Alice", view.SenderName)
	assert.Equal(t, "hello", view.Content)
	assert.Equal(t, []string{"u1"}, view.ReadBy)

	note := decode[notificationPayload](t, evs[1])
	assert.Equal(t, notificationPayload{Type: "message", From: "Alice", RoomID: "general", Message: "hello"}, note)

	// 发送者所有连接都收到消息但不收到通知
	assert.Equal(t, []string{EventReceiveMessage}, types(drain(t, a1)))
	assert.Equal(t, []string{EventReceiveMessage}, types(drain(t, a2)))
	assert.Empty(t, drain(t, c), "not subscribed")

	stored, err := env.store.ListRecentMessages(ctx, "general", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, msg.ID, stored[0].ID)
}

func TestManager_SendValidation(t *testing.T) {
	env := newTestEnv(t, Options{MaxMessageRunes: 5})
	ctx := context.Background()
	a, _ := env.connect(t, "u1", "Alice")
	drain(t, a)

	tests := []struct {
		name    string
		room    string
		content string
		kind    MessageKind
		want    error
	}{
		{"empty", "general", "", "", ErrValidation},
		{"whitespace", "general", "  \n ", "", ErrValidation},
		{"too long", "general", "123456", "", ErrValidation},
		{"unknown kind", "general", "hi", "video", ErrValidation},
		{"not joined", "tech", "hi", "", ErrNotFound},
		{"bad room", "", "hi", "", ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.m.Send(ctx, a, tt.room, tt.content, tt.kind)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, drain(t, a))

	msg, err := env.m.Send(ctx, a, "general", "héllo", KindImage)
	require.NoError(t, err, "limit counts characters, not bytes")
	assert.Equal(t, KindImage, msg.Kind)
}

func TestManager_SendPersistenceFailure(t *testing.T) {
	env := newTestEnv(t, Options{})
	a, _ := env.connect(t, "u1", "Alice")
	b, _ := env.connect(t, "u2", "Bob")
	drain(t, a)
	drain(t, b)

	env.store.set(func(s *memStore) { s.failSave = errors.New("disk full") })
	_, err := env.m.Send(context.Background(), a, "general", "hello", "")
	require.ErrorIs(t, err, ErrPersistence)

	assert.Empty(t, drain(t, a))
	assert.Empty(t, drain(t, b), "nothing broadcast without a stored message")
}

func TestManager_NotificationPreview(t *testing.T) {
	env := newTestEnv(t, Options{})
	a, _ := env.connect(t, "u1", "Alice")
	b, _ := env.connect(t, "u2", "Bob")
	drain(t, b)

	long := strings.Repeat("x", 60)
	_, err := env.m.Send(context.Background(), a, "general", long, "")
	require.NoError(t, err)

	evs := drain(t, b)
	require.Len(t, evs, 2)
	assert.Equal(t, long, decode[MessageView](t, evs[0]).Content, "message itself is never cut")
	assert.Equal(t, strings.Repeat("x", 50)+"...", decode[notificationPayload](t, evs[1]).Message)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 50))
	assert.Equal(t, "héllo", truncate("héllo", 5))
	assert.Equal(t, "hél...", truncate("héllo", 3))
	assert.Equal(t, "", truncate("", 3))
}

func TestManager_HistoryReplay(t *testing.T) {
	env := newTestEnv(t, Options{HistoryLimit: 3})
	ctx := context.Background()
	a, _ := env.connect(t, "u1", "Alice")
	for i := 0; i < 5; i++ {
		_, err := env.m.Send(ctx, a, "general", fmt.Sprintf("m%d", i), "")
		require.NoError(t, err)
	}
	env.m.Disconnect(a)

	b, _ := env.connect(t, "u2", "Bob")
	hist := ofType(drain(t, b), EventRoomHistory)
	require.Len(t, hist, 1)
	p := decode[historyPayload](t, hist[0])
	require.Len(t, p.Messages, 3)
	assert.Equal(t, "m2", p.Messages[0].Content)
	assert.Equal(t, "m4", p.Messages[2].Content)
	assert.Equal(t, "Alice", p.Messages[0].SenderName, "offline sender named from the directory")
}

func TestManager_SendOrderMatchesStore(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	b, _ := env.connect(t, "u0", "Reader")
	senders := make([]*Client, 4)
	for i := range senders {
		senders[i], _ = env.connect(t, fmt.Sprintf("u%d", i+1), fmt.Sprintf("User %d", i+1))
	}
	drain(t, b)

	var wg sync.WaitGroup
	for i, s := range senders {
		wg.Add(1)
		go func(i int, s *Client) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := env.m.Send(ctx, s, "general", fmt.Sprintf("%d-%d", i, j), "")
				assert.NoError(t, err)
			}
		}(i, s)
	}
	wg.Wait()

	var delivered []string
	for _, ev := range ofType(drain(t, b), EventReceiveMessage) {
		delivered = append(delivered, decode[MessageView](t, ev).ID)
	}
	stored, err := env.store.ListRecentMessages(ctx, "general", 100)
	require.NoError(t, err)
	require.Len(t, delivered, len(stored))
	for i, m := range stored {
		assert.Equal(t, m.ID, delivered[i])
	}
}

func TestManager_MarkRead(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	a, _ := env.connect(t, "u1", "Alice")
	b, _ := env.connect(t, "u2", "Bob")
	msg, err := env.m.Send(ctx, a, "general", "hello", "")
	require.NoError(t, err)
	drain(t, a)
	drain(t, b)

	require.NoError(t, env.m.MarkRead(ctx, b, msg.ID))
	for _, cl := range []*Client{a, b} {
		evs := drain(t, cl)
		require.Equal(t, []string{EventMessageRead}, types(evs))
		assert.Equal(t, readPayload{MessageID: msg.ID, ReaderID: "u2", ReaderName: "Bob"}, decode[readPayload](t, evs[0]))
	}

	require.NoError(t, env.m.MarkRead(ctx, b, msg.ID))
	require.NoError(t, env.m.MarkRead(ctx, a, msg.ID), "sender already counts as a reader")
	assert.Empty(t, drain(t, a))
	assert.Empty(t, drain(t, b))

	stored, err := env.store.ListRecentMessages(ctx, "general", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, stored[0].ReadBy)

	assert.ErrorIs(t, env.m.MarkRead(ctx, b, "missing"), ErrNotFound)
	assert.ErrorIs(t, env.m.MarkRead(ctx, b, " "), ErrValidation)
}
