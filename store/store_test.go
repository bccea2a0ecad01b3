package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigbridge/chatkit/auth"
	"github.com/gigbridge/chatkit/conn/mock"
	"github.com/gigbridge/chatkit/wire"
)

type fakeHistory struct {
	convs   []*wire.Conversation
	msgs    map[string][]*wire.Message
	convErr error
}

func (f *fakeHistory) Conversations(ctx context.Context) ([]*wire.Conversation, error) {
	return f.convs, f.convErr
}

func (f *fakeHistory) Messages(ctx context.Context, id string, page, limit int) ([]*wire.Message, error) {
	return f.msgs[id], nil
}

func newMsg(id, convID, sender string, at time.Time) *wire.Message {
	return &wire.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       sender,
		Content:        "hello",
		Type:           wire.TypeText,
		State:          wire.StateSent,
		CreatedAt:      at,
	}
}

func newStore(t *testing.T, rest History) (*Store, *mock.MockSender, *gomock.Controller) {
	ctrl := gomock.NewController(t)
	sender := mock.NewMockSender(ctrl)
	if rest == nil {
		rest = &fakeHistory{}
	}
	s := New(&auth.Static{UID: "me", Tok: "t"}, sender, rest, nil)
	return s, sender, ctrl
}

func TestApplyNewIncrementsUnread(t *testing.T) {
	s, _, ctrl := newStore(t, nil)
	defer ctrl.Finish()

	now := time.Now()
	s.OnServerEvent(&wire.ServerEvent{NewMessage: newMsg("m1", "c1", "peer", now)})
	s.OnServerEvent(&wire.ServerEvent{NewMessage: newMsg("m2", "c1", "peer", now.Add(time.Second))})

	c := s.Conversation("c1")
	require.NotNil(t, c)
	assert.Equal(t, 2, c.UnreadCount)
	assert.Equal(t, "m2", c.LastMessage.ID)
	assert.Len(t, s.Messages("c1"), 2)
}

func TestApplyNewOwnMessageNotUnread(t *testing.T) {
	s, _, ctrl := newStore(t, nil)
	defer ctrl.Finish()

	s.OnServerEvent(&wire.ServerEvent{NewMessage: newMsg("m1", "c1", "me", time.Now())})

	assert.Equal(t, 0, s.Conversation("c1").UnreadCount)
	assert.Len(t, s.Messages("c1"), 1)
}

func TestDuplicateMessageDropped(t *testing.T) {
	s, _, ctrl := newStore(t, nil)
	defer ctrl.Finish()

	m := newMsg("m1", "c1", "peer", time.Now())
	s.OnServerEvent(&wire.ServerEvent{NewMessage: m})
	s.OnServerEvent(&wire.ServerEvent{NewMessage: newMsg("m1", "c1", "peer", time.Now())})

	assert.Len(t, s.Messages("c1"), 1)
	assert.Equal(t, 1, s.Conversation("c1").UnreadCount)
}

func TestSelectMarksAllUnreadRead(t *testing.T) {
	s, sender, ctrl := newStore(t, nil)
	defer ctrl.Finish()

	now := time.Now()
	for i, id := range []string{"m1", "m2", "m3"} {
		s.OnServerEvent(&wire.ServerEvent{NewMessage: newMsg(id, "c1", "peer", now.Add(time.Duration(i)*time.Second))})
	}
	require.Equal(t, 3, s.Conversation("c1").UnreadCount)

	// Opening the conversation emits exactly one mark-read per unread
	// message, and the badge drops to zero.
	sender.EXPECT().Send(wire.EventMarkRead, gomock.Any()).Times(3)
	s.Select("c1")

	assert.Equal(t, 0, s.Conversation("c1").UnreadCount)
	for _, m := range s.Messages("c1") {
		assert.Equal(t, wire.StateRead, m.State)
	}

	// Selecting again finds nothing unread: no further wire events.
	s.Select("c1")
}

func TestAppendWhileSelectedMarksReadImmediately(t *testing.T) {
	s, sender, ctrl := newStore(t, nil)
	defer ctrl.Finish()

	s.Select("c1")

	sender.EXPECT().Send(wire.EventMarkRead, &wire.MarkReadReq{MessageID: "m1"}).Times(1)
	s.OnServerEvent(&wire.ServerEvent{NewMessage: newMsg("m1", "c1", "peer", time.Now())})

	assert.Equal(t, 0, s.Conversation("c1").UnreadCount)
	assert.Equal(t, wire.StateRead, s.Message("m1").State)
}

func TestDeliveryStateMonotonic(t *testing.T) {
	s, _, ctrl := newStore(t, nil)
	defer ctrl.Finish()

	s.OnServerEvent(&wire.ServerEvent{NewMessage: newMsg("m1", "c1", "me", time.Now())})

	at := time.Now()
	assert.True(t, s.UpdateDeliveryState("m1", wire.StateDelivered, at))
	assert.True(t, s.UpdateDeliveryState("m1", wire.StateRead, at))

	// Receipts arriving late or twice never regress the state.
	assert.False(t, s.UpdateDeliveryState("m1", wire.StateDelivered, at))
	assert.False(t, s.UpdateDeliveryState("m1", wire.StateRead, at))
	assert.Equal(t, wire.StateRead, s.Message("m1").State)
	require.NotNil(t, s.Message("m1").ReadAt)
}

func TestReceiptForUnknownMessage(t *testing.T) {
	s, _, ctrl := newStore(t, nil)
	defer ctrl.Finish()

	assert.False(t, s.UpdateDeliveryState("nope", wire.StateDelivered, time.Now()))
}

func TestSendNoLocalEcho(t *testing.T) {
	s, sender, ctrl := newStore(t, nil)
	defer ctrl.Finish()

	var sent *wire.SendReq
	sender.EXPECT().Send(wire.EventMessageSend, gomock.Any()).DoAndReturn(
		func(event string, payload interface{}) error {
			sent = payload.(*wire.SendReq)
			return nil
		})

	ref, err := s.Send("c1", "hi", wire.TypeText, nil, "")
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	require.NotNil(t, sent)
	assert.Equal(t, ref, sent.ClientRef)

	// The message shows up only once its message:new event round-trips.
	assert.Empty(t, s.Messages("c1"))
}

func TestSendFailureReported(t *testing.T) {
	s, sender, ctrl := newStore(t, nil)
	defer ctrl.Finish()

	sender.EXPECT().Send(wire.EventMessageSend, gomock.Any()).Return(errors.New("transport down"))

	_, err := s.Send("c1", "hi", wire.TypeText, nil, "")
	assert.Error(t, err)
	assert.Empty(t, s.Messages("c1"))
}

func TestLoadPopulatesServerUnread(t *testing.T) {
	rest := &fakeHistory{convs: []*wire.Conversation{
		{ID: "c1", UnreadCount: 4},
		{ID: "c2", UnreadCount: 0},
	}}
	s, _, ctrl := newStore(t, rest)
	defer ctrl.Finish()

	require.NoError(t, s.Load(context.Background()))
	assert.Len(t, s.Conversations(), 2)
	assert.Equal(t, 4, s.Conversation("c1").UnreadCount)
}

func TestLoadFailureLeavesEmptyList(t *testing.T) {
	rest := &fakeHistory{convErr: errors.New("gateway timeout")}
	s, _, ctrl := newStore(t, rest)
	defer ctrl.Finish()

	assert.Error(t, s.Load(context.Background()))
	assert.Empty(t, s.Conversations())
}

func TestLoadHistoryMergesOlderPages(t *testing.T) {
	now := time.Now()
	rest := &fakeHistory{msgs: map[string][]*wire.Message{
		"c1": {newMsg("m1", "c1", "peer", now.Add(-2 * time.Minute)), newMsg("m2", "c1", "peer", now.Add(-time.Minute))},
	}}
	s, _, ctrl := newStore(t, rest)
	defer ctrl.Finish()

	// A live message arrived before history was pulled.
	s.OnServerEvent(&wire.ServerEvent{NewMessage: newMsg("m3", "c1", "peer", now)})

	require.NoError(t, s.LoadHistory(context.Background(), "c1", 1, 50))

	msgs := s.Messages("c1")
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m3", msgs[2].ID)

	// Pulling the same page again does not duplicate.
	require.NoError(t, s.LoadHistory(context.Background(), "c1", 1, 50))
	assert.Len(t, s.Messages("c1"), 3)
}

func TestLoadHistoryKeepsArrivalOrderOnResync(t *testing.T) {
	now := time.Now()
	rest := &fakeHistory{msgs: map[string][]*wire.Message{
		"c1": {newMsg("m1", "c1", "peer", now.Add(-time.Minute)), newMsg("m2", "c1", "peer", now)},
	}}
	s, _, ctrl := newStore(t, rest)
	defer ctrl.Finish()

	// m1 arrived live; the page then pulled after a reconnect holds it
	// plus a newer m2. The newer message must land after m1, not before.
	s.OnServerEvent(&wire.ServerEvent{NewMessage: newMsg("m1", "c1", "peer", now.Add(-time.Minute))})

	require.NoError(t, s.LoadHistory(context.Background(), "c1", 1, 50))

	msgs := s.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestStarAndArchive(t *testing.T) {
	rest := &fakeHistory{convs: []*wire.Conversation{{ID: "c1"}}}
	s, _, ctrl := newStore(t, rest)
	defer ctrl.Finish()

	require.NoError(t, s.Load(context.Background()))
	s.Star("c1", true)
	s.Archive("c1", true)
	assert.True(t, s.Conversation("c1").IsStarred)
	assert.True(t, s.Conversation("c1").IsArchived)
}
