package store

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/gigbridge/chatkit/metrics"
	"github.com/gigbridge/chatkit/notify"
	"github.com/gigbridge/chatkit/wire"
)

const historyPageSize = 50

// LoadHistory pulls one page of a conversation's log and merges it with
// what is already held, keeping the whole log in server arrival order. A
// page may trail as well as precede the held messages: the first page
// re-pulled after a reconnect contains messages newer than anything that
// arrived live before the drop.
func (s *Store) LoadHistory(ctx context.Context, conversationID string, page, limit int) error {
	if limit <= 0 || limit > historyPageSize {
		limit = historyPageSize
	}

	msgs, err := s.rest.Messages(ctx, conversationID, page, limit)
	if err != nil {
		s.sink.Notify(notify.Notice{
			Kind:    notify.KindTransport,
			Message: "message history unavailable",
			Err:     err,
		})
		return err
	}

	s.Lock()
	defer s.Unlock()

	e := s.ensure(conversationID)
	var fresh []*wire.Message
	for _, m := range msgs {
		if _, ok := s.index[m.ID]; ok {
			continue
		}
		s.index[m.ID] = m
		fresh = append(fresh, m)
	}
	if len(fresh) > 0 {
		e.msgs = append(e.msgs, fresh...)
		sort.SliceStable(e.msgs, func(i, j int) bool {
			return e.msgs[i].CreatedAt.Before(e.msgs[j].CreatedAt)
		})
	}

	glog.V(5).Infof("store: history %s page %d: %d messages, %d new",
		conversationID, page, len(msgs), len(fresh))
	return nil
}

// Messages returns a snapshot of the conversation's log in server arrival
// order.
func (s *Store) Messages(conversationID string) []*wire.Message {
	s.RLock()
	defer s.RUnlock()
	e := s.convs[conversationID]
	if e == nil {
		return nil
	}
	out := make([]*wire.Message, len(e.msgs))
	copy(out, e.msgs)
	return out
}

// Message returns the message with the given id, or nil.
func (s *Store) Message(id string) *wire.Message {
	s.RLock()
	defer s.RUnlock()
	return s.index[id]
}

// Send transmits a send request and returns the client ref attached to it.
// The message is not inserted locally: it becomes visible when its
// message:new event arrives back, which also makes duplicate delivery of
// the echo harmless.
func (s *Store) Send(conversationID, content string, typ wire.MessageType, md *wire.Metadata, replyTo string) (string, error) {
	ref := strings.ReplaceAll(uuid.New(), "-", "")
	req := &wire.SendReq{
		ConversationID: conversationID,
		Content:        content,
		Type:           typ,
		Metadata:       md,
		ReplyTo:        replyTo,
		ClientRef:      ref,
	}

	if err := s.sender.Send(wire.EventMessageSend, req); err != nil {
		metrics.SendFailures.Inc()
		s.sink.Notify(notify.Notice{
			Kind:    notify.KindSend,
			Message: "message not sent",
			Err:     err,
		})
		return "", err
	}

	metrics.MessagesSent.Inc()
	return ref, nil
}

// applyNew inserts an arrived message: updates the owning conversation's
// last message and unread count atomically with the insertion, and issues
// mark-read right away when the conversation is on screen.
func (s *Store) applyNew(m *wire.Message) {
	var markRead bool

	s.Lock()
	if _, ok := s.index[m.ID]; ok {
		// At-least-once delivery: drop the duplicate.
		glog.V(5).Infof("store: duplicate message %s", m.ID)
		s.Unlock()
		return
	}
	if m.State == "" {
		m.State = wire.StateSent
	}

	e := s.ensure(m.ConversationID)
	s.index[m.ID] = m
	e.msgs = append(e.msgs, m)
	e.conv.LastMessage = m
	if m.CreatedAt.After(e.conv.UpdatedAt) {
		e.conv.UpdatedAt = m.CreatedAt
	}

	if m.SenderID != s.sess.UserID() {
		if s.active == m.ConversationID {
			m.State = wire.StateRead
			markRead = true
		} else {
			e.conv.UnreadCount++
		}
	}
	s.Unlock()

	if markRead {
		s.markRead([]string{m.ID})
	}
}

// UpdateDeliveryState applies a delivery transition only when it moves
// strictly forward in sent -> delivered -> read. Regressions and
// duplicates are dropped, which keeps the state monotonic under
// at-least-once event delivery.
func (s *Store) UpdateDeliveryState(messageID string, state wire.DeliveryState, at time.Time) bool {
	s.Lock()
	defer s.Unlock()

	m := s.index[messageID]
	if m == nil {
		glog.V(5).Infof("store: receipt for unknown message %s", messageID)
		return false
	}
	if !m.State.Before(state) {
		return false
	}

	m.State = state
	switch state {
	case wire.StateDelivered:
		m.DeliveredAt = &at
	case wire.StateRead:
		m.ReadAt = &at
	}
	return true
}
