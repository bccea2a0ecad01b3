// Package store is the single keyed owner of conversation state: the
// conversation list, the active conversation and the per conversation
// message logs. Every wire event mutates it through exactly one entry
// point, so the "message arrived" and "conversation selected" paths never
// interleave a partial update.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/gigbridge/chatkit/auth"
	"github.com/gigbridge/chatkit/conn"
	"github.com/gigbridge/chatkit/notify"
	"github.com/gigbridge/chatkit/wire"
)

// History pulls prior state over REST: the persistent connection does not
// replay missed events, so this is also the resync path after a reconnect.
type History interface {
	// Conversations gets the conversation list with server supplied
	// unread counts.
	Conversations(ctx context.Context) ([]*wire.Conversation, error)

	// Messages gets one page of a conversation's log in server assigned
	// arrival order, ascending. Page 1 is the most recent page.
	Messages(ctx context.Context, conversationID string, page, limit int) ([]*wire.Message, error)
}

type entry struct {
	conv *wire.Conversation
	msgs []*wire.Message // server arrival order, ascending
}

type Store struct {
	sync.RWMutex

	sess   auth.Session
	sender conn.Sender
	rest   History
	sink   notify.Sink

	convs  map[string]*entry
	index  map[string]*wire.Message // message id -> message, all conversations
	active string
}

func New(sess auth.Session, sender conn.Sender, rest History, sink notify.Sink) *Store {
	if sink == nil {
		sink = notify.Log()
	}
	return &Store{
		sess:   sess,
		sender: sender,
		rest:   rest,
		sink:   sink,
		convs:  make(map[string]*entry),
		index:  make(map[string]*wire.Message),
	}
}

// Load pulls the conversation list. On failure the list stays as it was
// (empty on first load) and the error is surfaced; retrying is the
// caller's call.
func (s *Store) Load(ctx context.Context) error {
	list, err := s.rest.Conversations(ctx)
	if err != nil {
		s.sink.Notify(notify.Notice{
			Kind:    notify.KindTransport,
			Message: "conversation list unavailable",
			Err:     err,
		})
		return err
	}

	s.Lock()
	defer s.Unlock()
	for _, c := range list {
		e := s.convs[c.ID]
		if e == nil {
			s.convs[c.ID] = &entry{conv: c}
			continue
		}
		// Keep the local message log, take the server's view of the rest.
		e.conv = c
		if c.ID == s.active {
			c.UnreadCount = 0
		}
	}
	glog.V(5).Infof("store: loaded %d conversations", len(list))
	return nil
}

// Resync re-pulls the conversation list and the active conversation's most
// recent page. Wired to the connection's OnConnect hook.
func (s *Store) Resync(ctx context.Context) {
	if err := s.Load(ctx); err != nil {
		return
	}
	s.RLock()
	active := s.active
	s.RUnlock()
	if active != "" {
		if err := s.LoadHistory(ctx, active, 1, historyPageSize); err != nil {
			glog.Errorf("store: resync history: %v", err)
		}
	}
}

// Conversations returns a snapshot of the list, most recently updated
// first.
func (s *Store) Conversations() []*wire.Conversation {
	s.RLock()
	out := make([]*wire.Conversation, 0, len(s.convs))
	for _, e := range s.convs {
		out = append(out, e.conv)
	}
	s.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Conversation returns the conversation with the given id, or nil.
func (s *Store) Conversation(id string) *wire.Conversation {
	s.RLock()
	defer s.RUnlock()
	if e := s.convs[id]; e != nil {
		return e.conv
	}
	return nil
}

// Active returns the selected conversation id, or "".
func (s *Store) Active() string {
	s.RLock()
	defer s.RUnlock()
	return s.active
}

// Select marks the conversation active, drives its unread count to zero
// and issues a mark-read for every message not yet read by the current
// user. One logical operation, transmitted as N wire events.
func (s *Store) Select(conversationID string) {
	var unread []string

	s.Lock()
	s.active = conversationID
	if e := s.convs[conversationID]; e != nil {
		e.conv.UnreadCount = 0
		for _, m := range e.msgs {
			if m.SenderID == s.sess.UserID() || m.State == wire.StateRead {
				continue
			}
			m.State = wire.StateRead
			unread = append(unread, m.ID)
		}
	}
	s.Unlock()

	s.markRead(unread)
}

func (s *Store) markRead(ids []string) {
	var failed int
	for _, id := range ids {
		if err := s.sender.Send(wire.EventMarkRead, &wire.MarkReadReq{MessageID: id}); err != nil {
			glog.Errorf("store: mark-read %s: %v", id, err)
			failed++
		}
	}
	if failed > 0 {
		s.sink.Notify(notify.Notice{
			Kind:    notify.KindSend,
			Message: "some messages could not be marked read",
		})
	}
}

// Star toggles the starred flag locally.
func (s *Store) Star(conversationID string, starred bool) {
	s.Lock()
	defer s.Unlock()
	if e := s.convs[conversationID]; e != nil {
		e.conv.IsStarred = starred
	}
}

// Archive toggles the archived flag locally.
func (s *Store) Archive(conversationID string, archived bool) {
	s.Lock()
	defer s.Unlock()
	if e := s.convs[conversationID]; e != nil {
		e.conv.IsArchived = archived
	}
}

// OnServerEvent is the store's subscription to the connection. It handles
// the message events and ignores the rest.
func (s *Store) OnServerEvent(ev *wire.ServerEvent) {
	if v := ev.NewMessage; v != nil {
		s.applyNew(v)
	} else if v := ev.Delivered; v != nil {
		s.UpdateDeliveryState(v.MessageID, wire.StateDelivered, v.DeliveredAt)
	} else if v := ev.Read; v != nil {
		s.UpdateDeliveryState(v.MessageID, wire.StateRead, v.ReadAt)
	}
}

// ensure returns the entry for a conversation, creating a stub when a
// message arrives before the list was (re)loaded.
func (s *Store) ensure(conversationID string) *entry {
	e := s.convs[conversationID]
	if e == nil {
		e = &entry{conv: &wire.Conversation{ID: conversationID}}
		s.convs[conversationID] = e
	}
	return e
}
