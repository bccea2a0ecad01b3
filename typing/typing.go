// Package typing coordinates typing indicators: debounced start/stop
// emission for the local user and a self expiring set of remote typists
// per conversation.
package typing

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/gigbridge/chatkit/auth"
	"github.com/gigbridge/chatkit/conn"
	"github.com/gigbridge/chatkit/metrics"
	"github.com/gigbridge/chatkit/wire"
)

const (
	// DefaultDebounce is the local inactivity window before stop-typing.
	DefaultDebounce = 3 * time.Second

	// DefaultTTL is how long a remote indicator lives without a refresh.
	DefaultTTL = 5 * time.Second

	// DefaultSweep is the expiry scan interval.
	DefaultSweep = time.Second
)

type typist struct {
	name string
	seen time.Time
}

// Coordinator tracks who is typing where. Typing events are advisory:
// they carry no ordering guarantee relative to messages and are never
// treated as an error when lost.
type Coordinator struct {
	sync.Mutex

	sess   auth.Session
	sender conn.Sender

	debounce time.Duration
	ttl      time.Duration

	// local stop timers, keyed by conversation id. An entry means "start
	// typing" has been transmitted and not yet followed by a stop.
	local map[string]*time.Timer

	// remote typists: conversation id -> user id -> last refresh.
	remote map[string]map[string]typist

	sweeper *time.Ticker
	stopC   chan struct{}
	stopped sync.Once
}

func New(sess auth.Session, sender conn.Sender, debounce, ttl, sweep time.Duration) *Coordinator {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweep <= 0 || sweep > time.Second {
		sweep = DefaultSweep
	}

	c := &Coordinator{
		sess:     sess,
		sender:   sender,
		debounce: debounce,
		ttl:      ttl,
		local:    make(map[string]*time.Timer),
		remote:   make(map[string]map[string]typist),
		sweeper:  time.NewTicker(sweep),
		stopC:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// InputChanged is called on every local content change. The first call for
// a conversation transmits start-typing once; every call re-arms the
// inactivity timer that will transmit stop-typing.
func (c *Coordinator) InputChanged(conversationID string) {
	c.Lock()
	defer c.Unlock()

	if t, ok := c.local[conversationID]; ok {
		t.Reset(c.debounce)
		return
	}

	c.local[conversationID] = time.AfterFunc(c.debounce, func() {
		c.StopTyping(conversationID)
	})

	err := c.sender.Send(wire.EventTyping, &wire.TypingReq{
		ConversationID: conversationID,
		Timestamp:      time.Now().UnixMilli(),
	})
	if err != nil {
		// Advisory only; drop it.
		glog.V(5).Infof("typing: start not sent: %v", err)
		return
	}
	metrics.TypingEvents.Inc()
}

// StopTyping clears the local flag and transmits stop-typing. Called on
// timer expiry, on blur and on send; extra calls are no-ops.
func (c *Coordinator) StopTyping(conversationID string) {
	c.Lock()
	t, ok := c.local[conversationID]
	if ok {
		t.Stop()
		delete(c.local, conversationID)
	}
	c.Unlock()
	if !ok {
		return
	}

	err := c.sender.Send(wire.EventStopTyping, &wire.StopTypingReq{
		ConversationID: conversationID,
	})
	if err != nil {
		glog.V(5).Infof("typing: stop not sent: %v", err)
		return
	}
	metrics.TypingEvents.Inc()
}

// OnServerEvent maintains the remote set from typing pushes.
func (c *Coordinator) OnServerEvent(ev *wire.ServerEvent) {
	if v := ev.Typing; v != nil {
		if v.UserID == c.sess.UserID() {
			return // own echo
		}
		c.Lock()
		m := c.remote[v.ConversationID]
		if m == nil {
			m = make(map[string]typist)
			c.remote[v.ConversationID] = m
		}
		m[v.UserID] = typist{name: v.UserName, seen: time.Now()}
		c.Unlock()
	} else if v := ev.StopTyping; v != nil {
		c.Lock()
		if m := c.remote[v.ConversationID]; m != nil {
			delete(m, v.UserID)
		}
		c.Unlock()
	}
}

// Typists returns the user ids currently typing in a conversation.
func (c *Coordinator) Typists(conversationID string) []string {
	c.Lock()
	defer c.Unlock()

	var out []string
	for uid := range c.remote[conversationID] {
		out = append(out, uid)
	}
	return out
}

func (c *Coordinator) sweepLoop() {
	for {
		select {
		case <-c.stopC:
			return
		case now := <-c.sweeper.C:
			c.sweep(now)
		}
	}
}

func (c *Coordinator) sweep(now time.Time) {
	c.Lock()
	defer c.Unlock()
	for cid, m := range c.remote {
		for uid, t := range m {
			if now.Sub(t.seen) > c.ttl {
				delete(m, uid)
			}
		}
		if len(m) == 0 {
			delete(c.remote, cid)
		}
	}
}

// Close stops the sweeper and silences any armed local timers.
func (c *Coordinator) Close() {
	c.stopped.Do(func() {
		c.sweeper.Stop()
		close(c.stopC)
	})

	c.Lock()
	defer c.Unlock()
	for cid, t := range c.local {
		t.Stop()
		delete(c.local, cid)
	}
}
