// Package conn owns the persistent bidirectional connection: one
// authenticated websocket per client session, reconnect with backoff, and
// typed fan out of server events to the rest of the subsystem.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/gigbridge/chatkit/auth"
	"github.com/gigbridge/chatkit/metrics"
	"github.com/gigbridge/chatkit/notify"
	"github.com/gigbridge/chatkit/wire"
)

// ErrNotConnected is returned by Send while the connection is down. The
// caller stays in a degraded send-disabled mode; it does not retry here.
var ErrNotConnected = errors.New("conn: not connected")

// ErrCongested is returned when the outbound queue is full.
var ErrCongested = errors.New("conn: outbound queue full")

// Sender transmits one named event. Satisfied by *Manager; the stores and
// coordinators depend on this instead of the concrete manager.
type Sender interface {
	Send(event string, payload interface{}) error
}

type Config struct {
	URL              string
	HandshakeTimeout time.Duration
}

// Manager dials, keeps and re-dials the connection. Server frames are
// decoded once and dispatched synchronously to every subscriber, so one
// event is fully applied before the next is read.
type Manager struct {
	sync.Mutex

	cfg  Config
	sess auth.Session
	sink notify.Sink

	subs      []func(*wire.ServerEvent)
	connected []func()

	sendChan chan *wire.Frame
	online   bool
}

func NewManager(cfg Config, sess auth.Session, sink notify.Sink) *Manager {
	if sink == nil {
		sink = notify.Log()
	}
	return &Manager{
		cfg:      cfg,
		sess:     sess,
		sink:     sink,
		sendChan: make(chan *wire.Frame, 16),
	}
}

// Subscribe registers a server event handler. Must be called before Run.
func (m *Manager) Subscribe(fn func(*wire.ServerEvent)) {
	m.subs = append(m.subs, fn)
}

// OnConnect registers a hook fired after every successful (re)connect.
// There is no event replay on reconnect, so consumers use this to re-pull
// their state over REST. Must be called before Run.
func (m *Manager) OnConnect(fn func()) {
	m.connected = append(m.connected, fn)
}

// Online reports whether the connection is currently established.
func (m *Manager) Online() bool {
	m.Lock()
	defer m.Unlock()
	return m.online
}

// Send marshals payload and queues it for transmission.
func (m *Manager) Send(event string, payload interface{}) error {
	f, err := wire.NewFrame(event, payload)
	if err != nil {
		return err
	}

	m.Lock()
	online := m.online
	m.Unlock()
	if !online {
		return ErrNotConnected
	}

	select {
	case m.sendChan <- f:
		return nil
	default:
		return ErrCongested
	}
}

// Run drives the connection until ctx is done. Each drop is surfaced as a
// transport notice and followed by a fresh dial; a rejected handshake ends
// the loop since retrying a bad credential cannot help.
func (m *Manager) Run(ctx context.Context) {
	for {
		c, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.sink.Notify(notify.Notice{
					Kind:    notify.KindTransport,
					Message: "could not connect",
					Err:     err,
				})
			}
			return
		}

		m.Lock()
		m.online = true
		m.Unlock()
		glog.Infof("conn: connected to %s", m.cfg.URL)
		for _, fn := range m.connected {
			fn()
		}

		stopC := make(chan struct{})
		go m.sendLoop(c, stopC)
		go func() {
			select {
			case <-ctx.Done():
				closeConn(c)
			case <-stopC:
			}
		}()

		m.recvLoop(c)
		close(stopC)
		closeConn(c)

		m.Lock()
		m.online = false
		m.Unlock()

		if ctx.Err() != nil {
			glog.Infof("conn: closed")
			return
		}

		metrics.Reconnects.Inc()
		m.sink.Notify(notify.Notice{
			Kind:    notify.KindTransport,
			Message: "connection lost, reconnecting",
		})
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+m.sess.Token())

	var conn *websocket.Conn
	op := func() error {
		c, resp, err := dialer.DialContext(ctx, m.cfg.URL, header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return backoff.Permanent(fmt.Errorf("handshake rejected: %v", err))
			}
			glog.V(5).Infof("conn: dial %s: %v", m.cfg.URL, err)
			return err
		}
		conn = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // keep trying until ctx is done
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

func closeConn(c *websocket.Conn) {
	c.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.WriteMessage(websocket.CloseMessage, []byte{})
	c.Close()
}
