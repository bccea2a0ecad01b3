package conn

import (
	"encoding/json"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/gigbridge/chatkit/metrics"
	"github.com/gigbridge/chatkit/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 64 << 10
)

func (m *Manager) recvLoop(c *websocket.Conn) {
	defer glog.V(5).Infof("conn: recvLoop() exited")

	c.SetReadLimit(readLimit)
	c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			glog.V(5).Infof("conn: read error: %v", err)
			return
		}

		glog.V(5).Infof("conn: incoming frame: %s", raw)

		var f wire.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			glog.Errorf("conn: bad frame: %v", err)
			continue
		}

		ev, err := wire.DecodeServerFrame(&f)
		if err != nil {
			// Unknown events are skipped, not fatal: the server may be newer.
			glog.V(5).Infof("conn: %v", err)
			continue
		}

		if ev.NewMessage != nil {
			metrics.MessagesReceived.Inc()
		}

		// Subscribers run to completion on this goroutine before the next
		// frame is read, so no event handler observes a partial update.
		for _, fn := range m.subs {
			fn(ev)
		}
	}
}

func (m *Manager) sendLoop(c *websocket.Conn, stopC <-chan struct{}) {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("conn: sendLoop() exited")
	}()

	for {
		select {
		case <-stopC:
			return
		case f := <-m.sendChan:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteJSON(f); err != nil {
				glog.Errorf("conn: write error, event: %s, err: %v", f.Event, err)
				c.Close() // unblocks recvLoop, which drives the reconnect
				return
			}
		case <-pingTicker.C:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("conn: ping error: %v", err)
				c.Close()
				return
			}
		}
	}
}
