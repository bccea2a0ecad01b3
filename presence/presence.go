// Package presence tracks online/offline state and last-seen times from
// presence pushes.
package presence

import (
	"fmt"
	"sync"
	"time"

	"github.com/gigbridge/chatkit/wire"
)

type record struct {
	online   bool
	lastSeen time.Time
}

type Tracker struct {
	sync.RWMutex
	users map[string]record
}

func New() *Tracker {
	return &Tracker{users: make(map[string]record)}
}

// OnServerEvent applies user:online / user:offline pushes.
func (t *Tracker) OnServerEvent(ev *wire.ServerEvent) {
	if v := ev.Online; v != nil {
		t.Lock()
		t.users[v.UserID] = record{online: true}
		t.Unlock()
	} else if v := ev.Offline; v != nil {
		r := record{}
		if v.LastSeen != nil {
			r.lastSeen = *v.LastSeen
		}
		t.Lock()
		t.users[v.UserID] = r
		t.Unlock()
	}
}

// IsOnline reports the tracked state; users never seen are offline.
func (t *Tracker) IsOnline(userID string) bool {
	t.RLock()
	defer t.RUnlock()
	return t.users[userID].online
}

// LastSeen returns the recorded last-seen time; zero when unknown.
func (t *Tracker) LastSeen(userID string) time.Time {
	t.RLock()
	defer t.RUnlock()
	return t.users[userID].lastSeen
}

// Apply folds the tracked state into a participant record.
func (t *Tracker) Apply(u *wire.User) {
	t.RLock()
	r, ok := t.users[u.ID]
	t.RUnlock()
	if !ok {
		return
	}
	u.IsOnline = r.online
	if !r.lastSeen.IsZero() {
		ls := r.lastSeen
		u.LastSeen = &ls
	}
}

// Describe projects presence into display text. Pure: not stored anywhere.
func Describe(online bool, lastSeen, now time.Time) string {
	if online {
		return "Online"
	}
	if lastSeen.IsZero() {
		return "Offline"
	}

	d := now.Sub(lastSeen)
	switch {
	case d < time.Minute:
		return "Last seen now"
	case d < time.Hour:
		return fmt.Sprintf("Last seen %dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("Last seen %dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("Last seen %dd ago", int(d.Hours()/24))
	}
	return "Last seen " + lastSeen.Format("Jan 2, 2006")
}

// String is the conventional one-user view.
func (t *Tracker) String(userID string) string {
	t.RLock()
	r := t.users[userID]
	t.RUnlock()
	return Describe(r.online, r.lastSeen, time.Now())
}
