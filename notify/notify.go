// Package notify carries component failures to the UI layer as non blocking
// notifications. Nothing in the messaging subsystem panics across a
// component boundary; it notifies and keeps going.
package notify

import (
	"fmt"

	"github.com/golang/glog"
)

type Kind int

const (
	// KindTransport: persistent connection dropped or timed out. Non fatal.
	KindTransport Kind = iota + 1
	// KindSend: a message or mark-read was rejected. The message does not
	// appear; no automatic retry.
	KindSend
	// KindUpload: one file of a batch failed. Siblings proceed.
	KindUpload
	// KindDevice: microphone acquisition denied or unavailable. Reported
	// apart from recording failures so the UI can prompt for permission.
	KindDevice
	// KindRecording: capture failed after the device was acquired.
	KindRecording
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindSend:
		return "send"
	case KindUpload:
		return "upload"
	case KindDevice:
		return "device"
	case KindRecording:
		return "recording"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Notice struct {
	Kind    Kind
	Message string
	Err     error
}

// Sink receives notices. Notify must not block: it is called from event
// dispatch and component goroutines.
type Sink interface {
	Notify(n Notice)
}

type logSink struct{}

func (logSink) Notify(n Notice) {
	glog.Errorf("notify: [%s] %s: %v", n.Kind, n.Message, n.Err)
}

// Log returns a Sink that writes notices to the process log. The default
// when no UI sink is wired.
func Log() Sink { return logSink{} }

// Func adapts a function to a Sink.
type Func func(n Notice)

func (f Func) Notify(n Notice) { f(n) }
