// Package voice captures bounded duration audio messages. The microphone
// is an exclusive resource: at most one capture handle exists per client
// and it is released on every exit path, including errors, cancel and
// teardown.
package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/gigbridge/chatkit/notify"
)

// MaxDuration is the hard auto-stop for one recording session.
const MaxDuration = 300 * time.Second

// Device acquires the microphone. Open fails when permission is denied or
// the hardware is unavailable.
type Device interface {
	Open(ctx context.Context) (Capture, error)
}

// Capture streams audio until closed. Read returns an error once the
// capture is closed; Close releases the device and must be safe to call
// from a goroutine other than the reader's.
type Capture interface {
	Read(p []byte) (int, error)
	Close() error
}

// VoicePipe delivers the finished recording. Satisfied by *attach.Pipeline.
type VoicePipe interface {
	SendVoice(ctx context.Context, conversationID string, data []byte, duration time.Duration) error
}

// DeviceError wraps a microphone acquisition failure, kept apart from mid
// recording failures so the caller can prompt for permission instead of
// retrying blindly.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("microphone unavailable: %v", e.Err) }
func (e *DeviceError) Unwrap() error { return e.Err }

// ErrBusy is returned by Start while a session is active: starting is a no
// op, the running session keeps the device.
var ErrBusy = errors.New("voice: recording session already active")

// ErrNoClip is returned by Send without a stopped recording to send.
var ErrNoClip = errors.New("voice: no finished recording")

type state int

const (
	idle state = iota
	recording
	stopped
)

// Clip is a finished recording held locally until sent or discarded.
type Clip struct {
	Data     []byte
	Duration time.Duration
}

// Recorder is the session state machine: Idle -> Recording -> Stopped ->
// Idle, with Cancel short-circuiting back to Idle from anywhere.
type Recorder struct {
	sync.Mutex

	dev  Device
	pipe VoicePipe
	sink notify.Sink
	max  time.Duration

	state    state
	opening  bool // a Start holds the acquisition slot while dev.Open runs
	cap      Capture
	buf      bytes.Buffer
	started  time.Time
	clip     *Clip
	autoStop *time.Timer
	doneC    chan struct{}
}

func NewRecorder(dev Device, pipe VoicePipe, sink notify.Sink, max time.Duration) *Recorder {
	if sink == nil {
		sink = notify.Log()
	}
	if max <= 0 || max > MaxDuration {
		max = MaxDuration
	}
	return &Recorder{dev: dev, pipe: pipe, sink: sink, max: max}
}

// Start acquires the device and begins buffering. While a session is
// active (acquiring, recording or holding an unsent clip) it is a no-op
// and returns ErrBusy, so at most one device handle ever exists.
func (r *Recorder) Start(ctx context.Context) error {
	r.Lock()
	if r.state != idle || r.opening {
		r.Unlock()
		return ErrBusy
	}
	r.opening = true
	r.Unlock()

	c, err := r.dev.Open(ctx)
	if err != nil {
		r.Lock()
		r.opening = false
		r.Unlock()
		derr := &DeviceError{Err: err}
		r.sink.Notify(notify.Notice{
			Kind:    notify.KindDevice,
			Message: "microphone access failed",
			Err:     err,
		})
		return derr
	}

	r.Lock()
	r.opening = false
	r.cap = c
	r.state = recording
	r.started = time.Now()
	r.buf.Reset()
	r.doneC = make(chan struct{})
	r.autoStop = time.AfterFunc(r.max, func() {
		glog.Infof("voice: auto-stop after %s", r.max)
		if err := r.Stop(); err != nil {
			glog.Errorf("voice: auto-stop: %v", err)
		}
	})
	go r.captureLoop(c, r.doneC)
	r.Unlock()

	glog.V(5).Infof("voice: recording started")
	return nil
}

func (r *Recorder) captureLoop(c Capture, doneC chan struct{}) {
	defer close(doneC)

	chunk := make([]byte, 4096)
	for {
		n, err := c.Read(chunk)
		if n > 0 {
			r.Lock()
			r.buf.Write(chunk[:n])
			r.Unlock()
		}
		if err == nil {
			continue
		}

		r.Lock()
		if r.state == recording && r.cap != nil {
			// Failure mid recording, not a stop: release and reset.
			r.release()
			r.state = idle
			r.buf.Reset()
			r.autoStop.Stop()
			r.Unlock()
			r.sink.Notify(notify.Notice{
				Kind:    notify.KindRecording,
				Message: "recording failed",
				Err:     err,
			})
			return
		}
		r.Unlock()
		return
	}
}

// release closes the device handle exactly once. Caller holds the lock.
func (r *Recorder) release() {
	if r.cap != nil {
		if err := r.cap.Close(); err != nil {
			glog.Errorf("voice: close device: %v", err)
		}
		r.cap = nil
	}
}

// Stop finalizes the buffer into a clip and releases the device.
func (r *Recorder) Stop() error {
	r.Lock()
	if r.state != recording {
		r.Unlock()
		return nil
	}
	r.autoStop.Stop()
	r.release()
	doneC := r.doneC
	r.Unlock()

	// Wait for the capture loop to drain its last read.
	<-doneC

	r.Lock()
	defer r.Unlock()
	if r.state != recording {
		// The capture loop hit an error concurrently and already reset.
		return nil
	}
	r.clip = &Clip{
		Data:     append([]byte(nil), r.buf.Bytes()...),
		Duration: time.Since(r.started),
	}
	r.buf.Reset()
	r.state = stopped
	glog.V(5).Infof("voice: stopped, %d bytes, %s", len(r.clip.Data), r.clip.Duration)
	return nil
}

// Send hands the clip to the attachment pipeline. On success the session
// returns to idle; on failure the clip is kept so the user can retry or
// cancel.
func (r *Recorder) Send(ctx context.Context, conversationID string) error {
	r.Lock()
	if r.state != stopped || r.clip == nil {
		r.Unlock()
		return ErrNoClip
	}
	clip := r.clip
	r.Unlock()

	if err := r.pipe.SendVoice(ctx, conversationID, clip.Data, clip.Duration); err != nil {
		return err
	}

	r.Lock()
	r.clip = nil
	r.state = idle
	r.Unlock()
	return nil
}

// Cancel discards the session: the buffer or clip is dropped and, when
// recording, the device is released immediately.
func (r *Recorder) Cancel() {
	r.Lock()
	switch r.state {
	case recording:
		r.autoStop.Stop()
		r.release()
		r.state = idle
		r.buf.Reset()
		doneC := r.doneC
		r.Unlock()
		<-doneC
		return
	case stopped:
		r.clip = nil
		r.state = idle
	}
	r.Unlock()
}

// Recording reports whether a capture is in progress.
func (r *Recorder) Recording() bool {
	r.Lock()
	defer r.Unlock()
	return r.state == recording
}

// Duration returns the measured length of the session so far, or of the
// finished clip.
func (r *Recorder) Duration() time.Duration {
	r.Lock()
	defer r.Unlock()
	switch r.state {
	case recording:
		return time.Since(r.started)
	case stopped:
		return r.clip.Duration
	}
	return 0
}

// Close tears the recorder down, releasing the device if held.
func (r *Recorder) Close() {
	r.Cancel()
}
