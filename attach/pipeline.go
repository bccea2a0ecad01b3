// Package attach is the upload-then-reference-then-send pipeline for non
// text message content. Files go to the storage collaborator first; the
// resulting content URL is what travels in the message.
package attach

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/golang/glog"

	"github.com/gigbridge/chatkit/metrics"
	"github.com/gigbridge/chatkit/notify"
	"github.com/gigbridge/chatkit/wire"
)

// Uploader is the storage collaborator. Satisfied by *rest.Client.
type Uploader interface {
	UploadAttachment(ctx context.Context, conversationID, fileName string, data []byte) (string, error)
	UploadVoice(ctx context.Context, conversationID string, data []byte, duration time.Duration) (string, error)
}

// MessageSender issues the message send once content is uploaded.
// Satisfied by *store.Store.
type MessageSender interface {
	Send(conversationID, content string, typ wire.MessageType, md *wire.Metadata, replyTo string) (string, error)
}

// File is one selected file.
type File struct {
	Name string
	Data []byte
}

// UploadError is the per file failure of a batch.
type UploadError struct {
	Name string
	Err  error
}

func (e *UploadError) Error() string { return fmt.Sprintf("upload %s: %v", e.Name, e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }

type Pipeline struct {
	up   Uploader
	msgs MessageSender
	sink notify.Sink
}

func NewPipeline(up Uploader, msgs MessageSender, sink notify.Sink) *Pipeline {
	if sink == nil {
		sink = notify.Log()
	}
	return &Pipeline{up: up, msgs: msgs, sink: sink}
}

// UploadAndSend uploads each file and sends a message referencing it.
// Failures are isolated per file: a failed item is reported and skipped,
// the rest of the batch proceeds. The returned slice holds one error per
// failed item.
func (p *Pipeline) UploadAndSend(ctx context.Context, conversationID string, files []File) []*UploadError {
	var failed []*UploadError

	for _, f := range files {
		if err := p.sendOne(ctx, conversationID, f); err != nil {
			metrics.UploadFailures.Inc()
			p.sink.Notify(notify.Notice{
				Kind:    notify.KindUpload,
				Message: fmt.Sprintf("%s was not sent", f.Name),
				Err:     err,
			})
			failed = append(failed, &UploadError{Name: f.Name, Err: err})
		}
	}
	return failed
}

func (p *Pipeline) sendOne(ctx context.Context, conversationID string, f File) error {
	contentURL, err := p.up.UploadAttachment(ctx, conversationID, f.Name, f.Data)
	if err != nil {
		return err
	}

	mt := mimetype.Detect(f.Data)
	md := &wire.Metadata{
		FileName: f.Name,
		FileSize: int64(len(f.Data)),
		MimeType: mt.String(),
	}

	typ := wire.TypeFile
	if strings.HasPrefix(mt.String(), "image/") {
		typ = wire.TypeImage
		md.ImageURL = contentURL
	}

	glog.V(5).Infof("attach: uploaded %s (%s, %d bytes) -> %s", f.Name, mt.String(), len(f.Data), contentURL)

	_, err = p.msgs.Send(conversationID, contentURL, typ, md, "")
	return err
}

// SendVoice uploads a captured recording and sends the voice message with
// its measured duration.
func (p *Pipeline) SendVoice(ctx context.Context, conversationID string, data []byte, duration time.Duration) error {
	contentURL, err := p.up.UploadVoice(ctx, conversationID, data, duration)
	if err != nil {
		metrics.UploadFailures.Inc()
		p.sink.Notify(notify.Notice{
			Kind:    notify.KindUpload,
			Message: "voice message was not sent",
			Err:     err,
		})
		return err
	}

	md := &wire.Metadata{
		FileSize:      int64(len(data)),
		MimeType:      mimetype.Detect(data).String(),
		VoiceDuration: duration.Seconds(),
	}
	_, err = p.msgs.Send(conversationID, contentURL, wire.TypeVoice, md, "")
	return err
}
