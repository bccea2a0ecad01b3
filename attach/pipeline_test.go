package attach

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigbridge/chatkit/wire"
)

// Minimal PNG header: enough for MIME sniffing.
var pngData = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}

type fakeUploader struct {
	failNames map[string]bool
	voiceErr  error
	uploads   []string
}

func (u *fakeUploader) UploadAttachment(ctx context.Context, convID, name string, data []byte) (string, error) {
	if u.failNames[name] {
		return "", errors.New("storage rejected")
	}
	u.uploads = append(u.uploads, name)
	return "https://cdn.gigbridge.test/" + name, nil
}

func (u *fakeUploader) UploadVoice(ctx context.Context, convID string, data []byte, d time.Duration) (string, error) {
	if u.voiceErr != nil {
		return "", u.voiceErr
	}
	return "https://cdn.gigbridge.test/voice.webm", nil
}

type sentMsg struct {
	convID  string
	content string
	typ     wire.MessageType
	md      *wire.Metadata
}

type fakeSender struct {
	sent []sentMsg
	err  error
}

func (s *fakeSender) Send(convID, content string, typ wire.MessageType, md *wire.Metadata, replyTo string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, sentMsg{convID: convID, content: content, typ: typ, md: md})
	return "ref", nil
}

func TestBatchFailureIsolation(t *testing.T) {
	up := &fakeUploader{failNames: map[string]bool{"a.pdf": true}}
	sender := &fakeSender{}
	p := NewPipeline(up, sender, nil)

	failed := p.UploadAndSend(context.Background(), "c1", []File{
		{Name: "a.pdf", Data: []byte("%PDF-1.4 broken")},
		{Name: "b.txt", Data: []byte("plain text contract notes")},
	})

	// A's failure does not block B.
	require.Len(t, failed, 1)
	assert.Equal(t, "a.pdf", failed[0].Name)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, wire.TypeFile, sender.sent[0].typ)
	assert.Equal(t, "b.txt", sender.sent[0].md.FileName)
}

func TestImageTypeFromSniffedMime(t *testing.T) {
	up := &fakeUploader{}
	sender := &fakeSender{}
	p := NewPipeline(up, sender, nil)

	failed := p.UploadAndSend(context.Background(), "c1", []File{{Name: "moodboard.png", Data: pngData}})
	require.Empty(t, failed)
	require.Len(t, sender.sent, 1)

	m := sender.sent[0]
	assert.Equal(t, wire.TypeImage, m.typ)
	assert.Equal(t, "image/png", m.md.MimeType)
	assert.Equal(t, m.content, m.md.ImageURL)
	assert.Equal(t, int64(len(pngData)), m.md.FileSize)
}

func TestGenericFileKeepsNoImageURL(t *testing.T) {
	up := &fakeUploader{}
	sender := &fakeSender{}
	p := NewPipeline(up, sender, nil)

	p.UploadAndSend(context.Background(), "c1", []File{{Name: "rider.txt", Data: []byte("stage rider")}})
	require.Len(t, sender.sent, 1)
	assert.Equal(t, wire.TypeFile, sender.sent[0].typ)
	assert.Empty(t, sender.sent[0].md.ImageURL)
}

func TestSendFailureCountsAsItemFailure(t *testing.T) {
	up := &fakeUploader{}
	sender := &fakeSender{err: errors.New("not connected")}
	p := NewPipeline(up, sender, nil)

	failed := p.UploadAndSend(context.Background(), "c1", []File{{Name: "b.txt", Data: []byte("x")}})
	require.Len(t, failed, 1)
}

func TestSendVoice(t *testing.T) {
	up := &fakeUploader{}
	sender := &fakeSender{}
	p := NewPipeline(up, sender, nil)

	require.NoError(t, p.SendVoice(context.Background(), "c1", []byte("opus frames"), 12*time.Second))
	require.Len(t, sender.sent, 1)

	m := sender.sent[0]
	assert.Equal(t, wire.TypeVoice, m.typ)
	assert.Equal(t, "https://cdn.gigbridge.test/voice.webm", m.content)
	assert.Equal(t, 12.0, m.md.VoiceDuration)
}

func TestSendVoiceUploadFailure(t *testing.T) {
	up := &fakeUploader{voiceErr: errors.New("storage down")}
	sender := &fakeSender{}
	p := NewPipeline(up, sender, nil)

	assert.Error(t, p.SendVoice(context.Background(), "c1", []byte("x"), time.Second))
	assert.Empty(t, sender.sent)
}
