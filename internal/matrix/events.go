package matrix

import (
	"context"
	"sync"
	"time"

	"maunium.net/go/mautrix/crypto/attachment"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Room is the client's view of a joined room, built from sync state events.
// The sync loop keeps mutating it while command and chat tasks read it, so all
// state is behind accessors.
type Room struct {
	ID string

	mu        sync.RWMutex
	name      string
	encrypted bool
	members   map[string]string
}

// NewRoom builds an empty room snapshot for the given room id.
func NewRoom(roomID string) *Room {
	return &Room{ID: roomID, members: make(map[string]string)}
}

// DisplayName returns the room's name, falling back to the room id.
func (r *Room) DisplayName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.name != "" {
		return r.name
	}
	return r.ID
}

// SetName records the room name from an m.room.name state event.
func (r *Room) SetName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = name
}

// Encrypted reports whether the room has end-to-end encryption enabled.
func (r *Room) Encrypted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.encrypted
}

// MarkEncrypted flags the room as end-to-end encrypted. Encryption cannot be
// disabled once enabled, so there is no inverse.
func (r *Room) MarkEncrypted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encrypted = true
}

// SetMember records a member's display name from an m.room.member state event.
func (r *Room) SetMember(userID, displayName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[userID] = displayName
}

// MemberName resolves a user id to its display name in this room, falling
// back to the user id itself.
func (r *Room) MemberName(userID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.members[userID]; ok && name != "" {
		return name
	}
	return userID
}

// TextMessage is a text message received in a room. Decrypted marks messages
// that arrived through the encrypted path and were decrypted successfully.
type TextMessage struct {
	RoomID    string
	EventID   string
	Sender    string
	Body      string
	Decrypted bool
	Timestamp time.Time
}

// EncryptedFile pairs an uploaded ciphertext's mxc URL with the key material
// needed to decrypt it, as produced by UploadEncrypted.
type EncryptedFile struct {
	URL  string
	File *attachment.EncryptedFile
}

// ImageInfo declares media metadata for an image message.
type ImageInfo struct {
	Size     int64
	MIMEType string
	Width    int
	Height   int
}

// ImageMessage is an encrypted m.image room message, threaded to the command
// that requested it when InReplyTo is set.
type ImageMessage struct {
	Body      string
	Filename  string
	Info      ImageInfo
	File      *EncryptedFile
	InReplyTo string
}

func (m ImageMessage) toEvent() *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType:  event.MsgImage,
		Body:     m.Body,
		FileName: m.Filename,
		Info: &event.FileInfo{
			MimeType: m.Info.MIMEType,
			Size:     int(m.Info.Size),
			Width:    m.Info.Width,
			Height:   m.Info.Height,
		},
	}
	if m.File != nil && m.File.File != nil {
		content.File = &event.EncryptedFileInfo{
			EncryptedFile: *m.File.File,
			URL:           id.ContentURIString(m.File.URL),
		}
	}
	if m.InReplyTo != "" {
		content.RelatesTo = &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(m.InReplyTo)},
		}
	}
	return content
}

// VerificationHandler receives the device-verification lifecycle: an incoming
// request, the short-auth-string emoji once both sides hold keys, and the
// final cancellation or completion. The underlying SDK drives the wire
// protocol; the handler supplies policy.
type VerificationHandler interface {
	VerificationRequested(ctx context.Context, txnID, from, fromDevice string)
	ShowSAS(ctx context.Context, txnID string, emoji []string)
	VerificationCancelled(ctx context.Context, txnID, code, reason string)
	VerificationDone(ctx context.Context, txnID string)
}
