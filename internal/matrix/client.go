package matrix

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/attachment"
	"maunium.net/go/mautrix/crypto/cryptohelper"
	"maunium.net/go/mautrix/crypto/verificationhelper"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
	_ "modernc.org/sqlite"

	"nekobot/internal/matrix/store"
)

// pickleKey protects the olm account pickles in the crypto database.
var pickleKey = []byte("nekobot")

// Config carries everything the client needs to reach a homeserver.
type Config struct {
	Homeserver   string
	UserID       string
	Password     string
	DeviceName   string
	CryptoDBPath string
}

// Client wraps the mautrix SDK behind the handful of operations the bot
// needs: login with end-to-end encryption, the sync loop, text and image
// sends, encrypted media upload, and emoji device verification. Olm sessions,
// megolm room keys, and the verification wire protocol all live in the SDK;
// this type adapts its callbacks and content types to the bot's own.
type Client struct {
	cfg    Config
	mx     *mautrix.Client
	crypto *cryptohelper.CryptoHelper
	verify *verificationhelper.VerificationHelper
	logger zerolog.Logger

	roomsMu sync.Mutex
	rooms   map[id.RoomID]*Room

	// Handlers are registered from the bot's startup goroutine while the sync
	// goroutine dispatches, so access goes through handlerMu.
	handlerMu sync.RWMutex
	onReady   func()
	onMessage func(room *Room, msg *TextMessage)
	verifier  VerificationHandler

	readyOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, used by tests.
func WithHTTPClient(h *http.Client) Option {
	return func(cl *Client) { cl.mx.Client = h }
}

// NewClient creates a client persisting its sync position in sessions.
func NewClient(cfg Config, sessions *store.Store, logger zerolog.Logger, opts ...Option) (*Client, error) {
	mx, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), "")
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	mx.Log = logger.With().Str("component", "mautrix").Logger()
	mx.StateStore = mautrix.NewMemoryStateStore()
	if sessions != nil {
		mx.Store = sessions
	}

	c := &Client{
		cfg:    cfg,
		mx:     mx,
		logger: logger.With().Str("component", "matrix").Logger(),
		rooms:  make(map[id.RoomID]*Room),
	}
	for _, opt := range opts {
		opt(c)
	}

	syncer := mx.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnSync(c.markReady)
	syncer.OnEvent(mx.StateStoreSyncHandler)
	syncer.OnEventType(event.StateRoomName, c.handleRoomName)
	syncer.OnEventType(event.StateMember, c.handleMember)
	syncer.OnEventType(event.StateEncryption, c.handleEncryption)
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	return c, nil
}

// OnReady registers the callback fired after the first successful sync.
func (c *Client) OnReady(handler func()) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onReady = handler
}

// OnMessage registers the room text-message handler.
func (c *Client) OnMessage(handler func(room *Room, msg *TextMessage)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onMessage = handler
}

// OnVerification registers the device-verification handler.
func (c *Client) OnVerification(handler VerificationHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.verifier = handler
}

func (c *Client) verificationHandler() VerificationHandler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.verifier
}

// Login restores the session persisted in the crypto database, or performs a
// password login, and brings up olm and the verification helper.
func (c *Client) Login(ctx context.Context) error {
	db, err := sql.Open("sqlite", c.cfg.CryptoDBPath)
	if err != nil {
		return fmt.Errorf("open crypto database: %w", err)
	}
	cryptoDB, err := dbutil.NewWithDB(db, "sqlite3")
	if err != nil {
		return fmt.Errorf("wrap crypto database: %w", err)
	}

	helper, err := cryptohelper.NewCryptoHelper(c.mx, pickleKey, cryptoDB)
	if err != nil {
		return fmt.Errorf("create crypto helper: %w", err)
	}
	helper.LoginAs = &mautrix.ReqLogin{
		Type:                     mautrix.AuthTypePassword,
		Identifier:               mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: c.cfg.UserID},
		Password:                 c.cfg.Password,
		InitialDeviceDisplayName: c.cfg.DeviceName,
	}
	if err := helper.Init(ctx); err != nil {
		return fmt.Errorf("init end-to-end encryption: %w", err)
	}
	c.mx.Crypto = helper
	c.crypto = helper

	verify := verificationhelper.NewVerificationHelper(
		c.mx, helper.Machine(), verificationhelper.NewInMemoryVerificationStore(),
		verificationCallbacks{c}, false)
	if err := verify.Init(ctx); err != nil {
		return fmt.Errorf("init verification helper: %w", err)
	}
	c.verify = verify

	c.logger.Info().Str("device_id", c.mx.DeviceID.String()).Msg("logged in")
	return nil
}

// Close shuts down the crypto helper and its database.
func (c *Client) Close() error {
	if c.crypto == nil {
		return nil
	}
	return c.crypto.Close()
}

// Sync runs the SDK sync loop until ctx is canceled. Events are fanned out to
// the registered handlers synchronously; handlers that need to do real work
// are expected to hand it off.
func (c *Client) Sync(ctx context.Context) error {
	return c.mx.SyncWithContext(ctx)
}

func (c *Client) markReady(ctx context.Context, resp *mautrix.RespSync, since string) bool {
	c.readyOnce.Do(func() {
		c.handlerMu.RLock()
		handler := c.onReady
		c.handlerMu.RUnlock()
		if handler != nil {
			handler()
		}
	})
	return true
}

func (c *Client) room(roomID id.RoomID) *Room {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	room, ok := c.rooms[roomID]
	if !ok {
		room = NewRoom(roomID.String())
		c.rooms[roomID] = room
	}
	return room
}

func (c *Client) handleRoomName(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsRoomName()
	if content == nil || content.Name == "" {
		return
	}
	c.room(evt.RoomID).SetName(content.Name)
}

func (c *Client) handleMember(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsMember()
	if content == nil {
		return
	}
	c.room(evt.RoomID).SetMember(evt.GetStateKey(), content.Displayname)
}

func (c *Client) handleEncryption(ctx context.Context, evt *event.Event) {
	c.room(evt.RoomID).MarkEncrypted()
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return
	}

	room := c.room(evt.RoomID)
	if evt.Mautrix.WasEncrypted {
		// A decrypted message proves the room is encrypted even when the
		// m.room.encryption state event predates the stored sync token.
		room.MarkEncrypted()
	}

	msg := &TextMessage{
		RoomID:    room.ID,
		EventID:   evt.ID.String(),
		Sender:    evt.Sender.String(),
		Body:      content.Body,
		Decrypted: evt.Mautrix.WasEncrypted,
		Timestamp: time.UnixMilli(evt.Timestamp),
	}

	c.handlerMu.RLock()
	handler := c.onMessage
	c.handlerMu.RUnlock()
	if handler != nil {
		handler(room, msg)
	}
}

// SendText sends a plain text message, threaded when inReplyTo is non-empty.
// The SDK encrypts it transparently in rooms with encryption enabled.
func (c *Client) SendText(ctx context.Context, roomID, text, inReplyTo string) error {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: text}
	if inReplyTo != "" {
		content.RelatesTo = &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(inReplyTo)},
		}
	}
	return c.SendMessage(ctx, roomID, content)
}

// SendMessage sends an m.room.message event with the given content.
func (c *Client) SendMessage(ctx context.Context, roomID string, content any) error {
	payload := content
	if img, ok := content.(ImageMessage); ok {
		payload = img.toEvent()
	}
	_, err := c.mx.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, payload)
	return err
}

// UploadEncrypted encrypts body with a fresh attachment key and uploads the
// ciphertext, returning the mxc URL and key material for the room message.
func (c *Client) UploadEncrypted(ctx context.Context, body io.Reader, filename string) (*EncryptedFile, error) {
	plaintext, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}

	file := attachment.NewEncryptedFile()
	file.EncryptInPlace(plaintext)

	resp, err := c.mx.UploadMedia(ctx, mautrix.ReqUploadMedia{
		ContentBytes: plaintext,
		ContentType:  "application/octet-stream",
		FileName:     filename,
	})
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}

	return &EncryptedFile{URL: resp.ContentURI.String(), File: file}, nil
}

// AcceptVerification answers an incoming verification request, telling the
// other device this one is ready for the emoji handshake.
func (c *Client) AcceptVerification(ctx context.Context, txnID string) error {
	return c.verify.AcceptVerification(ctx, id.VerificationTransactionID(txnID))
}

// ConfirmSAS confirms that the human compared the emoji and they matched.
func (c *Client) ConfirmSAS(ctx context.Context, txnID string) error {
	return c.verify.ConfirmSAS(ctx, id.VerificationTransactionID(txnID))
}

// CancelVerification cancels a verification, with mismatch marking an emoji
// mismatch rather than a plain cancellation.
func (c *Client) CancelVerification(ctx context.Context, txnID string, mismatch bool, reason string) error {
	code := event.VerificationCancelCodeUser
	if mismatch {
		code = event.VerificationCancelCodeSASMismatch
	}
	return c.verify.CancelVerification(ctx, id.VerificationTransactionID(txnID), code, reason)
}

// verificationCallbacks adapts the verification helper's callbacks to the
// registered VerificationHandler.
type verificationCallbacks struct {
	c *Client
}

func (v verificationCallbacks) VerificationRequested(ctx context.Context, txnID id.VerificationTransactionID, from id.UserID, fromDevice id.DeviceID) {
	if handler := v.c.verificationHandler(); handler != nil {
		handler.VerificationRequested(ctx, string(txnID), from.String(), fromDevice.String())
	}
}

func (v verificationCallbacks) ShowSAS(ctx context.Context, txnID id.VerificationTransactionID, emojis []rune, emojiDescriptions []string, decimals []int) {
	handler := v.c.verificationHandler()
	if handler == nil {
		return
	}
	emoji := make([]string, len(emojis))
	for i, r := range emojis {
		emoji[i] = string(r)
	}
	handler.ShowSAS(ctx, string(txnID), emoji)
}

func (v verificationCallbacks) VerificationCancelled(ctx context.Context, txnID id.VerificationTransactionID, code event.VerificationCancelCode, reason string) {
	if handler := v.c.verificationHandler(); handler != nil {
		handler.VerificationCancelled(ctx, string(txnID), string(code), reason)
	}
}

func (v verificationCallbacks) VerificationDone(ctx context.Context, txnID id.VerificationTransactionID) {
	if handler := v.c.verificationHandler(); handler != nil {
		handler.VerificationDone(ctx, string(txnID))
	}
}
