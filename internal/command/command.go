package command

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"nekobot/internal/booru"
	"nekobot/internal/matrix"
)

// Fixed user-visible replies. Content faults get a reply; transport faults
// are logged only so infrastructure blips do not spam the room.
const (
	replyZeroPosts = "no catgirl for you this time :3\n" +
		"whatcha gonna do? pounce on me???? >.<"
	replyBadData      = "da boowu sent me baad post (ಥ﹏ಥ)"
	replyUploadFailed = "i couwd now upwoad to matwix seuweuo (╥﹏╥)"
)

// Messenger sends room messages on behalf of a command.
type Messenger interface {
	SendText(ctx context.Context, roomID, text, inReplyTo string) error
	SendMessage(ctx context.Context, roomID string, content any) error
}

// Uploader uploads encrypted media.
type Uploader interface {
	UploadEncrypted(ctx context.Context, body io.Reader, filename string) (*matrix.EncryptedFile, error)
}

// Command is one in-flight command instance. It lives for the duration of a
// single asynchronous response and is then discarded.
type Command struct {
	Parsed    *ParsedCommand
	ID        int64
	MessageID string
	RoomID    string

	board      booru.Booru
	httpClient *http.Client
	messenger  Messenger
	uploader   Uploader
	logger     zerolog.Logger
}

// New creates a command bound to its collaborators. The logger is namespaced
// by the command id so every step of the response can be correlated.
func New(
	parsed *ParsedCommand,
	id int64,
	messageID, roomID string,
	board booru.Booru,
	httpClient *http.Client,
	messenger Messenger,
	uploader Uploader,
	logger zerolog.Logger,
) *Command {
	return &Command{
		Parsed:     parsed,
		ID:         id,
		MessageID:  messageID,
		RoomID:     roomID,
		board:      board,
		httpClient: httpClient,
		messenger:  messenger,
		uploader:   uploader,
		logger:     logger.With().Int64("command_id", id).Logger(),
	}
}

// Logger exposes the command-scoped logger.
func (c *Command) Logger() zerolog.Logger {
	return c.logger
}

// Respond runs the response protocol: fetch a random post, parse it, stream
// the image, upload it encrypted, and send the threaded image reply. Each
// step either aborts (logged, sometimes with an apology reply) or feeds the
// next one.
func (c *Command) Respond(ctx context.Context) {
	raw, ok := c.fetchRandomPost(ctx)
	if !ok {
		return
	}

	image, err := c.board.ParsePost(raw)
	if err != nil {
		switch {
		case errors.Is(err, booru.ErrZeroPosts):
			c.logAbort("received zero posts from booru")
			c.reply(ctx, replyZeroPosts)
		default:
			c.logger.Error().Err(err).Msg("ABORT: invalid post json from booru")
			c.reply(ctx, replyBadData)
		}
		return
	}

	imgResp, ok := c.fetchImage(ctx, image)
	if !ok {
		return
	}
	defer imgResp.Body.Close()

	// Prefer the transport's declared length, fall back to the parsed
	// metadata when the server does not say.
	size := imgResp.ContentLength
	if size < 0 {
		size = image.FileSize
	}

	c.logger.Info().Msg("uploading image to matrix")
	encFile, err := c.uploader.UploadEncrypted(ctx, imgResp.Body, image.Filename)
	if err != nil {
		c.logAbortErr("image upload failed", err)
		c.reply(ctx, replyUploadFailed)
		return
	}

	c.sendImageReply(ctx, image, encFile, size)
}

func (c *Command) fetchRandomPost(ctx context.Context) ([]byte, bool) {
	getURL := c.board.RandomPostURL(c.Parsed.Rating)
	c.logger.Info().Str("url", getURL).Msg("GET random post")

	resp, err := c.get(ctx, getURL)
	if err != nil {
		c.logAbortErr("random post request failed", err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logBadResponse(resp)
		return nil, false
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logAbortErr("could not read post response", err)
		return nil, false
	}
	return raw, true
}

// fetchImage issues the image GET. Transport faults abort silently, so a
// failed fetch never produces a room-visible reply.
func (c *Command) fetchImage(ctx context.Context, image *booru.ImageProps) (*http.Response, bool) {
	c.logger.Info().Str("url", image.URL).Msg("GET image")

	resp, err := c.get(ctx, image.URL)
	if err != nil {
		c.logAbortErr("image request failed", err)
		return nil, false
	}

	if resp.StatusCode != http.StatusOK {
		c.logBadResponse(resp)
		resp.Body.Close()
		return nil, false
	}
	return resp, true
}

func (c *Command) sendImageReply(ctx context.Context, image *booru.ImageProps, encFile *matrix.EncryptedFile, size int64) {
	content := matrix.ImageMessage{
		Body:     "catgirl by " + image.Author + ": " + image.PostURL,
		Filename: image.Filename,
		Info: matrix.ImageInfo{
			Size:     size,
			MIMEType: image.MIMEType,
			Width:    image.Width,
			Height:   image.Height,
		},
		File:      encFile,
		InReplyTo: c.MessageID,
	}

	c.logger.Info().Msg("sending message with the catgirl image attached")
	if err := c.messenger.SendMessage(ctx, c.RoomID, content); err != nil {
		c.logAbortErr("could not send image message", err)
		return
	}
	c.logger.Info().Msg("DONE :3 cat served")
}

func (c *Command) reply(ctx context.Context, text string) {
	if err := c.messenger.SendText(ctx, c.RoomID, text, c.MessageID); err != nil {
		c.logger.Error().Err(err).Msg("could not send reply")
	}
}

func (c *Command) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func (c *Command) logAbort(message string) {
	c.logger.Error().Msg("ABORT: " + message)
}

func (c *Command) logAbortErr(message string, err error) {
	c.logger.Error().Err(err).Msg("ABORT: " + message)
}

// logBadResponse records the status line and a capped slice of the body; a
// non-200 from upstream aborts silently, without a room-visible reply.
func (c *Command) logBadResponse(resp *http.Response) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	c.logger.Error().
		Str("status", resp.Status).
		Str("body", string(body)).
		Msg("ABORT: bad response from upstream")
}
