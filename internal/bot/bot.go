package bot

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nekobot/internal/booru"
	"nekobot/internal/command"
	"nekobot/internal/conf"
	"nekobot/internal/matrix"
	"nekobot/internal/ollama"
	"nekobot/internal/verification"
)

// startupWatchdogDelay guards against a transport that never raises its
// ready signal: whichever of the two fires first runs startup, the other
// becomes a no-op.
const startupWatchdogDelay = 40 * time.Second

const scoldingReply = "...\ni'm just going to trust that you misspelled '!cg'"

// Transport is everything the dispatcher needs from the chat client.
// *matrix.Client satisfies it; tests plug in fakes.
type Transport interface {
	OnReady(func())
	OnMessage(func(room *matrix.Room, msg *matrix.TextMessage))
	OnVerification(handler matrix.VerificationHandler)
	Sync(ctx context.Context) error

	SendText(ctx context.Context, roomID, text, inReplyTo string) error
	SendMessage(ctx context.Context, roomID string, content any) error
	UploadEncrypted(ctx context.Context, body io.Reader, filename string) (*matrix.EncryptedFile, error)

	AcceptVerification(ctx context.Context, txnID string) error
	ConfirmSAS(ctx context.Context, txnID string) error
	CancelVerification(ctx context.Context, txnID string, mismatch bool, reason string) error
}

// Bot is the command/event dispatcher. It owns startup sequencing, the
// monotonic id counters and the live-task set; each matched command and each
// verification stage runs as its own task so a slow fetch never delays
// message intake.
type Bot struct {
	opts      *conf.Options
	transport Transport
	board     booru.Booru
	chat      *ChatSession
	prompter  verification.Prompter
	verifier  *verification.Machine
	logger    zerolog.Logger

	httpClient *http.Client

	runCtx      context.Context
	startupOnce sync.Once
	commandIDs  atomic.Int64
	tasks       TaskGroup
}

// Option configures a Bot.
type Option func(*Bot)

// WithBooru overrides the image board client.
func WithBooru(board booru.Booru) Option {
	return func(b *Bot) { b.board = board }
}

// WithHTTPClient overrides the HTTP client used for board and image fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Bot) { b.httpClient = client }
}

// WithChatClient overrides the conversational backend client.
func WithChatClient(client Completer) Option {
	return func(b *Bot) {
		if b.opts.Chat != nil {
			b.chat = NewChatSession(client, *b.opts.Chat, b.logger)
		}
	}
}

// WithPrompter overrides the interactive verification prompter.
func WithPrompter(p verification.Prompter) Option {
	return func(b *Bot) { b.prompter = p }
}

// New wires the dispatcher. opts must already be validated. Options are
// applied first; defaults fill only the collaborators no option supplied.
func New(opts *conf.Options, transport Transport, logger zerolog.Logger, botOpts ...Option) *Bot {
	logger = logger.With().Str("component", "bot").Logger()

	b := &Bot{
		opts:       opts,
		transport:  transport,
		logger:     logger,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}

	for _, opt := range botOpts {
		opt(b)
	}

	if b.board == nil {
		defaultRating, _ := opts.DefaultRating.Rating()
		b.board = booru.NewYandeRe(defaultRating, logger)
	}
	if b.prompter == nil {
		b.prompter = &verification.TerminalPrompter{In: os.Stdin, Out: os.Stdout}
	}
	b.verifier = verification.New(transport, b.prompter, opts.AllowedUsers, logger)

	if b.chat == nil && opts.Chat != nil {
		client := ollama.New(ollama.Config{
			BaseURL:     opts.Chat.BaseURL,
			Model:       opts.Chat.Model,
			Temperature: opts.Chat.Temperature,
			MaxTokens:   opts.Chat.MaxTokens,
		}, logger)
		b.chat = NewChatSession(client, *opts.Chat, logger)
	}

	return b
}

// Run drives the bot until ctx is canceled, then drains outstanding tasks.
func (b *Bot) Run(ctx context.Context) error {
	b.runCtx = ctx
	b.logger = b.logger.With().Str("run_id", uuid.NewString()).Logger()

	b.transport.OnReady(func() {
		b.startup("transport ready signal")
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.transport.Sync(gctx)
	})

	// Watchdog: startup must run even if the ready signal never arrives.
	g.Go(func() error {
		select {
		case <-time.After(startupWatchdogDelay):
			b.startup("watchdog timeout")
		case <-gctx.Done():
		}
		return nil
	})

	err := g.Wait()
	b.tasks.Wait()
	b.logger.Info().Int64("count", b.commandIDs.Load()).Msg("catgirls served on this run")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startup is idempotent: the ready signal and the watchdog both call it,
// whichever fires first wins.
func (b *Bot) startup(source string) {
	b.startupOnce.Do(func() {
		b.logger.Info().Str("source", source).Msg("startup signal received")
		b.transport.OnMessage(b.handleMessage)
		b.transport.OnVerification(verificationDispatch{b})
		b.logger.Info().Msg("event handlers registered")

		if b.chat != nil {
			b.tasks.Go(func() {
				b.chat.Prepare(b.runCtx)
			})
		}
	})
}

func (b *Bot) handleMessage(room *matrix.Room, msg *matrix.TextMessage) {
	if !room.Encrypted() {
		// Don't operate in unencrypted rooms.
		return
	}

	symbol := "⚠️"
	if msg.Decrypted {
		symbol = "\U0001f6e1"
	}
	b.logger.Info().Msgf("%s (%s) <%s> %q", symbol, room.DisplayName(), room.MemberName(msg.Sender), msg.Body)

	if !b.opts.IsAllowedUser(msg.Sender) {
		return
	}

	if strings.EqualFold(strings.TrimSpace(msg.Body), "!cp") {
		b.tasks.Go(func() {
			if err := b.transport.SendText(b.runCtx, room.ID, scoldingReply, msg.EventID); err != nil {
				b.logger.Error().Err(err).Msg("could not send scolding message")
			}
		})
		return
	}

	if parsed := command.Parse(msg.Body); parsed != nil {
		id := b.commandIDs.Add(1)
		cmd := command.New(parsed, id, msg.EventID, room.ID, b.board, b.httpClient, b.transport, b.transport, b.logger)
		cmdLogger := cmd.Logger()
		cmdLogger.Info().Msgf("command from <%s> in (%s)", room.MemberName(msg.Sender), room.DisplayName())

		b.tasks.Go(func() {
			cmd.Respond(b.runCtx)
		})
		return
	}

	if b.chat != nil {
		b.tasks.Go(func() {
			b.chat.Handle(b.runCtx, room, msg, b.transport)
		})
	}
}

// verificationDispatch hands each verification stage to the bot's task set,
// so a blocking emoji prompt never stalls the transport's sync loop.
type verificationDispatch struct {
	b *Bot
}

func (d verificationDispatch) VerificationRequested(ctx context.Context, txnID, from, fromDevice string) {
	d.b.tasks.Go(func() {
		d.b.verifier.VerificationRequested(d.b.runCtx, txnID, from, fromDevice)
	})
}

func (d verificationDispatch) ShowSAS(ctx context.Context, txnID string, emoji []string) {
	d.b.tasks.Go(func() {
		d.b.verifier.ShowSAS(d.b.runCtx, txnID, emoji)
	})
}

func (d verificationDispatch) VerificationCancelled(ctx context.Context, txnID, code, reason string) {
	d.b.tasks.Go(func() {
		d.b.verifier.VerificationCancelled(d.b.runCtx, txnID, code, reason)
	})
}

func (d verificationDispatch) VerificationDone(ctx context.Context, txnID string) {
	d.b.tasks.Go(func() {
		d.b.verifier.VerificationDone(d.b.runCtx, txnID)
	})
}
