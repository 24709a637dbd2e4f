package bot

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nekobot/internal/command"
	"nekobot/internal/conf"
	"nekobot/internal/matrix"
)

// SelfReplyMarker prefixes every conversational reply this bot sends, so a
// later sync of its own message never triggers another reply. A bounded
// anti-loop guard, not a defense against other bots.
const SelfReplyMarker = "​"

const chatInstruction = "Reply briefly and directly to the last message."

// Completer produces one completion for one prompt.
type Completer interface {
	Pull(ctx context.Context) error
	Complete(ctx context.Context, prompt string) (string, error)
}

type chatMessage struct {
	Sender string
	Body   string
	At     time.Time
}

// ChatSession is the conversational side of the bot: a capped per-room
// history and a name-triggered reply path backed by the LLM client. History
// is recorded for every message, replies only happen once the model
// preparation step has finished.
type ChatSession struct {
	client      Completer
	cfg         conf.ChatConfig
	namePattern *regexp.Regexp
	logger      zerolog.Logger

	mu      sync.Mutex
	history map[string][]chatMessage

	promptIDs atomic.Int64
	ready     atomic.Bool
}

// NewChatSession builds the session around cfg. The trigger pattern matches
// the configured bot name case-insensitively anywhere in a message.
func NewChatSession(client Completer, cfg conf.ChatConfig, logger zerolog.Logger) *ChatSession {
	return &ChatSession{
		client:      client,
		cfg:         cfg,
		namePattern: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(cfg.BotName)),
		logger:      logger.With().Str("component", "chat").Logger(),
		history:     make(map[string][]chatMessage),
	}
}

// Prepare runs the one-time model pull. Replies stay suppressed until it
// succeeds; history is recorded either way.
func (s *ChatSession) Prepare(ctx context.Context) {
	if err := s.client.Pull(ctx); err != nil {
		s.logger.Error().Err(err).Msg("model preparation failed, conversational replies stay disabled")
		return
	}
	s.ready.Store(true)
}

// Ready reports whether model preparation has completed.
func (s *ChatSession) Ready() bool {
	return s.ready.Load()
}

// Observe appends one message to the room's history, evicting the oldest
// entries beyond the configured depth.
func (s *ChatSession) Observe(roomID, sender, body string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.history[roomID], chatMessage{Sender: sender, Body: body, At: at})
	if overflow := len(entries) - s.cfg.History; overflow > 0 {
		entries = entries[overflow:]
	}
	s.history[roomID] = entries
}

// History returns a copy of the room's recorded history.
func (s *ChatSession) History(roomID string) []chatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chatMessage(nil), s.history[roomID]...)
}

// Handle records the message and replies when all trigger conditions hold:
// the model is prepared, the message is not this bot's own output, and it
// mentions the configured name.
func (s *ChatSession) Handle(ctx context.Context, room *matrix.Room, msg *matrix.TextMessage, messenger command.Messenger) {
	s.Observe(room.ID, room.MemberName(msg.Sender), msg.Body, msg.Timestamp)

	if !s.ready.Load() {
		return
	}
	if strings.HasPrefix(msg.Body, SelfReplyMarker) {
		return
	}
	if !s.namePattern.MatchString(msg.Body) {
		return
	}

	promptID := s.promptIDs.Add(1)
	logger := s.logger.With().Int64("prompt_id", promptID).Str("room_id", room.ID).Logger()

	prompt := s.buildPrompt(room.ID)
	logger.Debug().Str("prompt", prompt).Msg("requesting completion")

	completion, err := s.client.Complete(ctx, prompt)
	if err != nil {
		logger.Error().Err(err).Msg("completion failed")
		return
	}
	if completion == "" {
		logger.Error().Msg("backend returned an empty completion")
		return
	}

	if err := messenger.SendText(ctx, room.ID, SelfReplyMarker+completion, msg.EventID); err != nil {
		logger.Error().Err(err).Msg("could not send conversational reply")
		return
	}
	logger.Info().Msg("sent conversational reply")
}

func (s *ChatSession) buildPrompt(roomID string) string {
	var b strings.Builder
	if s.cfg.PromptPrefix != "" {
		b.WriteString(s.cfg.PromptPrefix)
		b.WriteString("\n\n")
	}

	for _, entry := range s.History(roomID) {
		b.WriteString("[")
		b.WriteString(entry.At.Format("15:04"))
		b.WriteString("] <")
		b.WriteString(entry.Sender)
		b.WriteString("> ")
		b.WriteString(strings.TrimPrefix(entry.Body, SelfReplyMarker))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(chatInstruction)
	return b.String()
}
