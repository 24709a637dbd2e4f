package verification

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Transport is the slice of the chat client the verification flow needs. The
// wire protocol (ready, accept, key, and mac events) lives inside the
// transport's SDK; the machine supplies the policy: who may verify, and
// whether the emoji matched.
type Transport interface {
	AcceptVerification(ctx context.Context, txnID string) error
	ConfirmSAS(ctx context.Context, txnID string) error
	CancelVerification(ctx context.Context, txnID string, mismatch bool, reason string) error
}

// Machine drives the interactive emoji verification handshake. Every stage
// handler runs behind the middleware stack from wrap. It implements the
// transport's VerificationHandler surface.
type Machine struct {
	transport Transport
	prompter  Prompter
	logger    zerolog.Logger

	// The request stage is the only one that names the requesting user, so
	// the machine keeps a transaction to sender map for the later stages.
	mu      sync.Mutex
	senders map[string]string

	onRequest func(context.Context, *RequestEvent)
	onEmoji   func(context.Context, *EmojiEvent)
	onCancel  func(context.Context, *CancelEvent)
	onDone    func(context.Context, *DoneEvent)
}

// New builds the machine for a transport, restricted to allowedUsers.
func New(transport Transport, prompter Prompter, allowedUsers []string, logger zerolog.Logger) *Machine {
	allowed := make(map[string]struct{}, len(allowedUsers))
	for _, user := range allowedUsers {
		allowed[user] = struct{}{}
	}

	m := &Machine{
		transport: transport,
		prompter:  prompter,
		logger:    logger.With().Str("component", "verification").Logger(),
		senders:   make(map[string]string),
	}

	m.onRequest = wrap(m.logger, allowed, m.handleRequest)
	m.onEmoji = wrap(m.logger, allowed, m.handleEmoji)
	m.onCancel = wrap(m.logger, allowed, m.handleCancel)
	m.onDone = wrap(m.logger, allowed, m.handleDone)
	return m
}

// VerificationRequested routes an incoming verification request.
func (m *Machine) VerificationRequested(ctx context.Context, txnID, from, fromDevice string) {
	m.mu.Lock()
	m.senders[txnID] = from
	m.mu.Unlock()

	m.onRequest(ctx, &RequestEvent{Sender: from, FromDevice: fromDevice, TransactionID: txnID})
}

// ShowSAS routes the emoji comparison stage. A transaction that never went
// through the request stage resolves to an empty sender and is dropped by the
// allow-list.
func (m *Machine) ShowSAS(ctx context.Context, txnID string, emoji []string) {
	m.onEmoji(ctx, &EmojiEvent{Sender: m.senderOf(txnID), TransactionID: txnID, Emoji: emoji})
}

// VerificationCancelled routes a cancellation from the remote side and closes
// out the transaction.
func (m *Machine) VerificationCancelled(ctx context.Context, txnID, code, reason string) {
	m.onCancel(ctx, &CancelEvent{Sender: m.senderOf(txnID), TransactionID: txnID, Code: code, Reason: reason})
	m.forget(txnID)
}

// VerificationDone routes a completed verification and closes out the
// transaction.
func (m *Machine) VerificationDone(ctx context.Context, txnID string) {
	m.onDone(ctx, &DoneEvent{Sender: m.senderOf(txnID), TransactionID: txnID})
	m.forget(txnID)
}

func (m *Machine) senderOf(txnID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.senders[txnID]
}

func (m *Machine) forget(txnID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.senders, txnID)
}

func (m *Machine) handleRequest(ctx context.Context, ev *RequestEvent, logger zerolog.Logger) error {
	logger.Info().Str("from_device", ev.FromDevice).Msg("sending ready event")
	if err := m.transport.AcceptVerification(ctx, ev.TransactionID); err != nil {
		return fmt.Errorf("accept verification request: %w", err)
	}
	logger.Info().Msg("request/ready stage executed successfully")
	return nil
}

func (m *Machine) handleEmoji(ctx context.Context, ev *EmojiEvent, logger zerolog.Logger) error {
	logger.Info().Str("emoji", strings.Join(ev.Emoji, " ")).Msg("compare the emoji")

	decision, err := m.prompter.Decide(ev.Emoji)
	if err != nil {
		return fmt.Errorf("interactive decision: %w", err)
	}

	switch decision {
	case DecisionConfirm:
		logger.Info().Msg("confirming")
		if err := m.transport.ConfirmSAS(ctx, ev.TransactionID); err != nil {
			return fmt.Errorf("confirmation failed: %w", err)
		}
		logger.Info().Msg("confirmation stage executed successfully")

	case DecisionReject:
		logger.Info().Msg("rejecting")
		if err := m.transport.CancelVerification(ctx, ev.TransactionID, true, "emoji did not match"); err != nil {
			return fmt.Errorf("rejection failed: %w", err)
		}
		logger.Info().Msg("rejected verification")

	case DecisionCancel:
		logger.Info().Msg("canceling")
		if err := m.transport.CancelVerification(ctx, ev.TransactionID, false, "verification canceled"); err != nil {
			return fmt.Errorf("cancellation failed: %w", err)
		}
		logger.Info().Msg("canceled verification")
	}
	return nil
}

func (m *Machine) handleCancel(ctx context.Context, ev *CancelEvent, logger zerolog.Logger) error {
	logger.Info().
		Str("code", ev.Code).
		Str("reason", ev.Reason).
		Msg("verification canceled by remote")
	return nil
}

func (m *Machine) handleDone(ctx context.Context, ev *DoneEvent, logger zerolog.Logger) error {
	logger.Info().Str("txn_id", ev.TransactionID).Msg("emoji verification concluded")
	return nil
}
