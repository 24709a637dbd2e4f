package verification

// Stage labels, used as the event kind in the per-event log namespace.
const (
	StageRequest = "request"
	StageEmoji   = "emoji"
	StageCancel  = "cancel"
	StageDone    = "done"
)

// event is what the middleware needs from any verification event: who sent
// it and which kind it is, for the per-event log namespace.
type event interface {
	sender() string
	kind() string
}

// RequestEvent asks this device to verify. It is the only stage that carries
// the requesting user, so the machine records the sender here for the later
// stages of the same transaction.
type RequestEvent struct {
	Sender        string
	FromDevice    string
	TransactionID string
}

func (e *RequestEvent) sender() string { return e.Sender }
func (e *RequestEvent) kind() string   { return StageRequest }

// EmojiEvent carries the short-auth-string emoji computed once both devices
// hold each other's keys. A human compares them against the other device.
type EmojiEvent struct {
	Sender        string
	TransactionID string
	Emoji         []string
}

func (e *EmojiEvent) sender() string { return e.Sender }
func (e *EmojiEvent) kind() string   { return StageEmoji }

// CancelEvent aborts a transaction from the remote side.
type CancelEvent struct {
	Sender        string
	Code          string
	Reason        string
	TransactionID string
}

func (e *CancelEvent) sender() string { return e.Sender }
func (e *CancelEvent) kind() string   { return StageCancel }

// DoneEvent concludes a transaction.
type DoneEvent struct {
	Sender        string
	TransactionID string
}

func (e *DoneEvent) sender() string { return e.Sender }
func (e *DoneEvent) kind() string   { return StageDone }
