package booru

import (
	"errors"
	"fmt"
)

// ErrZeroPosts is returned when a query that should yield one post yields none.
var ErrZeroPosts = errors.New("received zero posts")

// InvalidPostError reports a post payload that does not match the board's
// schema, or one whose fields cannot be turned into a usable image.
type InvalidPostError struct {
	Reason string
}

func (e *InvalidPostError) Error() string {
	return fmt.Sprintf("invalid post json: %s", e.Reason)
}

// ImageProps describes one fetched image, ready for upload. Produced only by
// a successful post parse.
type ImageProps struct {
	URL      string
	Filename string
	MIMEType string
	FileSize int64
	Width    int
	Height   int
	Author   string
	PostURL  string
}

// Booru is a board-specific client. It isolates the rest of the system from
// board JSON shapes: new boards are added here, the dispatcher stays untouched.
type Booru interface {
	// RandomPostURL builds the query URL for one random post. A nil override
	// falls back to the client's configured default rating.
	RandomPostURL(override *Rating) string

	// ParsePost turns a raw response body into image properties. Failure is
	// either ErrZeroPosts or an *InvalidPostError; it never panics past this
	// boundary.
	ParsePost(raw []byte) (*ImageProps, error)
}
