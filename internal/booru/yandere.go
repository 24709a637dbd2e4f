package booru

import (
	"encoding/json"
	"mime"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const (
	yandereQueryURL    = "https://yande.re/post.json?limit=1"
	yanderePostURLBase = "https://yande.re/post/show/"
	tagSeparator       = "+"
)

// YandeRe queries yande.re for random posts.
type YandeRe struct {
	defaultRating Rating
	logger        zerolog.Logger
}

// NewYandeRe creates a yande.re client that falls back to defaultRating when
// a query carries no override.
func NewYandeRe(defaultRating Rating, logger zerolog.Logger) *YandeRe {
	return &YandeRe{
		defaultRating: defaultRating,
		logger:        logger.With().Str("booru", "yande.re").Logger(),
	}
}

func (y *YandeRe) RandomPostURL(override *Rating) string {
	rating := y.defaultRating
	if override != nil {
		rating = *override
	}

	tags := append([]string{"order:random"}, rating.Tags()...)
	return yandereQueryURL + "&tags=" + strings.Join(tags, tagSeparator)
}

// yanderePost mirrors the subset of the post schema this bot needs. Pointer
// fields distinguish a missing key from a zero value.
type yanderePost struct {
	ID             *int64  `json:"id"`
	Author         *string `json:"author"`
	SampleURL      *string `json:"sample_url"`
	SampleWidth    *int    `json:"sample_width"`
	SampleHeight   *int    `json:"sample_height"`
	SampleFileSize *int64  `json:"sample_file_size"`
}

func (p *yanderePost) missingField() string {
	switch {
	case p.ID == nil:
		return "id"
	case p.Author == nil:
		return "author"
	case p.SampleURL == nil:
		return "sample_url"
	case p.SampleWidth == nil:
		return "sample_width"
	case p.SampleHeight == nil:
		return "sample_height"
	case p.SampleFileSize == nil:
		return "sample_file_size"
	}
	return ""
}

func (y *YandeRe) ParsePost(raw []byte) (*ImageProps, error) {
	var posts []yanderePost
	if err := json.Unmarshal(raw, &posts); err != nil {
		return nil, &InvalidPostError{Reason: err.Error()}
	}

	if len(posts) == 0 {
		return nil, ErrZeroPosts
	}
	if len(posts) > 1 {
		y.logger.Warn().Int("count", len(posts)).Msg("received more than 1 post, using the first one")
	}
	post := posts[0]

	if field := post.missingField(); field != "" {
		return nil, &InvalidPostError{Reason: "missing field " + field}
	}

	filename, err := url.PathUnescape(path.Base(*post.SampleURL))
	if err != nil {
		filename = path.Base(*post.SampleURL)
	}

	mimeType := mime.TypeByExtension(path.Ext(filename))
	if mimeType == "" {
		return nil, &InvalidPostError{
			Reason: "could not guess MIME type of image from filename " + strconv.Quote(filename),
		}
	}

	return &ImageProps{
		URL:      *post.SampleURL,
		Filename: filename,
		MIMEType: mimeType,
		FileSize: *post.SampleFileSize,
		Width:    *post.SampleWidth,
		Height:   *post.SampleHeight,
		Author:   *post.Author,
		PostURL:  yanderePostURLBase + strconv.FormatInt(*post.ID, 10),
	}, nil
}
