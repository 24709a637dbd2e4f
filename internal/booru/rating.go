package booru

import "errors"

// ErrNoRatingAllowed is returned when a rating would permit no content at all.
var ErrNoRatingAllowed = errors.New("no rating is allowed")

// Rating is the set of content ratings a query may return. At least one
// category must be allowed; the all-false value is rejected at construction.
type Rating struct {
	Safe         bool
	Questionable bool
	Explicit     bool
}

// NewRating validates the triple and returns it.
func NewRating(safe, questionable, explicit bool) (Rating, error) {
	r := Rating{Safe: safe, Questionable: questionable, Explicit: explicit}
	if !safe && !questionable && !explicit {
		return Rating{}, ErrNoRatingAllowed
	}
	return r, nil
}

// RatingSafe and friends are the three single-category ratings.
var (
	RatingSafe         = Rating{Safe: true}
	RatingQuestionable = Rating{Questionable: true}
	RatingExplicit     = Rating{Explicit: true}
)

// Invert negates every category. Involutive: r.Invert().Invert() == r.
func (r Rating) Invert() Rating {
	return Rating{
		Safe:         !r.Safe,
		Questionable: !r.Questionable,
		Explicit:     !r.Explicit,
	}
}

// Tags returns the board query tags that restrict a search to this rating.
// All categories allowed means no restriction (empty). Exactly one allowed
// yields an inclusion tag, exactly two an exclusion tag for the missing one.
func (r Rating) Tags() []string {
	return ratingTags[r]
}

// The derivation runs on every random-post request, so it is precomputed for
// all seven valid triples.
var ratingTags = map[Rating][]string{
	{Safe: true, Questionable: true, Explicit: true}: nil,
	{Safe: true}:                                     {"rating:safe"},
	{Questionable: true}:                             {"rating:questionable"},
	{Explicit: true}:                                 {"rating:explicit"},
	{Questionable: true, Explicit: true}:             {"-rating:safe"},
	{Safe: true, Explicit: true}:                     {"-rating:questionable"},
	{Safe: true, Questionable: true}:                 {"-rating:explicit"},
}
