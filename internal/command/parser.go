package command

import (
	"regexp"
	"sort"
	"strings"

	"nekobot/internal/booru"
)

// Aliases is the frozen set of command words this bot answers to.
var Aliases = []string{
	"!cg",
	"!catgirl",
	"!neko",
	"!nekomimi",
	"!mimi",
	"!mimir",
	"!nya",
	"!nyaa",
}

const ratingSeparator = " "

// ratingTokens maps the short rating codes to their ratings. Each base token
// also gets a "-"-prefixed entry carrying the inverted rating.
var ratingTokens = makeRatingTokens()

func makeRatingTokens() map[string]booru.Rating {
	base := map[string]booru.Rating{
		"s":            booru.RatingSafe,
		"safe":         booru.RatingSafe,
		"q":            booru.RatingQuestionable,
		"questionable": booru.RatingQuestionable,
		"e":            booru.RatingExplicit,
		"explicit":     booru.RatingExplicit,
	}

	tokens := make(map[string]booru.Rating, 2*len(base))
	for token, rating := range base {
		tokens[token] = rating
		tokens["-"+token] = rating.Invert()
	}
	return tokens
}

var commandPattern = makePattern()

// makePattern builds the whole-message grammar, e.g. "!cg", "!cg s",
// "!nyaa questionable".
func makePattern() *regexp.Regexp {
	aliases := make([]string, len(Aliases))
	for i, alias := range Aliases {
		aliases[i] = regexp.QuoteMeta(alias)
	}

	tokens := make([]string, 0, len(ratingTokens))
	for token := range ratingTokens {
		tokens = append(tokens, regexp.QuoteMeta(token))
	}
	sort.Strings(tokens)

	pattern := "(?i)^(" + strings.Join(aliases, "|") + ")(" +
		regexp.QuoteMeta(ratingSeparator) + "(" + strings.Join(tokens, "|") + "))?$"
	return regexp.MustCompile(pattern)
}

// ParsedCommand is the result of matching a message against the grammar.
// Rating is nil when no override token was given.
type ParsedCommand struct {
	Rating *booru.Rating
}

// Parse matches a message body against the command grammar. A nil result
// means the message is not a command.
func Parse(body string) *ParsedCommand {
	match := commandPattern.FindStringSubmatch(strings.TrimSpace(body))
	if match == nil {
		return nil
	}

	parsed := &ParsedCommand{}
	if specifier := match[3]; specifier != "" {
		rating := ratingTokens[strings.ToLower(specifier)]
		parsed.Rating = &rating
	}
	return parsed
}
