package conf

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"nekobot/internal/booru"
)

// RatingConfig is the persisted form of a content rating.
type RatingConfig struct {
	Safe         bool `mapstructure:"safe" json:"safe"`
	Questionable bool `mapstructure:"questionable" json:"questionable"`
	Explicit     bool `mapstructure:"explicit" json:"explicit"`
}

// Rating converts to the validated domain value.
func (r RatingConfig) Rating() (booru.Rating, error) {
	return booru.NewRating(r.Safe, r.Questionable, r.Explicit)
}

// ChatConfig is the optional conversational-backend block.
type ChatConfig struct {
	BotName      string  `mapstructure:"bot_name" json:"bot_name"`
	Model        string  `mapstructure:"model" json:"model"`
	History      int     `mapstructure:"history" json:"history"`
	PromptPrefix string  `mapstructure:"prompt_prefix" json:"prompt_prefix"`
	Temperature  float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens" json:"max_tokens"`
	BaseURL      string  `mapstructure:"base_url" json:"base_url,omitempty"`
}

// Options is the process-wide configuration, loaded once at startup and
// shared by reference afterwards.
type Options struct {
	Homeserver    string       `mapstructure:"homeserver" json:"homeserver"`
	UserID        string       `mapstructure:"user_id" json:"user_id"`
	Password      string       `mapstructure:"password" json:"password"`
	DeviceName    string       `mapstructure:"device_name" json:"device_name"`
	StorePath     string       `mapstructure:"store_path" json:"store_path"`
	AllowedUsers  []string     `mapstructure:"allowed_users" json:"allowed_users"`
	DefaultRating RatingConfig `mapstructure:"default_rating" json:"default_rating"`
	Chat          *ChatConfig  `mapstructure:"chat" json:"chat,omitempty"`
	Debug         bool         `mapstructure:"debug" json:"debug"`
}

// Validate checks the invariants a loaded configuration must hold. A failure
// here is fatal at startup: the bot never proceeds with guessed defaults.
func (o *Options) Validate() error {
	if o.Homeserver == "" {
		return errors.New("homeserver must not be empty")
	}
	if o.UserID == "" {
		return errors.New("user_id must not be empty")
	}
	if o.Password == "" {
		return errors.New("password must not be empty")
	}
	if o.DeviceName == "" {
		return errors.New("device_name must not be empty")
	}
	if o.StorePath == "" {
		return errors.New("store_path must not be empty")
	}
	if len(o.AllowedUsers) == 0 {
		return errors.New("allowed_users must name at least one user")
	}
	if _, err := o.DefaultRating.Rating(); err != nil {
		return fmt.Errorf("default_rating: %w", err)
	}
	if o.Chat != nil {
		if o.Chat.BotName == "" {
			return errors.New("chat.bot_name must not be empty")
		}
		if o.Chat.Model == "" {
			return errors.New("chat.model must not be empty")
		}
		if o.Chat.History < 1 {
			return errors.New("chat.history must be at least 1")
		}
	}
	return nil
}

// IsAllowedUser reports whether userID may issue commands.
func (o *Options) IsAllowedUser(userID string) bool {
	for _, allowed := range o.AllowedUsers {
		if allowed == userID {
			return true
		}
	}
	return false
}

// Resolve loads the options file at path. When the file does not exist and
// interactivity is allowed, the options are prompted on the terminal and
// written back; otherwise the missing file is an error.
func Resolve(path string, allowInteractive bool, logger zerolog.Logger) (*Options, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	err := v.ReadInConfig()
	switch {
	case err == nil:
		logger.Info().Str("path", path).Msg("options file found")
		var opts Options
		if err := v.Unmarshal(&opts); err != nil {
			return nil, fmt.Errorf("parse options file: %w", err)
		}
		if err := opts.Validate(); err != nil {
			return nil, fmt.Errorf("invalid options file: %w", err)
		}
		return &opts, nil

	case isNotExist(err):
		logger.Info().Str("path", path).Msg("options file not found")
		if !allowInteractive {
			return nil, fmt.Errorf("options file %s does not exist and interactive setup is disabled", path)
		}

		opts, err := promptOptions(os.Stdin, os.Stdout)
		if err != nil {
			return nil, fmt.Errorf("interactive setup: %w", err)
		}
		if err := opts.Validate(); err != nil {
			return nil, fmt.Errorf("interactive setup produced invalid options: %w", err)
		}

		logger.Info().RawJSON("options", opts.redactedJSON()).Msg("using options")
		if err := opts.Save(path); err != nil {
			return nil, err
		}
		logger.Info().Str("path", path).Msg("saved options file")
		return opts, nil

	default:
		return nil, fmt.Errorf("read options file: %w", err)
	}
}

// Save writes the options as indented JSON.
func (o *Options) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create options directory: %w", err)
		}
	}

	encoded, err := json.MarshalIndent(o, "", "    ")
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0600); err != nil {
		return fmt.Errorf("write options file: %w", err)
	}
	return nil
}

// redactedJSON renders the options with the password blanked, safe to log.
func (o *Options) redactedJSON() []byte {
	redacted := *o
	redacted.Password = "<redacted>"
	encoded, err := json.Marshal(&redacted)
	if err != nil {
		return []byte(`{}`)
	}
	return encoded
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
