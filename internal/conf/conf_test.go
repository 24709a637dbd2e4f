package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nekobot/internal/booru"
	"nekobot/internal/log"
)

func validOptions() *Options {
	return &Options{
		Homeserver:    "https://matrix.example.org",
		UserID:        "@bot:example.org",
		Password:      "hunter2",
		DeviceName:    "nekobot",
		StorePath:     "/var/lib/nekobot",
		AllowedUsers:  []string{"@admin:example.org"},
		DefaultRating: RatingConfig{Safe: true},
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(o *Options) {},
		},
		{
			name: "valid with chat",
			mutate: func(o *Options) {
				o.Chat = &ChatConfig{BotName: "Neko", Model: "llama3", History: 10}
			},
		},
		{
			name:    "missing homeserver",
			mutate:  func(o *Options) { o.Homeserver = "" },
			wantErr: "homeserver",
		},
		{
			name:    "missing user id",
			mutate:  func(o *Options) { o.UserID = "" },
			wantErr: "user_id",
		},
		{
			name:    "missing password",
			mutate:  func(o *Options) { o.Password = "" },
			wantErr: "password",
		},
		{
			name:    "missing device name",
			mutate:  func(o *Options) { o.DeviceName = "" },
			wantErr: "device_name",
		},
		{
			name:    "missing store path",
			mutate:  func(o *Options) { o.StorePath = "" },
			wantErr: "store_path",
		},
		{
			name:    "no allowed users",
			mutate:  func(o *Options) { o.AllowedUsers = nil },
			wantErr: "allowed_users",
		},
		{
			name:    "all ratings disallowed",
			mutate:  func(o *Options) { o.DefaultRating = RatingConfig{} },
			wantErr: "default_rating",
		},
		{
			name: "chat without bot name",
			mutate: func(o *Options) {
				o.Chat = &ChatConfig{Model: "llama3", History: 10}
			},
			wantErr: "chat.bot_name",
		},
		{
			name: "chat without model",
			mutate: func(o *Options) {
				o.Chat = &ChatConfig{BotName: "Neko", History: 10}
			},
			wantErr: "chat.model",
		},
		{
			name: "chat history below one",
			mutate: func(o *Options) {
				o.Chat = &ChatConfig{BotName: "Neko", Model: "llama3"}
			},
			wantErr: "chat.history",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.mutate(opts)

			err := opts.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOptions_IsAllowedUser(t *testing.T) {
	opts := validOptions()
	opts.AllowedUsers = []string{"@admin:example.org", "@friend:example.org"}

	require.True(t, opts.IsAllowedUser("@admin:example.org"))
	require.True(t, opts.IsAllowedUser("@friend:example.org"))
	require.False(t, opts.IsAllowedUser("@mallory:example.org"))
	require.False(t, opts.IsAllowedUser(""))
}

func TestRatingConfig_Rating(t *testing.T) {
	rating, err := RatingConfig{Safe: true, Explicit: true}.Rating()
	require.NoError(t, err)
	require.Equal(t, booru.Rating{Safe: true, Explicit: true}, rating)

	_, err = RatingConfig{}.Rating()
	require.Error(t, err)
}

func TestResolve_LoadsValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.json")
	want := validOptions()
	want.Chat = &ChatConfig{BotName: "Neko", Model: "llama3", History: 25, Temperature: 0.8}
	require.NoError(t, want.Save(path))

	got, err := Resolve(path, false, log.NewWithWriter(os.Stderr, false))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestResolve_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.json")
	opts := validOptions()
	opts.AllowedUsers = nil
	require.NoError(t, opts.Save(path))

	_, err := Resolve(path, false, log.NewWithWriter(os.Stderr, false))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid options file")
}

func TestResolve_RejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := Resolve(path, false, log.NewWithWriter(os.Stderr, false))
	require.Error(t, err)
}

func TestResolve_MissingFileWithoutInteractivity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.json")

	_, err := Resolve(path, false, log.NewWithWriter(os.Stderr, false))
	require.Error(t, err)
	require.Contains(t, err.Error(), "interactive setup is disabled")
}

func TestOptions_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "options.json")

	want := validOptions()
	require.NoError(t, want.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := Resolve(path, false, log.NewWithWriter(os.Stderr, false))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestOptions_RedactedJSONHidesPassword(t *testing.T) {
	opts := validOptions()
	encoded := string(opts.redactedJSON())

	require.NotContains(t, encoded, "hunter2")
	require.Contains(t, encoded, "<redacted>")
	require.Contains(t, encoded, "@bot:example.org")
}
