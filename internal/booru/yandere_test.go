package booru

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"nekobot/internal/log"
)

func testYandeRe(t *testing.T, defaultRating Rating) (*YandeRe, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return NewYandeRe(defaultRating, log.NewWithWriter(&buf, true)), &buf
}

func TestYandeRe_RandomPostURL(t *testing.T) {
	tests := []struct {
		name     string
		def      Rating
		override *Rating
		want     string
	}{
		{
			name: "default rating used when no override",
			def:  Rating{Safe: true},
			want: "https://yande.re/post.json?limit=1&tags=order:random+rating:safe",
		},
		{
			name:     "override wins over default",
			def:      Rating{Safe: true},
			override: &RatingExplicit,
			want:     "https://yande.re/post.json?limit=1&tags=order:random+rating:explicit",
		},
		{
			name: "unrestricted rating adds no tag",
			def:  Rating{Safe: true, Questionable: true, Explicit: true},
			want: "https://yande.re/post.json?limit=1&tags=order:random",
		},
		{
			name: "exclusion tag for two categories",
			def:  Rating{Safe: true, Questionable: true},
			want: "https://yande.re/post.json?limit=1&tags=order:random+-rating:explicit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y, _ := testYandeRe(t, tt.def)
			if got := y.RandomPostURL(tt.override); got != tt.want {
				t.Errorf("RandomPostURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

const wellFormedPost = `[{
	"id": 12345,
	"author": "someone",
	"sample_url": "https://files.yande.re/sample/abc/yande.re%2012345%20sample.jpg",
	"sample_width": 1400,
	"sample_height": 1000,
	"sample_file_size": 424242
}]`

func TestYandeRe_ParsePost(t *testing.T) {
	y, _ := testYandeRe(t, Rating{Safe: true})

	props, err := y.ParsePost([]byte(wellFormedPost))
	if err != nil {
		t.Fatalf("ParsePost() error = %v", err)
	}

	if props.PostURL != "https://yande.re/post/show/12345" {
		t.Errorf("PostURL = %q", props.PostURL)
	}
	if props.Filename != "yande.re 12345 sample.jpg" {
		t.Errorf("Filename = %q, want percent-decoded last segment", props.Filename)
	}
	if props.MIMEType != "image/jpeg" {
		t.Errorf("MIMEType = %q", props.MIMEType)
	}
	if props.Author != "someone" {
		t.Errorf("Author = %q", props.Author)
	}
	if props.FileSize != 424242 || props.Width != 1400 || props.Height != 1000 {
		t.Errorf("size/dimensions = %d/%d/%d", props.FileSize, props.Width, props.Height)
	}
}

func TestYandeRe_ParsePost_ZeroPosts(t *testing.T) {
	y, _ := testYandeRe(t, Rating{Safe: true})

	_, err := y.ParsePost([]byte(`[]`))
	if !errors.Is(err, ErrZeroPosts) {
		t.Fatalf("expected ErrZeroPosts, got %v", err)
	}
}

func TestYandeRe_ParsePost_TwoPostsUsesFirstAndWarns(t *testing.T) {
	y, buf := testYandeRe(t, Rating{Safe: true})

	two := `[
		{"id": 1, "author": "a", "sample_url": "https://x/a.png", "sample_width": 1, "sample_height": 1, "sample_file_size": 1},
		{"id": 2, "author": "b", "sample_url": "https://x/b.png", "sample_width": 2, "sample_height": 2, "sample_file_size": 2}
	]`
	props, err := y.ParsePost([]byte(two))
	if err != nil {
		t.Fatalf("ParsePost() error = %v", err)
	}
	if props.PostURL != "https://yande.re/post/show/1" {
		t.Errorf("expected first post, got %q", props.PostURL)
	}
	if !strings.Contains(buf.String(), "more than 1 post") {
		t.Error("expected a warning about multiple posts")
	}
}

func TestYandeRe_ParsePost_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing field", `[{"id": 1, "author": "a"}]`},
		{"wrong type", `[{"id": "one", "author": "a", "sample_url": "https://x/a.png", "sample_width": 1, "sample_height": 1, "sample_file_size": 1}]`},
		{"not an array", `{"id": 1}`},
		{"no file extension", `[{"id": 1, "author": "a", "sample_url": "https://x/noext", "sample_width": 1, "sample_height": 1, "sample_file_size": 1}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y, _ := testYandeRe(t, Rating{Safe: true})
			_, err := y.ParsePost([]byte(tt.raw))
			var invalid *InvalidPostError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected *InvalidPostError, got %v", err)
			}
		})
	}
}
