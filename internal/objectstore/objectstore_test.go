package objectstore

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/persona/internal/auth"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir(), "http://localhost:4100/", auth.NewSigner("secret"))
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return l
}

func TestNewStoragePath(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	p := NewStoragePath("images", "u-1", "image/jpeg", now)

	re := regexp.MustCompile(`^images/u-1/1700000000123-[0-9a-z]{6}\.jpg$`)
	if !re.MatchString(p) {
		t.Errorf("NewStoragePath = %q, want match %s", p, re)
	}
	if q := NewStoragePath("images", "u-1", "image/jpeg", now); q == p {
		t.Error("two paths in the same millisecond collided")
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"image/png":                ".png",
		"image/jpeg":               ".jpg",
		"audio/mpeg":               ".mp3",
		"audio/wav; codecs=1":      ".wav",
		"application/x-unknown-me": "",
	}
	for ct, want := range tests {
		if got := Extension(ct); got != want {
			t.Errorf("Extension(%q) = %q, want %q", ct, got, want)
		}
	}
}

func TestSplitPath(t *testing.T) {
	bucket, key, err := SplitPath("audio/u-1/a.mp3")
	if err != nil || bucket != "audio" || key != "u-1/a.mp3" {
		t.Errorf("SplitPath = (%q, %q, %v)", bucket, key, err)
	}
	for _, bad := range []string{"", "audio", "audio/", "/u-1", "audio/../etc/passwd", "audio/u-1//a"} {
		if _, _, err := SplitPath(bad); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("SplitPath(%q) = %v, want ErrInvalidPath", bad, err)
		}
	}
}

func TestLocal_PresignWriteDownload(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	path := "images/u-1/1-abcdef.png"

	raw, err := l.PresignUpload(ctx, path, "image/png", time.Minute)
	if err != nil {
		t.Fatalf("PresignUpload: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing upload url: %v", err)
	}
	if u.Path != "/uploads/"+path {
		t.Errorf("upload path = %q", u.Path)
	}

	ct, err := l.VerifyUpload(u.Query().Get("token"), path)
	if err != nil {
		t.Fatalf("VerifyUpload: %v", err)
	}
	if ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if _, err := l.VerifyUpload(u.Query().Get("token"), "images/u-2/other.png"); err == nil {
		t.Error("token accepted for a different path")
	}

	data := pngBytes(t)
	if _, err := l.Write(path, ct, bytes.NewReader(data)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := l.Download(ctx, path)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("downloaded bytes differ from upload")
	}
}

func TestLocal_WriteRejectsMismatch(t *testing.T) {
	l := newTestLocal(t)
	_, err := l.Write("images/u-1/a.png", "image/png", strings.NewReader("hello, this is plain text"))
	if !errors.Is(err, ErrContentMismatch) {
		t.Errorf("Write = %v, want ErrContentMismatch", err)
	}
}

func TestLocal_WriteRejectsOversize(t *testing.T) {
	l := newTestLocal(t)
	big := bytes.NewReader(make([]byte, MaxObjectBytes+1))
	if _, err := l.Write("audio/u-1/a.mp3", "audio/mpeg", big); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Write = %v, want ErrTooLarge", err)
	}
}

func TestLocal_DownloadMissing(t *testing.T) {
	l := newTestLocal(t)
	if _, err := l.Download(context.Background(), "images/u-1/none.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Download = %v, want ErrNotFound", err)
	}
	if err := l.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestS3_DisabledWithoutCredentials(t *testing.T) {
	s, err := NewS3(context.Background(), Config{Region: "us-east-1"})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	if _, err := s.Download(context.Background(), "images/u/a.png"); !errors.Is(err, ErrDisabled) {
		t.Errorf("Download = %v, want ErrDisabled", err)
	}
	if _, err := s.PresignUpload(context.Background(), "images/u/a.png", "image/png", time.Minute); !errors.Is(err, ErrDisabled) {
		t.Errorf("PresignUpload = %v, want ErrDisabled", err)
	}
	if err := s.Health(context.Background()); err != nil {
		t.Errorf("Health on disabled store = %v, want nil", err)
	}
}

func TestS3_PresignPathStyle(t *testing.T) {
	s, err := NewS3(context.Background(), Config{
		Endpoint:     "http://127.0.0.1:9000",
		Region:       "us-east-1",
		UsePathStyle: true,
		AccessKey:    "AKIDEXAMPLE",
		SecretKey:    "wJalrXUtnFEMI",
	})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	raw, err := s.PresignUpload(context.Background(), "audio/u-1/1-abcdef.mp3", "audio/mpeg", 15*time.Minute)
	if err != nil {
		t.Fatalf("PresignUpload: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing url: %v", err)
	}
	if u.Host != "127.0.0.1:9000" || u.Path != "/audio/u-1/1-abcdef.mp3" {
		t.Errorf("presigned url = %s", raw)
	}
	if u.Query().Get("X-Amz-Signature") == "" || u.Query().Get("X-Amz-Expires") != "900" {
		t.Errorf("presigned query = %v", u.Query())
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	s, err := New(context.Background(), Config{Backend: "local", LocalDir: t.TempDir()}, auth.NewSigner("x"))
	if err != nil {
		t.Fatalf("New(local): %v", err)
	}
	if _, ok := s.(*Local); !ok {
		t.Errorf("New(local) returned %T", s)
	}
	if _, err := New(context.Background(), Config{Backend: "ftp"}, nil); err == nil {
		t.Error("New accepted an unknown backend")
	}
}
