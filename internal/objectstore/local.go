package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/persona/internal/auth"
)

// Local keeps objects on disk under dir, one directory per bucket. Uploads go
// through the API's PUT /uploads/* route, authorized by a signed token that
// stands in for an S3 presigned URL.
type Local struct {
	dir     string
	baseURL string
	signer  *auth.Signer
	logger  *slog.Logger
}

func NewLocal(dir, publicBaseURL string, signer *auth.Signer) (*Local, error) {
	if dir == "" {
		return nil, errors.New("local object storage needs a directory")
	}
	if signer == nil {
		return nil, errors.New("local object storage needs a token signer")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating object directory: %w", err)
	}
	return &Local{
		dir:     dir,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		signer:  signer,
		logger:  slog.Default().With("component", "objectstore", "backend", "local"),
	}, nil
}

func (l *Local) filePath(storagePath string) (string, error) {
	bucket, key, err := SplitPath(storagePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.dir, bucket, filepath.FromSlash(key)), nil
}

func (l *Local) PresignUpload(_ context.Context, storagePath, contentType string, ttl time.Duration) (string, error) {
	if _, err := l.filePath(storagePath); err != nil {
		return "", err
	}
	tok, _, err := l.signer.IssueUpload(storagePath, contentType, ttl)
	if err != nil {
		return "", err
	}
	return l.baseURL + "/uploads/" + storagePath + "?token=" + url.QueryEscape(tok), nil
}

// VerifyUpload checks that token authorizes a PUT to storagePath and returns
// the content type it was issued for.
func (l *Local) VerifyUpload(token, storagePath string) (string, error) {
	g, err := l.signer.VerifyUpload(token)
	if err != nil {
		return "", err
	}
	if g.StoragePath != storagePath {
		return "", fmt.Errorf("%w: token issued for a different path", auth.ErrInvalidToken)
	}
	return g.ContentType, nil
}

// Write stores body at storagePath, replacing any previous object. The body
// must fit under MaxObjectBytes and must not contradict contentType.
func (l *Local) Write(storagePath, contentType string, body io.Reader) (int64, error) {
	p, err := l.filePath(storagePath)
	if err != nil {
		return 0, err
	}
	data, err := io.ReadAll(io.LimitReader(body, MaxObjectBytes+1))
	if err != nil {
		return 0, fmt.Errorf("reading upload: %w", err)
	}
	if len(data) > MaxObjectBytes {
		return 0, ErrTooLarge
	}
	if err := checkContent(data, contentType); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("creating object directory: %w", err)
	}
	tmp := p + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, fmt.Errorf("writing object: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("committing object: %w", err)
	}
	l.logger.Info("object stored", "storage_path", storagePath, "bytes", len(data))
	return int64(len(data)), nil
}

func (l *Local) Download(_ context.Context, storagePath string) ([]byte, error) {
	p, err := l.filePath(storagePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
	}
	if err != nil {
		return nil, fmt.Errorf("opening object: %w", err)
	}
	defer f.Close()
	return readLimited(f)
}

func (l *Local) Health(context.Context) error {
	info, err := os.Stat(l.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", l.dir)
	}
	return nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxObjectBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	if len(data) > MaxObjectBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
