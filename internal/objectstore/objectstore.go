package objectstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kalambet/persona/internal/auth"
)

// MaxObjectBytes caps a single download so one oversized upload cannot
// exhaust worker memory.
const MaxObjectBytes = 50 << 20

var (
	ErrNotFound        = errors.New("object not found")
	ErrTooLarge        = fmt.Errorf("object exceeds %d bytes", MaxObjectBytes)
	ErrDisabled        = errors.New("object storage is not configured; set PERSONA_S3_* to enable it")
	ErrInvalidPath     = errors.New("invalid storage path")
	ErrContentMismatch = errors.New("uploaded content does not match the declared content type")
)

// Store is the object storage surface the service needs: presigned uploads
// for clients and whole-object downloads for analysis.
type Store interface {
	Download(ctx context.Context, storagePath string) ([]byte, error)
	PresignUpload(ctx context.Context, storagePath, contentType string, ttl time.Duration) (string, error)
	Health(ctx context.Context) error
}

type Config struct {
	// Backend is "local" or "s3".
	Backend       string
	LocalDir      string
	PublicBaseURL string
	Endpoint      string
	Region        string
	UsePathStyle  bool
	AccessKey     string
	SecretKey     string
	// HealthBucket is probed by Health on the s3 backend.
	HealthBucket string
}

// New builds the configured backend. The local backend needs signer to mint
// upload tokens.
func New(ctx context.Context, cfg Config, signer *auth.Signer) (Store, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3(ctx, cfg)
	case "local", "":
		return NewLocal(cfg.LocalDir, cfg.PublicBaseURL, signer)
	default:
		return nil, fmt.Errorf("unknown object storage backend %q", cfg.Backend)
	}
}

// SplitPath splits "<bucket>/<key>" into its parts.
func SplitPath(storagePath string) (bucket, key string, err error) {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(storagePath, "/"), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, storagePath)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, storagePath)
		}
	}
	return bucket, key, nil
}

const suffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewStoragePath returns "<bucket>/<userID>/<unixMillis>-<6 random base36><ext>",
// with the extension derived from contentType.
func NewStoragePath(bucket, userID, contentType string, now time.Time) string {
	var suffix [6]byte
	for i := range suffix {
		suffix[i] = suffixAlphabet[rand.IntN(len(suffixAlphabet))]
	}
	return bucket + "/" + userID + "/" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + string(suffix[:]) + Extension(contentType)
}

// Extension returns the canonical file extension for a MIME type, or "" when
// the type is unknown.
func Extension(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	m := mimetype.Lookup(strings.TrimSpace(strings.ToLower(base)))
	if m == nil {
		return ""
	}
	return m.Extension()
}

// checkContent sniffs data and rejects it when its top-level type
// contradicts declared. Unrecognised binary passes.
func checkContent(data []byte, declared string) error {
	detected := mimetype.Detect(data)
	if detected.Is("application/octet-stream") {
		return nil
	}
	want, _, _ := strings.Cut(declared, "/")
	got, _, _ := strings.Cut(detected.String(), "/")
	if want != got {
		return fmt.Errorf("%w: declared %s, detected %s", ErrContentMismatch, declared, detected.String())
	}
	return nil
}
