package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 talks to any S3-compatible service. The bucket is the first segment of
// each storage path. Without credentials it starts disabled and every call
// returns ErrDisabled, so the server still boots.
type S3 struct {
	client       *s3.Client
	presigner    *s3.PresignClient
	healthBucket string
	disabled     bool
	logger       *slog.Logger
}

func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	logger := slog.Default().With("component", "objectstore", "backend", "s3")
	store := &S3{healthBucket: cfg.HealthBucket, logger: logger}

	accessKey := strings.TrimSpace(cfg.AccessKey)
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if accessKey == "" || secretKey == "" {
		logger.Warn("S3 credentials are not set; uploads and analysis downloads are disabled until configured")
		store.disabled = true
		return store, nil
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.Endpoint != "" {
			return aws.Endpoint{
				URL:           cfg.Endpoint,
				PartitionID:   "aws",
				SigningRegion: cfg.Region,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	store.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	store.presigner = s3.NewPresignClient(store.client)
	return store, nil
}

func (s *S3) PresignUpload(ctx context.Context, storagePath, contentType string, ttl time.Duration) (string, error) {
	if s.disabled {
		return "", ErrDisabled
	}
	bucket, key, err := SplitPath(storagePath)
	if err != nil {
		return "", err
	}
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presigning upload: %w", err)
	}
	return req.URL, nil
}

func (s *S3) Download(ctx context.Context, storagePath string) ([]byte, error) {
	if s.disabled {
		return nil, ErrDisabled
	}
	bucket, key, err := SplitPath(storagePath)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return nil, fmt.Errorf("downloading %s: %w", storagePath, err)
	}
	defer out.Body.Close()
	if out.ContentLength != nil && *out.ContentLength > MaxObjectBytes {
		return nil, ErrTooLarge
	}
	return readLimited(out.Body)
}

// Health performs a HeadBucket on the configured health bucket.
func (s *S3) Health(ctx context.Context) error {
	if s.disabled || s.healthBucket == "" {
		return nil
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.healthBucket)})
	return err
}
