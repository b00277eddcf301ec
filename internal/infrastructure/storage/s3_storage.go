// Package storage resolves gallery image references against S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/erp/feedsync/internal/domain/listing"
	infraconfig "github.com/erp/feedsync/internal/infrastructure/config"
	"go.uber.org/zap"
)

var _ listing.GalleryResolver = (*S3GalleryResolver)(nil)

const defaultPresignExpiry = 24 * time.Hour

// S3GalleryResolver turns gallery object keys into URLs the marketplace can fetch.
// Objects are checked with HEAD first so a dangling reference is reported as unresolvable
// instead of producing a URL that 404s on the marketplace side.
type S3GalleryResolver struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	publicBaseURL string
	presignExpiry time.Duration
	logger        *zap.Logger
}

// Option configures an S3GalleryResolver
type Option func(*S3GalleryResolver)

// WithLogger sets the resolver logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *S3GalleryResolver) {
		s.logger = logger
	}
}

// WithPresignExpiry overrides the lifetime of presigned GET URLs
func WithPresignExpiry(d time.Duration) Option {
	return func(s *S3GalleryResolver) {
		s.presignExpiry = d
	}
}

// NewS3GalleryResolver creates a resolver from storage configuration.
func NewS3GalleryResolver(cfg *infraconfig.StorageConfig, opts ...Option) (*S3GalleryResolver, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("storage credentials are required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	publicBase := strings.TrimRight(cfg.PublicBaseURL, "/")
	if publicBase != "" {
		if _, err := url.ParseRequestURI(publicBase); err != nil {
			return nil, fmt.Errorf("invalid storage public base URL: %w", err)
		}
	}

	r := &S3GalleryResolver{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		publicBaseURL: publicBase,
		presignExpiry: cfg.PresignExpiry,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.presignExpiry <= 0 {
		r.presignExpiry = defaultPresignExpiry
	}
	return r, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (r *S3GalleryResolver) EnsureBucket(ctx context.Context) error {
	_, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(r.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	r.logger.Info("creating gallery bucket", zap.String("bucket", r.bucket))
	_, err = r.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(r.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ResolveURL returns a fetchable URL for a gallery object key.
func (r *S3GalleryResolver) ResolveURL(ctx context.Context, ref string) (string, error) {
	key := strings.TrimLeft(ref, "/")
	if key == "" {
		return "", listing.ErrImageUnresolvable
	}

	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %s", listing.ErrImageUnresolvable, key)
		}
		return "", fmt.Errorf("failed to check gallery object %s: %w", key, err)
	}

	if r.publicBaseURL != "" {
		return r.publicBaseURL + "/" + escapeKey(key), nil
	}

	req, err := r.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.presignExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign gallery object %s: %w", key, err)
	}
	return req.URL, nil
}

// Bucket returns the bucket name
func (r *S3GalleryResolver) Bucket() string {
	return r.bucket
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	// some S3-compatible servers only surface the code in the message
	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "NoSuchKey")
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
