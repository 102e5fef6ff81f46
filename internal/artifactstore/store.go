// Package artifactstore publishes build outputs to object storage.
package artifactstore

import (
	"context"
	"deploybuild/internal/config"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store persists artifacts under a key and reports where they landed.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

// Config configures the S3 store.
type Config struct {
	Bucket   string // empty disables publishing
	Prefix   string // key prefix inside the bucket
	Region   string
	Endpoint string // custom endpoint for S3-compatible stores
	// PathStyle forces path-style addressing. Implied by Endpoint.
	PathStyle bool
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// LoadConfigFromEnv loads store configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Bucket:    config.GetEnv("ARTIFACT_BUCKET", ""),
		Prefix:    strings.Trim(config.GetEnv("ARTIFACT_PREFIX", "builds"), "/"),
		Region:    config.GetEnv("ARTIFACT_REGION", ""),
		Endpoint:  config.GetEnv("ARTIFACT_ENDPOINT", ""),
		PathStyle: config.GetBoolEnv("ARTIFACT_PATH_STYLE", false),
	}
}

// objectAPI is the subset of the S3 client the store uses.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3 stores artifacts in an S3 bucket.
type S3 struct {
	api    objectAPI
	bucket string
	prefix string
}

// NewS3 creates a store using the default AWS credential chain.
func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	if !cfg.Enabled() {
		return nil, errors.New("artifact bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	} else if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.Endpoint != "" || cfg.PathStyle {
		opts = append(opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	slog.Info("Artifact store configured", "bucket", cfg.Bucket, "prefix", cfg.Prefix, "region", awsCfg.Region)
	return newS3(s3.NewFromConfig(awsCfg, opts...), cfg), nil
}

func newS3(api objectAPI, cfg Config) *S3 {
	return &S3{api: api, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}
}

// Put implements Store. It returns the s3:// URI of the object.
func (s *S3) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	full := s.key(key)
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(full),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, full, err)
	}
	return "s3://" + s.bucket + "/" + full, nil
}

// Ready checks that the bucket exists and is reachable.
func (s *S3) Ready(ctx context.Context) error {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

func (s *S3) key(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

var _ Store = (*S3)(nil)
