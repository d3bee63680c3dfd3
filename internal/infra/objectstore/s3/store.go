// Package s3 stores uploaded archives in an S3 compatible bucket. A custom
// endpoint switches the client to path style addressing for MinIO.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/codereport/internal/domain/archive"
	"github.com/ahrav/codereport/internal/infra/storage"
)

var _ archive.BlobStore = (*Store)(nil)

const archiveContentType = "application/zip"

// Config holds the connection settings for the bucket.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// Store is an archive.BlobStore backed by S3 or MinIO.
type Store struct {
	client *s3.Client
	bucket string
	region string
	tracer trace.Tracer
}

// New creates a Store. Static credentials are used when provided, otherwise
// the default AWS credential chain applies.
func New(ctx context.Context, cfg Config, tracer trace.Tracer) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		}
	})

	return &Store{client: client, bucket: cfg.Bucket, region: cfg.Region, tracer: tracer}, nil
}

func (s *Store) Bucket() string { return s.bucket }

func (s *Store) attrs(key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("rpc.system", "aws-api"),
		attribute.String("aws.s3.bucket", s.bucket),
		attribute.String("aws.s3.key", key),
	}
}

// EnsureBucket creates the bucket unless it already exists.
func (s *Store) EnsureBucket(ctx context.Context) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "s3.ensure_bucket", s.attrs(""), func(ctx context.Context) error {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
		if err == nil {
			return nil
		}
		if !isNotFound(err) {
			return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
		}

		in := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
		if s.region != "" && s.region != "us-east-1" {
			in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
				LocationConstraint: types.BucketLocationConstraint(s.region),
			}
		}
		if _, err := s.client.CreateBucket(ctx, in); err != nil {
			var owned *types.BucketAlreadyOwnedByYou
			if errors.As(err, &owned) {
				return nil
			}
			return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
		}
		return nil
	})
}

// Put uploads size bytes of body under key. body should be seekable when
// the endpoint is plain HTTP so the payload can be signed.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, metadata map[string]string) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "s3.put_object", s.attrs(key), func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          body,
			ContentLength: aws.Int64(size),
			ContentType:   aws.String(archiveContentType),
			Metadata:      metadata,
		})
		if err != nil {
			return fmt.Errorf("failed to upload to S3: %w", err)
		}
		return nil
	})
}

// Exists reports whether key is present in the bucket.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := storage.ExecuteAndTrace(ctx, s.tracer, "s3.head_object", s.attrs(key), func(ctx context.Context) error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return fmt.Errorf("failed to stat object: %w", err)
		}
		exists = true
		return nil
	})
	return exists, err
}

// Get opens the object stored under key.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := storage.ExecuteAndTrace(ctx, s.tracer, "s3.get_object", s.attrs(key), func(ctx context.Context) error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: %s", archive.ErrObjectNotFound, key)
			}
			return fmt.Errorf("failed to get object from S3: %w", err)
		}
		body = out.Body
		return nil
	})
	return body, err
}

// isNotFound matches the typed and the generic not found errors; HEAD
// responses carry no body, so only the status derived code is available.
func isNotFound(err error) bool {
	var (
		nf    *types.NotFound
		nsk   *types.NoSuchKey
		nsb   *types.NoSuchBucket
		apiEr smithy.APIError
	)
	switch {
	case errors.As(err, &nf), errors.As(err, &nsk), errors.As(err, &nsb):
		return true
	case errors.As(err, &apiEr):
		switch apiEr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}
