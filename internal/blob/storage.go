// Package blob stores uploaded source documents until the file_upload
// handler consumes them, on the local filesystem or in S3.
package blob

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"

	"vocab-ingest/internal/config"
	"vocab-ingest/internal/faults"
)

// Storage persists and retrieves uploaded documents by key.
type Storage interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// New picks S3 when a bucket is configured, local disk otherwise.
func New(ctx context.Context, cfg config.Config) (Storage, error) {
	if cfg.UploadS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &s3Storage{client: client, bucket: cfg.UploadS3Bucket}, nil
	}
	return &localStorage{baseDir: cfg.UploadDir}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.UploadS3Region),
	}
	if cfg.UploadS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.UploadS3Endpoint,
					HostnameImmutable: cfg.UploadS3PathStyle,
					SigningRegion:     cfg.UploadS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UploadS3PathStyle
	}), nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

type localStorage struct {
	baseDir string
}

// NewLocal stores documents under baseDir. Used in tests and local dev.
func NewLocal(baseDir string) Storage {
	return &localStorage{baseDir: baseDir}
}

func (l *localStorage) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "create dirs")
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", errors.Wrap(err, "write file")
	}
	return path, nil
}

func (l *localStorage) Get(_ context.Context, key string) ([]byte, error) {
	path := filepath.Join(l.baseDir, sanitizeKey(key))
	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, faults.NotFoundf("uploaded document %s not found", key)
		}
		return nil, errors.Wrap(err, "read file")
	}
	return body, nil
}

type s3Storage struct {
	client *s3.Client
	bucket string
}

func (s *s3Storage) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key = sanitizeKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", faults.External(err, "put object")
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func (s *s3Storage) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(sanitizeKey(key)),
	})
	if err != nil {
		return nil, faults.External(err, "get object")
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, faults.External(err, "read object")
	}
	return body, nil
}
