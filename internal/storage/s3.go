package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Credentials are static S3 access keys.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// S3Options configures an S3Store.
type S3Options struct {
	Endpoint    string
	Bucket      string
	Credentials Credentials
	Secure      bool
}

// S3Store is an S3-compatible object store. Its client and credentials are
// fixed at construction; use Refresh to get a store with new credentials.
type S3Store struct {
	opts   S3Options
	client *minio.Client
}

// NewS3Store builds a path-style client for opts.Endpoint.
func NewS3Store(opts S3Options) (*S3Store, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("s3 store needs endpoint and bucket")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(opts.Credentials.AccessKey, opts.Credentials.SecretKey, ""),
		Secure:       opts.Secure,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, err
	}
	return &S3Store{opts: opts, client: client}, nil
}

// Refresh returns a new store using creds. The receiver is unchanged and
// stays usable for requests already in flight.
func (s *S3Store) Refresh(creds Credentials) (*S3Store, error) {
	opts := s.opts
	opts.Credentials = creds
	return NewS3Store(opts)
}

// Bucket returns the bucket name.
func (s *S3Store) Bucket() string { return s.opts.Bucket }

func (s *S3Store) GetObjectStream(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.opts.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := object.Stat(); err != nil {
		object.Close()
		return nil, translate(err)
	}
	return object, nil
}

func (s *S3Store) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.opts.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *S3Store) DeleteObject(ctx context.Context, key string) error {
	if _, err := s.client.StatObject(ctx, s.opts.Bucket, key, minio.StatObjectOptions{}); err != nil {
		return translate(err)
	}
	return s.client.RemoveObject(ctx, s.opts.Bucket, key, minio.RemoveObjectOptions{})
}

func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.opts.Bucket, key, ttl, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func translate(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrObjectNotExist
	}
	return err
}
