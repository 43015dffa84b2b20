package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"halaqat_go/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ObjectStore is the subset of object storage the API needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string, public bool) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
	KeyFromURL(url string) string
}

type StorageService struct {
	client *s3.Client
	bucket string
	region string
}

// NewStorageService builds an S3 client. Static keys are used when configured,
// otherwise the default AWS credential chain.
func NewStorageService(ctx context.Context, cfg *config.Config) (*StorageService, error) {
	if cfg.S3BucketName == "" {
		return nil, errors.New("S3_BUCKET_NAME is not set")
	}
	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsConfig, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return &StorageService{
		client: s3.NewFromConfig(awsConfig),
		bucket: cfg.S3BucketName,
		region: cfg.AWSRegion,
	}, nil
}

func (s *StorageService) Put(ctx context.Context, key string, body []byte, contentType string, public bool) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	}
	if public {
		in.ACL = types.ObjectCannedACLPublicRead
	}
	_, err := s.client.PutObject(ctx, in)
	return errors.Wrapf(err, "put %s", key)
}

func (s *StorageService) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return out.Body, nil
}

func (s *StorageService) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	return errors.Wrapf(err, "delete %s", key)
}

// URL returns the public URL of key.
func (s *StorageService) URL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// KeyFromURL extracts the object key from a URL produced by URL.
func (s *StorageService) KeyFromURL(url string) string {
	parts := strings.SplitN(url, ".amazonaws.com/", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// ObjectKey builds <folder>/<owner>/<yyyy>/<mm>/<uuid>.<ext>.
func ObjectKey(folder string, owner uint, ext string, now time.Time) string {
	return fmt.Sprintf("%s/%d/%d/%02d/%s.%s", folder, owner, now.Year(), now.Month(), uuid.New().String(), ext)
}
