// Package storage holds scanned invoice documents in S3. The retry engine
// reads source documents back from here when a mismatched extraction is
// resubmitted.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	cfg "intake/internal/config"
)

// DocumentStore provides durable access to source invoice documents
type DocumentStore interface {
	// Get retrieves the raw bytes of a stored document
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a document and returns its public URL
	Put(ctx context.Context, key string, body io.Reader) (string, error)

	// URL returns the public URL for a stored document
	URL(key string) string

	// Health verifies the bucket is reachable
	Health() error
}

type documentStore struct {
	s3     *s3.Client
	bucket string
	region string
}

// New creates an S3-backed document store
func New(c cfg.AWSConfig) (DocumentStore, error) {
	credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     c.AccessKey,
			SecretAccessKey: c.SecretKey,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(c.Region),
		awsconfig.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, err
	}

	return &documentStore{
		s3:     s3.NewFromConfig(awsCfg),
		bucket: c.Bucket,
		region: c.Region,
	}, nil
}

// Get retrieves the raw bytes of a stored document
func (d *documentStore) Get(ctx context.Context, key string) ([]byte, error) {
	downloader := manager.NewDownloader(d.s3)

	buf := manager.NewWriteAtBuffer(nil)
	_, err := downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to download document")
		return nil, fmt.Errorf("downloading document %s: %w", key, err)
	}

	return buf.Bytes(), nil
}

// Put stores a document and returns its public URL
func (d *documentStore) Put(ctx context.Context, key string, body io.Reader) (string, error) {
	uploader := manager.NewUploader(d.s3)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to upload document")
		return "", err
	}

	return d.URL(key), nil
}

// URL returns the public URL for a stored document
func (d *documentStore) URL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", d.bucket, d.region, key)
}

// Health verifies the bucket is reachable
func (d *documentStore) Health() error {
	_, err := d.s3.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		log.Error().Err(err).Str("bucket", d.bucket).Msg("S3 health check failed")
	}
	return err
}
