// Package archive keeps a copy of recorded audio in S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/GriffinCanCode/voicetask/internal/capture"
)

// Archiver stores a finished recording and returns its object key.
type Archiver interface {
	Archive(ctx context.Context, runID string, p capture.Payload) (string, error)
}

// Config configures the bucket. Endpoint is set for MinIO and other
// S3-compatible services.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3 uploads recordings with PutObject.
type S3 struct {
	client *s3.Client
	bucket string
	now    func() time.Time
}

var _ Archiver = (*S3)(nil)

// NewS3 builds the client. Static credentials are used when given, otherwise
// the default AWS credential chain.
func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}
	return &S3{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

func (a *S3) Archive(ctx context.Context, runID string, p capture.Payload) (string, error) {
	key := ObjectKey(a.now(), runID, p.FileName())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(p.Data),
		ContentType: aws.String(contentType(p.MimeType)),
	})
	if err != nil {
		return "", fmt.Errorf("upload recording: %w", err)
	}
	return key, nil
}

// ObjectKey lays recordings out by UTC day: recordings/2025/03/14/<run>.webm
func ObjectKey(at time.Time, runID, fileName string) string {
	return path.Join("recordings", at.UTC().Format("2006/01/02"), runID+path.Ext(fileName))
}

func contentType(mimeType string) string {
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
