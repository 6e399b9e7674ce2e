package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/application/orchestration"
	"github.com/erp/channelsync/internal/infrastructure/config"
)

// ErrArchiveNotConfigured is returned when no bucket is configured
var ErrArchiveNotConfigured = errors.New("report: archive bucket is not configured")

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3ReportArchive uploads rendered reports to an S3-compatible bucket
type S3ReportArchive struct {
	client objectPutter
	bucket string
	logger *zap.Logger
}

var _ orchestration.ReportArchive = (*S3ReportArchive)(nil)

// NewS3ReportArchive builds an S3 client from cfg. Static credentials are used
// when an access key is set, otherwise the default AWS credential chain.
func NewS3ReportArchive(ctx context.Context, cfg config.ReportConfig, logger *zap.Logger) (*S3ReportArchive, error) {
	if cfg.S3Bucket == "" {
		return nil, ErrArchiveNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.S3AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := cfg.S3Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return newS3ReportArchive(client, cfg.S3Bucket, logger), nil
}

func newS3ReportArchive(client objectPutter, bucket string, logger *zap.Logger) *S3ReportArchive {
	return &S3ReportArchive{client: client, bucket: bucket, logger: logger}
}

// Bucket returns the target bucket
func (a *S3ReportArchive) Bucket() string {
	return a.bucket
}

// Put uploads body under key and returns its s3:// location
func (a *S3ReportArchive) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", errors.New("report: empty archive key")
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("report: upload %s: %w", key, err)
	}

	location := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	a.logger.Debug("Report archived", zap.String("location", location), zap.Int("bytes", len(body)))
	return location, nil
}
