package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Uploader stores media bytes and returns the reference that goes into a message.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// DataURLUploader inlines the media as a data: URL. For dev setups without a bucket.
type DataURLUploader struct {
	MaxBytes int
}

var ErrTooLarge = errors.New("media too large to inline")

func (u DataURLUploader) Upload(_ context.Context, _ string, contentType string, data []byte) (string, error) {
	if u.MaxBytes > 0 && len(data) > u.MaxBytes {
		return "", ErrTooLarge
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

type S3Config struct {
	Region     string
	Bucket     string
	Endpoint   string
	PublicRead bool
	PresignTTL time.Duration
}

// S3Uploader puts objects through the multipart manager behind a circuit breaker.
// References are public URLs, or presigned GET URLs for private buckets.
type S3Uploader struct {
	client   *s3.Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	cb       *gobreaker.CircuitBreaker
	cfg      S3Config
}

func NewS3Uploader(ctx context.Context, cfg S3Config, log *zap.SugaredLogger) (*S3Uploader, error) {
	awsConf, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsConf, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 7 * 24 * time.Hour
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "s3-upload",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &S3Uploader{
		client:   client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
		cb:       cb,
		cfg:      cfg,
	}, nil
}

func (s *S3Uploader) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if s.cfg.PublicRead {
		return s.publicURL(key), nil
	}
	return s.PresignURL(ctx, key)
}

func (s *S3Uploader) publicURL(key string) string {
	if s.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.cfg.Endpoint, s.cfg.Bucket, url.PathEscape(key))
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, url.PathEscape(key))
}

func (s *S3Uploader) PresignURL(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.cfg.PresignTTL))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
