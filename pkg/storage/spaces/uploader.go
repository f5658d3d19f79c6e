// Package spaces uploads field images to an S3-compatible bucket
// (DigitalOcean Spaces in production).
package spaces

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/jwalitptl/fieldsync/internal/config"
	"github.com/jwalitptl/fieldsync/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/fieldsync/pkg/errors"
	"github.com/jwalitptl/fieldsync/pkg/logger"
	"github.com/jwalitptl/fieldsync/pkg/metrics"
)

// API is the subset of the S3 client the uploader calls.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Location is attached to uploaded objects as metadata.
type Location struct {
	Latitude  float64
	Longitude float64
}

type Uploader struct {
	client  API
	bucket  string
	timeout time.Duration
	maxDim  int
	quality int
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *logger.Logger
	newKey  func(folder string) string
}

type Option func(*Uploader)

func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Uploader) { u.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(u *Uploader) { u.logger = l }
}

// WithKeys overrides object key generation.
func WithKeys(fn func(folder string) string) Option {
	return func(u *Uploader) { u.newKey = fn }
}

// NewClient builds an S3 client for the configured Spaces endpoint.
func NewClient(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func NewUploader(client API, cfg config.StorageConfig, opts ...Option) *Uploader {
	u := &Uploader{
		client:  client,
		bucket:  cfg.Bucket,
		timeout: cfg.UploadTimeout,
		maxDim:  cfg.MaxDimension,
		quality: cfg.JPEGQuality,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "spaces-upload",
			MaxFailures: cfg.BreakerFailures,
			Timeout:     cfg.BreakerCooldown,
		}),
		logger: logger.Nop(),
		newKey: func(folder string) string {
			return fmt.Sprintf("%s/%s.jpg", folder, uuid.NewString())
		},
	}
	if u.maxDim <= 0 {
		u.maxDim = 1024
	}
	if u.quality <= 0 || u.quality > 100 {
		u.quality = 85
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload normalises data to a JPEG that fits the configured box and stores it
// under <folder>/<uuid>.jpg with a public-read ACL. Store failures come back
// as UploadFailure; undecodable input as BadRequest.
func (u *Uploader) Upload(ctx context.Context, data []byte, folder string, loc *Location) (string, error) {
	start := time.Now()

	body, err := u.normalise(data)
	if err != nil {
		u.observe(folder, "invalid", start)
		return "", apperrors.BadRequest(fmt.Sprintf("%s image could not be decoded", folder), err)
	}

	key := u.newKey(folder)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("image/jpeg"),
		ACL:         types.ObjectCannedACLPublicRead,
	}
	if loc != nil {
		input.Metadata = map[string]string{
			"gps-lat":  strconv.FormatFloat(loc.Latitude, 'f', -1, 64),
			"gps-long": strconv.FormatFloat(loc.Longitude, 'f', -1, 64),
		}
	}

	err = u.breaker.Execute(func() error {
		uctx := ctx
		if u.timeout > 0 {
			var cancel context.CancelFunc
			uctx, cancel = context.WithTimeout(ctx, u.timeout)
			defer cancel()
		}
		_, err := u.client.PutObject(uctx, input)
		return err
	})
	if err != nil {
		u.observe(folder, "failed", start)
		u.logger.Error(err, "image upload failed", "folder", folder, "breaker", u.breaker.State())
		return "", apperrors.Upload(folder, err)
	}

	u.observe(folder, "ok", start)
	return key, nil
}

// Ping checks the bucket is reachable.
func (u *Uploader) Ping(ctx context.Context) error {
	_, err := u.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(u.bucket)})
	return err
}

func (u *Uploader) normalise(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}

	fitted := imaging.Fit(img, u.maxDim, u.maxDim, imaging.Lanczos)
	opaque(fitted)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(u.quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// opaque drops the alpha channel so transparent pixels keep their colour in the JPEG.
func opaque(img *image.NRGBA) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
}

func (u *Uploader) observe(folder, status string, start time.Time) {
	if u.metrics == nil {
		return
	}
	u.metrics.Uploads.WithLabelValues(folder, status).Inc()
	u.metrics.UploadLatency.Observe(time.Since(start).Seconds())
}
