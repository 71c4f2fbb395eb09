// Package storage is the gateway to the S3-compatible object store that receives migrated media.
//
// Uploads either go through the gateway directly ([Gateway.PutObject]) or, for browser and engine
// uploads, through presigned URLs so the bytes never pass through a second process.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/charmbracelet/log"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
)

const (
	DefaultSingleShotThreshold int64 = 100 << 20
	DefaultMaxObjectSize       int64 = 1 << 30
	DefaultPartSize            int64 = 10 << 20

	// MinPartSize is the smallest part S3 accepts for every part but the last.
	MinPartSize int64 = 5 << 20
)

// Gateway is the object store surface used by the transfer engine and the admin endpoints.
type Gateway interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	DeleteObject(ctx context.Context, key string) error
	CreatePresignedPutURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	InitiateMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	CreatePresignedPartURL(ctx context.Context, uploadID, key string, partNumber int32, ttl time.Duration) (string, error)
	CompleteMultipartUpload(ctx context.Context, uploadID, key string, parts []models.Part) (string, error)
	AbortMultipartUpload(ctx context.Context, uploadID, key string) error
	PublicURL(key string) string
}

// objectAPI is the subset of [s3.Client] the gateway calls.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// presignAPI is the subset of [s3.PresignClient] the gateway calls.
type presignAPI interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignUploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

var loadAWSConfig = config.LoadDefaultConfig

// S3 implements [Gateway] with aws-sdk-go-v2.
//
// A custom endpoint with path-style addressing covers MinIO and Cloudflare R2.
type S3 struct {
	client    objectAPI
	presign   presignAPI
	bucket    string
	publicURL string
	logger    *log.Logger
}

// New builds an S3 gateway from validated storage settings.
func New(ctx context.Context, cfg shared.StorageConfig, logger *log.Logger) (*S3, error) {
	awsCfg, err := loadAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load object store config: %w", shared.ErrConfiguration, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3(client, s3.NewPresignClient(client), cfg.Bucket, cfg.PublicURL, logger), nil
}

func newS3(client objectAPI, presign presignAPI, bucket, publicURL string, logger *log.Logger) *S3 {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &S3{
		client:    client,
		presign:   presign,
		bucket:    bucket,
		publicURL: publicURL,
		logger:    shared.WithLogger(logger, "component", "storage"),
	}
}

// PutObject uploads body in a single request.
//
// Plain-HTTP endpoints need body to be an [io.ReadSeeker] so the payload can be signed.
func (s *S3) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %w", shared.ErrUpload, key, err)
	}
	s.logger.Debug("object stored", "key", key, "size", size)
	return nil
}

// DeleteObject removes key from the bucket.
func (s *S3) DeleteObject(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("%w: delete %s: %w", shared.ErrAPIRequest, key, err)
	}
	return nil
}

// CreatePresignedPutURL returns a URL that accepts a single PUT of the whole object until ttl elapses.
func (s *S3) CreatePresignedPutURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	req, err := s.presign.PresignPutObject(ctx, in, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("%w: presign put %s: %w", shared.ErrUpload, key, err)
	}
	return req.URL, nil
}

// InitiateMultipartUpload starts a multipart upload and returns its upload id.
func (s *S3) InitiateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	in := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	out, err := s.client.CreateMultipartUpload(ctx, in)
	if err != nil {
		return "", fmt.Errorf("%w: initiate multipart %s: %w", shared.ErrUpload, key, err)
	}

	uploadID := aws.ToString(out.UploadId)
	if uploadID == "" {
		return "", fmt.Errorf("%w: initiate multipart %s: empty upload id", shared.ErrUpload, key)
	}
	s.logger.Debug("multipart initiated", "key", key, "upload_id", uploadID)
	return uploadID, nil
}

// CreatePresignedPartURL returns a URL that accepts a PUT of one part. Part numbers start at 1.
func (s *S3) CreatePresignedPartURL(ctx context.Context, uploadID, key string, partNumber int32, ttl time.Duration) (string, error) {
	if partNumber < 1 || partNumber > 10000 {
		return "", fmt.Errorf("%w: part number %d out of range", shared.ErrInvalidInput, partNumber)
	}

	req, err := s.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("%w: presign part %d of %s: %w", shared.ErrUpload, partNumber, key, err)
	}
	return req.URL, nil
}

// CompleteMultipartUpload assembles the uploaded parts in part-number order and returns the public URL.
func (s *S3) CompleteMultipartUpload(ctx context.Context, uploadID, key string, parts []models.Part) (string, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no parts to complete", shared.ErrInvalidInput)
	}

	sorted := SortParts(parts)
	completed := make([]types.CompletedPart, len(sorted))
	for i, p := range sorted {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}

	if _, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	}); err != nil {
		return "", fmt.Errorf("%w: complete multipart %s: %w", shared.ErrUpload, key, err)
	}

	s.logger.Debug("multipart completed", "key", key, "parts", len(completed))
	return s.PublicURL(key), nil
}

// AbortMultipartUpload discards an in-progress multipart upload and its stored parts.
func (s *S3) AbortMultipartUpload(ctx context.Context, uploadID, key string) error {
	if _, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}); err != nil {
		return fmt.Errorf("%w: abort multipart %s: %w", shared.ErrUpload, key, err)
	}
	s.logger.Debug("multipart aborted", "key", key, "upload_id", uploadID)
	return nil
}

// PublicURL maps key to its address under the configured public base URL.
func (s *S3) PublicURL(key string) string {
	return PublicURL(s.publicURL, key)
}

// PublicURL joins base and key with exactly one slash.
func PublicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// ObjectKey builds "<prefix>/<kind>/<sanitized filename>".
func ObjectKey(prefix string, kind models.Kind, filename string) string {
	return path.Join(strings.Trim(prefix, "/"), string(kind), shared.SanitizeFilename(filename))
}

// CheckSize rejects payloads larger than max before any network call.
func CheckSize(size, max int64) error {
	if max <= 0 {
		max = DefaultMaxObjectSize
	}
	if size > max {
		return fmt.Errorf("%w: %s exceeds %s", shared.ErrObjectTooLarge, shared.FormatBytes(size), shared.FormatBytes(max))
	}
	return nil
}

// SortParts returns a copy of parts ordered by part number.
func SortParts(parts []models.Part) []models.Part {
	sorted := make([]models.Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PartNumber < sorted[j].PartNumber
	})
	return sorted
}

// PartCount returns how many parts of partSize cover size bytes.
func PartCount(size, partSize int64) int32 {
	if size <= 0 || partSize <= 0 {
		return 0
	}
	return int32((size + partSize - 1) / partSize)
}
