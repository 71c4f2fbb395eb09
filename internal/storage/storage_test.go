package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
)

type fakeObjectAPI struct {
	put      *s3.PutObjectInput
	deleted  *s3.DeleteObjectInput
	created  *s3.CreateMultipartUploadInput
	complete *s3.CompleteMultipartUploadInput
	aborted  *s3.AbortMultipartUploadInput
	uploadID string
	err      error
}

func (f *fakeObjectAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	return &s3.PutObjectOutput{}, f.err
}

func (f *fakeObjectAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = in
	return &s3.DeleteObjectOutput{}, f.err
}

func (f *fakeObjectAPI) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.created = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(f.uploadID)}, nil
}

func (f *fakeObjectAPI) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.complete = in
	return &s3.CompleteMultipartUploadOutput{}, f.err
}

func (f *fakeObjectAPI) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.aborted = in
	return &s3.AbortMultipartUploadOutput{}, f.err
}

// presignClient signs offline against a local endpoint; no request is sent.
func presignClient() *s3.PresignClient {
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("minioadmin", "minioadmin", ""),
		BaseEndpoint: aws.String("http://127.0.0.1:9000"),
		UsePathStyle: true,
	})
	return s3.NewPresignClient(client)
}

func newTestGateway(api *fakeObjectAPI) *S3 {
	return newS3(api, presignClient(), "media", "https://cdn.example.com/", shared.NewLogger(nil))
}

func TestPublicURL(t *testing.T) {
	tc := []struct {
		base, key, want string
	}{
		{"https://cdn.example.com", "media/video/a.mp4", "https://cdn.example.com/media/video/a.mp4"},
		{"https://cdn.example.com/", "media/video/a.mp4", "https://cdn.example.com/media/video/a.mp4"},
		{"https://cdn.example.com//", "/media/audio/b.mp3", "https://cdn.example.com/media/audio/b.mp3"},
	}

	for _, tt := range tc {
		assert.Equal(t, tt.want, PublicURL(tt.base, tt.key))
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "media/video/My_Clip.mov", ObjectKey("media", models.KindVideo, "My Clip.mov"))
	assert.Equal(t, "media/audio/track.mp3", ObjectKey("/media/", models.KindAudio, "../track.mp3"))
	assert.Equal(t, "video/asset", ObjectKey("", models.KindVideo, ""))
}

func TestCheckSize(t *testing.T) {
	require.NoError(t, CheckSize(DefaultMaxObjectSize, DefaultMaxObjectSize))

	err := CheckSize(DefaultMaxObjectSize+1, DefaultMaxObjectSize)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrObjectTooLarge))

	assert.Error(t, CheckSize(DefaultMaxObjectSize+1, 0), "zero max falls back to the default limit")
}

func TestPartCount(t *testing.T) {
	assert.Equal(t, int32(0), PartCount(0, DefaultPartSize))
	assert.Equal(t, int32(1), PartCount(DefaultPartSize, DefaultPartSize))
	assert.Equal(t, int32(2), PartCount(DefaultPartSize+1, DefaultPartSize))
	assert.Equal(t, int32(15), PartCount(150<<20, DefaultPartSize))
}

func TestS3(t *testing.T) {
	ctx := context.Background()

	t.Run("PutObject", func(t *testing.T) {
		api := &fakeObjectAPI{}
		gw := newTestGateway(api)

		require.NoError(t, gw.PutObject(ctx, "media/video/a.mp4", strings.NewReader("data"), 4, "video/mp4"))
		require.NotNil(t, api.put)
		assert.Equal(t, "media", aws.ToString(api.put.Bucket))
		assert.Equal(t, int64(4), aws.ToInt64(api.put.ContentLength))
		assert.Equal(t, "video/mp4", aws.ToString(api.put.ContentType))
	})

	t.Run("PutObject failure is an upload error", func(t *testing.T) {
		gw := newTestGateway(&fakeObjectAPI{err: errors.New("boom")})
		err := gw.PutObject(ctx, "k", strings.NewReader(""), 0, "")
		assert.ErrorIs(t, err, shared.ErrUpload)
	})

	t.Run("DeleteObject", func(t *testing.T) {
		api := &fakeObjectAPI{}
		require.NoError(t, newTestGateway(api).DeleteObject(ctx, "media/video/a.mp4"))
		assert.Equal(t, "media/video/a.mp4", aws.ToString(api.deleted.Key))
	})

	t.Run("CreatePresignedPutURL", func(t *testing.T) {
		gw := newTestGateway(&fakeObjectAPI{})

		raw, err := gw.CreatePresignedPutURL(ctx, "media/video/a.mp4", "video/mp4", 15*time.Minute)
		require.NoError(t, err)

		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "/media/media/video/a.mp4", u.Path)
		assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
		assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	})

	t.Run("InitiateMultipartUpload", func(t *testing.T) {
		api := &fakeObjectAPI{uploadID: "upload-1"}
		id, err := newTestGateway(api).InitiateMultipartUpload(ctx, "media/video/big.mp4", "video/mp4")
		require.NoError(t, err)
		assert.Equal(t, "upload-1", id)
		assert.Equal(t, "video/mp4", aws.ToString(api.created.ContentType))
	})

	t.Run("InitiateMultipartUpload without id", func(t *testing.T) {
		_, err := newTestGateway(&fakeObjectAPI{}).InitiateMultipartUpload(ctx, "k", "")
		assert.ErrorIs(t, err, shared.ErrUpload)
	})

	t.Run("CreatePresignedPartURL", func(t *testing.T) {
		gw := newTestGateway(&fakeObjectAPI{})

		raw, err := gw.CreatePresignedPartURL(ctx, "upload-1", "media/video/big.mp4", 3, time.Minute)
		require.NoError(t, err)

		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "3", u.Query().Get("partNumber"))
		assert.Equal(t, "upload-1", u.Query().Get("uploadId"))

		_, err = gw.CreatePresignedPartURL(ctx, "upload-1", "k", 0, time.Minute)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("CompleteMultipartUpload sorts parts", func(t *testing.T) {
		api := &fakeObjectAPI{}
		gw := newTestGateway(api)

		parts := []models.Part{
			{PartNumber: 3, ETag: `"c"`},
			{PartNumber: 1, ETag: `"a"`},
			{PartNumber: 2, ETag: `"b"`},
		}
		location, err := gw.CompleteMultipartUpload(ctx, "upload-1", "media/video/big.mp4", parts)
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/media/video/big.mp4", location)

		completed := api.complete.MultipartUpload.Parts
		require.Len(t, completed, 3)
		for i, p := range completed {
			assert.Equal(t, int32(i+1), aws.ToInt32(p.PartNumber))
		}
		assert.Equal(t, int32(3), parts[0].PartNumber, "caller slice must not be reordered")
	})

	t.Run("CompleteMultipartUpload with no parts", func(t *testing.T) {
		_, err := newTestGateway(&fakeObjectAPI{}).CompleteMultipartUpload(ctx, "u", "k", nil)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("AbortMultipartUpload", func(t *testing.T) {
		api := &fakeObjectAPI{}
		require.NoError(t, newTestGateway(api).AbortMultipartUpload(ctx, "upload-1", "k"))
		assert.Equal(t, "upload-1", aws.ToString(api.aborted.UploadId))
	})
}

func TestNew(t *testing.T) {
	orig := loadAWSConfig
	t.Cleanup(func() { loadAWSConfig = orig })

	t.Run("builds client from config", func(t *testing.T) {
		loadAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
			var lo config.LoadOptions
			for _, fn := range optFns {
				_ = fn(&lo)
			}
			return aws.Config{Region: lo.Region, Credentials: lo.Credentials}, nil
		}

		gw, err := New(context.Background(), shared.StorageConfig{
			Endpoint:        "http://127.0.0.1:9000",
			Region:          "auto",
			Bucket:          "media",
			AccessKeyID:     "id",
			SecretAccessKey: "secret",
			PublicURL:       "https://cdn.example.com",
			UsePathStyle:    true,
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/k", gw.PublicURL("k"))
	})

	t.Run("config load failure", func(t *testing.T) {
		loadAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("no config")
		}

		_, err := New(context.Background(), shared.StorageConfig{}, nil)
		assert.ErrorIs(t, err, shared.ErrConfiguration)
	})
}
