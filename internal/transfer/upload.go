package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/storage"
)

func (e *Engine) uploadSingle(ctx context.Context, path, key, contentType string, size int64, tracker *progress) error {
	url, err := e.store.CreatePresignedPutURL(ctx, key, contentType, e.opts.PresignTTL)
	if err != nil {
		return fmt.Errorf("%w: presign: %w", shared.ErrUpload, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", shared.ErrUpload, err)
	}
	defer f.Close()

	body := &countingReader{r: f, onRead: tracker.set}
	if _, err := e.put(ctx, url, body, size, contentType); err != nil {
		return err
	}
	return nil
}

// uploadMultipart sends path in part-size pieces, retrying each part up to PartRetries times.
//
// Any failure after the upload is initiated aborts it, including cancellation.
func (e *Engine) uploadMultipart(ctx context.Context, path, key, contentType string, size int64, tracker *progress) (err error) {
	uploadID, err := e.store.InitiateMultipartUpload(ctx, key, contentType)
	if err != nil {
		return fmt.Errorf("%w: initiate: %w", shared.ErrUpload, err)
	}

	logger := shared.WithLogger(e.logger, "upload_id", uploadID, "key", key)
	defer func() {
		if err == nil {
			return
		}
		if abortErr := e.store.AbortMultipartUpload(context.WithoutCancel(ctx), uploadID, key); abortErr != nil {
			logger.Error("abort failed", "error", abortErr)
			return
		}
		logger.Warn("multipart upload aborted", "error", err)
	}()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", shared.ErrUpload, err)
	}
	defer f.Close()

	count := storage.PartCount(size, e.opts.PartSize)
	parts := make([]models.Part, 0, count)
	for i := range count {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", shared.ErrUpload, err)
		}

		number := i + 1
		offset := int64(i) * e.opts.PartSize
		length := min(e.opts.PartSize, size-offset)

		etag, err := e.uploadPart(ctx, f, uploadID, key, number, offset, length, tracker)
		if err != nil {
			return err
		}
		parts = append(parts, models.Part{PartNumber: number, ETag: etag})
		logger.Debug("part uploaded", "part", number, "of", count)
	}

	if _, err := e.store.CompleteMultipartUpload(ctx, uploadID, key, storage.SortParts(parts)); err != nil {
		return fmt.Errorf("%w: complete: %w", shared.ErrUpload, err)
	}
	return nil
}

func (e *Engine) uploadPart(ctx context.Context, f *os.File, uploadID, key string, number int32, offset, length int64, tracker *progress) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= e.opts.PartRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", shared.ErrUpload, err)
		}
		if attempt > 0 {
			e.logger.Warn("retrying part", "part", number, "attempt", attempt, "error", lastErr)
		}

		url, err := e.store.CreatePresignedPartURL(ctx, uploadID, key, number, e.opts.PresignTTL)
		if err != nil {
			lastErr = fmt.Errorf("%w: presign part %d: %w", shared.ErrUpload, number, err)
			continue
		}

		body := &countingReader{r: io.NewSectionReader(f, offset, length), base: offset, onRead: tracker.set}
		etag, err := e.put(ctx, url, body, length, "")
		if err != nil {
			lastErr = fmt.Errorf("part %d: %w", number, err)
			continue
		}
		if etag == "" {
			lastErr = fmt.Errorf("%w: part %d: missing etag", shared.ErrUpload, number)
			continue
		}
		return etag, nil
	}
	return "", lastErr
}

// put streams body to a presigned URL and returns the response ETag.
func (e *Engine) put(ctx context.Context, url string, body io.Reader, size int64, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrUpload, err)
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrUpload, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", shared.ErrUpload, resp.StatusCode)
	}
	return resp.Header.Get("ETag"), nil
}
