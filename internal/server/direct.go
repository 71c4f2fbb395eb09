package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/storage"
)

// objectRequest describes a browser-side upload straight to the object store.
type objectRequest struct {
	Filename    string      `json:"filename"`
	Kind        models.Kind `json:"kind"`
	ContentType string      `json:"content_type"`
	Size        int64       `json:"size"`
}

// key validates the request and derives the object key the transfer engine would use.
func (h *AdminHandler) key(req objectRequest) (string, error) {
	switch {
	case req.Filename == "":
		return "", fmt.Errorf("%w: filename", shared.ErrMissingArgument)
	case !req.Kind.Valid():
		return "", fmt.Errorf("%w: kind %q", shared.ErrInvalidInput, req.Kind)
	case req.Size < 0:
		return "", fmt.Errorf("%w: size %d", shared.ErrInvalidInput, req.Size)
	}

	opts := h.orch.Engine().Options()
	if err := storage.CheckSize(req.Size, opts.MaxObjectSize); err != nil {
		return "", err
	}
	return storage.ObjectKey(opts.KeyPrefix, req.Kind, req.Filename), nil
}

type presignResponse struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	PublicURL string    `json:"publicUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *AdminHandler) presign(w http.ResponseWriter, r *http.Request) {
	var req objectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	key, err := h.key(req)
	if err != nil {
		writeError(w, err)
		return
	}

	opts := h.orch.Engine().Options()
	if req.Size > opts.SingleShotThreshold {
		writeError(w, fmt.Errorf("%w: size %d exceeds single-shot threshold %d, use multipart",
			shared.ErrInvalidInput, req.Size, opts.SingleShotThreshold))
		return
	}

	ttl := opts.PresignTTL
	url, err := h.store.CreatePresignedPutURL(r.Context(), key, req.ContentType, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presignResponse{
		URL:       url,
		Key:       key,
		PublicURL: h.store.PublicURL(key),
		ExpiresAt: time.Now().Add(ttl).UTC(),
	})
}

type multipartResponse struct {
	UploadID  string `json:"uploadId"`
	Key       string `json:"key"`
	PartSize  int64  `json:"partSize"`
	PartCount int32  `json:"partCount"`
}

func (h *AdminHandler) initiateMultipart(w http.ResponseWriter, r *http.Request) {
	var req objectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	key, err := h.key(req)
	if err != nil {
		writeError(w, err)
		return
	}

	uploadID, err := h.store.InitiateMultipartUpload(r.Context(), key, req.ContentType)
	if err != nil {
		writeError(w, err)
		return
	}

	partSize := h.orch.Engine().Options().PartSize
	writeJSON(w, http.StatusCreated, multipartResponse{
		UploadID:  uploadID,
		Key:       key,
		PartSize:  partSize,
		PartCount: storage.PartCount(req.Size, partSize),
	})
}

type partRequest struct {
	UploadID   string        `json:"upload_id"`
	Key        string        `json:"key"`
	PartNumber int32         `json:"part_number"`
	Parts      []models.Part `json:"parts"`
}

func (req partRequest) validate() error {
	switch {
	case req.UploadID == "":
		return fmt.Errorf("%w: upload_id", shared.ErrMissingArgument)
	case req.Key == "":
		return fmt.Errorf("%w: key", shared.ErrMissingArgument)
	}
	return nil
}

func (h *AdminHandler) presignPart(w http.ResponseWriter, r *http.Request) {
	var req partRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	// S3 part numbers run from 1 to 10000.
	if req.PartNumber < 1 || req.PartNumber > 10000 {
		writeError(w, fmt.Errorf("%w: part_number %d", shared.ErrInvalidInput, req.PartNumber))
		return
	}

	ttl := h.orch.Engine().Options().PresignTTL
	url, err := h.store.CreatePresignedPartURL(r.Context(), req.UploadID, req.Key, req.PartNumber, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url, "partNumber": req.PartNumber})
}

func (h *AdminHandler) completeMultipart(w http.ResponseWriter, r *http.Request) {
	var req partRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Parts) == 0 {
		writeError(w, fmt.Errorf("%w: parts", shared.ErrMissingArgument))
		return
	}

	url, err := h.store.CompleteMultipartUpload(r.Context(), req.UploadID, req.Key, storage.SortParts(req.Parts))
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("direct multipart upload complete", "key", req.Key, "parts", len(req.Parts))
	writeJSON(w, http.StatusOK, map[string]string{"url": url, "key": req.Key, "publicUrl": h.store.PublicURL(req.Key)})
}

func (h *AdminHandler) abortMultipart(w http.ResponseWriter, r *http.Request) {
	var req partRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.AbortMultipartUpload(r.Context(), req.UploadID, req.Key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": true})
}
