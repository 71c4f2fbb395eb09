package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/mvx/internal/cms"
	"github.com/desertthunder/mvx/internal/encoder"
	"github.com/desertthunder/mvx/internal/events"
	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/storage"
)

// Options are the size limits and pacing settings of an [Engine].
type Options struct {
	TempDir             string
	KeyPrefix           string
	ChunkSize           int64
	SingleShotThreshold int64
	MaxObjectSize       int64
	PartSize            int64
	PartRetries         int
	ProgressInterval    time.Duration
	PresignTTL          time.Duration
}

// OptionsFromConfig reads engine options from the loaded configuration, filling defaults for unset values.
func OptionsFromConfig(cfg *shared.Config) Options {
	opts := Options{
		TempDir:             cfg.Transfer.TempDir,
		KeyPrefix:           cfg.Storage.KeyPrefix,
		ChunkSize:           cfg.Limits.ChunkSize,
		SingleShotThreshold: cfg.Limits.SingleShotThreshold,
		MaxObjectSize:       cfg.Limits.MaxObjectSize,
		PartSize:            cfg.Limits.PartSize,
		PartRetries:         cfg.Limits.PartRetries,
		ProgressInterval:    cfg.Transfer.ProgressInterval(),
		PresignTTL:          cfg.Storage.PresignTTL(),
	}
	return opts.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.TempDir == "" {
		o.TempDir = filepath.Join(os.TempDir(), "mvx")
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1 << 20
	}
	if o.SingleShotThreshold <= 0 {
		o.SingleShotThreshold = storage.DefaultSingleShotThreshold
	}
	if o.MaxObjectSize <= 0 {
		o.MaxObjectSize = storage.DefaultMaxObjectSize
	}
	if o.PartSize <= 0 {
		o.PartSize = storage.DefaultPartSize
	}
	if o.PartRetries < 0 {
		o.PartRetries = 0
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 100 * time.Millisecond
	}
	if o.PresignTTL <= 0 {
		o.PresignTTL = 15 * time.Minute
	}
	return o
}

// Engine runs the steps of transfer operations against the object store, the CMS and the encoder.
type Engine struct {
	store      storage.Gateway
	cms        cms.Gateway
	encoder    encoder.Encoder
	httpClient *http.Client
	opts       Options
	logger     *log.Logger
}

// NewEngine creates an Engine. enc may be nil when only audio will be transferred.
func NewEngine(store storage.Gateway, gateway cms.Gateway, enc encoder.Encoder, opts Options, logger *log.Logger) *Engine {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Engine{
		store:      store,
		cms:        gateway,
		encoder:    enc,
		httpClient: &http.Client{},
		opts:       opts.withDefaults(),
		logger:     shared.WithLogger(logger, "component", "transfer"),
	}
}

// WithHTTPClient sets the client used for source downloads and presigned uploads.
func (e *Engine) WithHTTPClient(c *http.Client) *Engine {
	e.httpClient = c
	return e
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Download streams the source file to the temp directory in chunks, reporting throttled progress.
//
// On success a video operation moves to compressing and an audio operation to uploading.
func (e *Engine) Download(ctx context.Context, op *Operation, report events.Reporter) error {
	if report == nil {
		report = events.Discard
	}
	if err := op.Transition(StateDownloading); err != nil {
		return err
	}

	asset := op.Asset
	logger := shared.WithLogger(e.logger, "op", op.ID, "asset", asset.ID)

	if err := os.MkdirAll(e.opts.TempDir, 0755); err != nil {
		return op.Fail(fmt.Errorf("%w: %w", shared.ErrLocalWrite, err))
	}

	name := asset.Filename
	if name == "" {
		name = asset.ID
	}
	path := filepath.Join(e.opts.TempDir, shared.SanitizeFilename(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, nil)
	if err != nil {
		return op.Fail(fmt.Errorf("%w: %w", shared.ErrSourceFetch, err))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return op.Fail(fmt.Errorf("%w: %w", shared.ErrSourceFetch, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return op.Fail(fmt.Errorf("%w: status %d", shared.ErrSourceFetch, resp.StatusCode))
	}

	total := resp.ContentLength
	if total <= 0 {
		total = asset.Size
	}
	op.update(func(o *Operation) { o.total = total })

	f, err := os.Create(path)
	if err != nil {
		return op.Fail(fmt.Errorf("%w: %w", shared.ErrLocalWrite, err))
	}
	defer f.Close()

	report(events.Event{Type: events.TypeStart, Phase: "download", Total: total, Message: asset.Title})
	logger.Info("download started", "size", shared.FormatBytes(total))

	tracker := newProgress("download", total, e.opts.ProgressInterval, report, op.setDownloaded)
	buf := make([]byte, e.opts.ChunkSize)
	var downloaded int64
	for {
		if err := ctx.Err(); err != nil {
			return op.Fail(fmt.Errorf("%w: %w", shared.ErrSourceFetch, err))
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return op.Fail(fmt.Errorf("%w: %w", shared.ErrLocalWrite, err))
			}
			downloaded += int64(n)
			tracker.set(downloaded)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return op.Fail(fmt.Errorf("%w: after %s: %w", shared.ErrSourceFetch, shared.FormatBytes(downloaded), readErr))
		}
	}

	if total > 0 && downloaded != total {
		return op.Fail(fmt.Errorf("%w: short body: got %d of %d bytes", shared.ErrSourceFetch, downloaded, total))
	}
	if err := f.Sync(); err != nil {
		return op.Fail(fmt.Errorf("%w: %w", shared.ErrLocalWrite, err))
	}
	tracker.finish(downloaded)

	op.update(func(o *Operation) {
		o.sourcePath = path
		o.originalSize = downloaded
	})
	logger.Info("download complete", "path", path, "size", shared.FormatBytes(downloaded))

	if asset.Kind == models.KindAudio && asset.Duration == 0 {
		e.probeDuration(ctx, op, path, logger)
	}

	next := StateUploading
	if asset.Kind == models.KindVideo {
		next = StateCompressing
	}
	return op.Transition(next)
}

func (e *Engine) probeDuration(ctx context.Context, op *Operation, path string, logger *log.Logger) {
	prober, ok := e.encoder.(encoder.Prober)
	if !ok {
		return
	}
	d, err := prober.Probe(ctx, path)
	if err != nil {
		logger.Warn("duration probe failed", "error", err)
		return
	}
	op.update(func(o *Operation) { o.Asset.Duration = d })
}

// Compress transcodes a downloaded video and records the compression ratio.
//
// Audio operations return [shared.ErrInvalidTransition].
func (e *Engine) Compress(ctx context.Context, op *Operation) error {
	if op.Asset.Kind != models.KindVideo {
		return fmt.Errorf("%w: %s assets are not transcoded", shared.ErrInvalidTransition, op.Asset.Kind)
	}
	if err := op.expect(StateCompressing); err != nil {
		return err
	}
	if e.encoder == nil {
		return op.Fail(fmt.Errorf("%w: no encoder configured", shared.ErrEncode))
	}

	source := op.PayloadPath()
	out, err := e.encoder.Encode(ctx, source)
	if err != nil {
		if !errors.Is(err, shared.ErrEncode) {
			err = fmt.Errorf("%w: %w", shared.ErrEncode, err)
		}
		return op.Fail(err)
	}

	info, err := os.Stat(out)
	if err != nil {
		return op.Fail(fmt.Errorf("%w: %w", shared.ErrEncode, err))
	}

	var ratio string
	op.update(func(o *Operation) {
		o.compressedPath = out
		o.compressedSize = info.Size()
		o.compressionRatio = CompressionRatio(o.originalSize, o.compressedSize)
		ratio = o.compressionRatio
	})
	e.logger.Info("compressed", "op", op.ID, "size", shared.FormatBytes(info.Size()), "ratio", ratio)

	return op.Transition(StateUploading)
}

// Upload sends the payload to the object store, single-shot up to the threshold and multipart above it.
//
// Payloads over the maximum object size fail before any network call.
func (e *Engine) Upload(ctx context.Context, op *Operation, report events.Reporter) error {
	if report == nil {
		report = events.Discard
	}
	if err := op.expect(StateUploading); err != nil {
		return err
	}

	payload := op.PayloadPath()
	info, err := os.Stat(payload)
	if err != nil {
		return op.Fail(fmt.Errorf("%w: %w", shared.ErrUpload, err))
	}
	size := info.Size()

	if err := storage.CheckSize(size, e.opts.MaxObjectSize); err != nil {
		return op.Fail(fmt.Errorf("%w: %w", shared.ErrUpload, err))
	}

	key := storage.ObjectKey(e.opts.KeyPrefix, op.Asset.Kind, op.uploadName())
	contentType := e.contentType(op)

	report(events.Event{Type: events.TypeStart, Phase: "upload", Total: size, Message: key})
	tracker := newProgress("upload", size, e.opts.ProgressInterval, report, op.setUploaded)

	if size <= e.opts.SingleShotThreshold {
		err = e.uploadSingle(ctx, payload, key, contentType, size, tracker)
	} else {
		err = e.uploadMultipart(ctx, payload, key, contentType, size, tracker)
	}
	if err != nil {
		return op.Fail(err)
	}
	tracker.finish(size)

	op.update(func(o *Operation) {
		o.key = key
		o.destinationURL = e.store.PublicURL(key)
	})
	e.logger.Info("upload complete", "op", op.ID, "key", key, "size", shared.FormatBytes(size))

	return op.Transition(StateUpdatingBackend)
}

// UpdateBackend patches the asset's migration sidecar once.
//
// A failed patch still completes the operation, with BackendUpdated false and the error kept as a warning.
// The returned error is non-fatal ([shared.ErrBackendReconcile]).
func (e *Engine) UpdateBackend(ctx context.Context, op *Operation) error {
	if err := op.expect(StateUpdatingBackend); err != nil {
		return err
	}

	result := op.Result()
	info, statErr := os.Stat(op.PayloadPath())
	size := result.OriginalSize
	if statErr == nil {
		size = info.Size()
	}

	op.mu.Lock()
	asset := op.Asset
	op.mu.Unlock()

	sidecar := cms.SidecarFor(asset, result.DestinationURL, op.uploadName(), size, e.contentType(op))
	err := e.cms.PatchDocument(ctx, asset.ID, asset.Kind.SidecarField(), sidecar)

	if err != nil {
		err = fmt.Errorf("%w: %s: %w", shared.ErrBackendReconcile, asset.ID, err)
		e.logger.Warn("backend update failed; object is stored", "op", op.ID, "url", result.DestinationURL, "error", err)
		op.update(func(o *Operation) {
			o.backendUpdated = false
			o.warning = err.Error()
		})
	} else {
		op.update(func(o *Operation) { o.backendUpdated = true })
	}

	if terr := op.Transition(StateComplete); terr != nil {
		return terr
	}
	return err
}

// Run executes every remaining step and returns the terminal result.
//
// It emits start, status and progress events, then exactly one complete or error event.
func (e *Engine) Run(ctx context.Context, op *Operation, report events.Reporter) Result {
	if report == nil {
		report = events.Discard
	}

	report(events.Event{Type: events.TypeStart, Phase: "operation", Total: op.Asset.Size, Message: op.Asset.Title})

	status := func(s State) {
		report(events.Event{Type: events.TypeStatus, Status: string(s), Message: fmt.Sprintf("%s %s", s, op.Asset.ID)})
	}

	err := e.runSteps(ctx, op, report, status)
	if err != nil || op.State() == StateError {
		if op.State() != StateError {
			_ = op.Fail(err)
		}
		result := op.Result()
		report(events.Event{
			Type:        events.TypeError,
			Transferred: result.Uploaded,
			Status:      shared.ErrorKind(op.Err()),
			Error:       result.Error,
			Result:      marshalResult(result),
		})
		return result
	}

	result := op.Result()
	status(StateComplete)
	report(events.Event{
		Type:        events.TypeComplete,
		Transferred: result.Uploaded,
		Total:       result.Uploaded,
		Percent:     100,
		Status:      result.Status,
		Message:     result.Warning,
		Result:      marshalResult(result),
	})
	return result
}

func (e *Engine) runSteps(ctx context.Context, op *Operation, report events.Reporter, status func(State)) error {
	if op.State() == StatePending {
		status(StateDownloading)
		if err := e.Download(ctx, op, report); err != nil {
			return err
		}
	}
	if op.State() == StateCompressing {
		status(StateCompressing)
		if err := e.Compress(ctx, op); err != nil {
			return err
		}
	}
	if op.State() == StateUploading {
		status(StateUploading)
		if err := e.Upload(ctx, op, report); err != nil {
			return err
		}
	}
	if op.State() == StateUpdatingBackend {
		status(StateUpdatingBackend)
		if err := e.UpdateBackend(ctx, op); err != nil && !errors.Is(err, shared.ErrBackendReconcile) {
			return err
		}
	}
	if s := op.State(); !s.Terminal() {
		return op.Fail(invalidTransition(s, StateComplete))
	}
	return nil
}

func (e *Engine) contentType(op *Operation) string {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.compressedPath != "" {
		return "video/mp4"
	}
	if op.Asset.MimeType != "" {
		return op.Asset.MimeType
	}
	return "application/octet-stream"
}

func marshalResult(r Result) json.RawMessage {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return data
}
