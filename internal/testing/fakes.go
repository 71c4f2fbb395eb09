package testing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/mvx/internal/models"
)

// FakeCMS is an in-memory CMS gateway.
//
// Documents are stored in their projected form (url, size, mimeType, ...) and patched values are
// round-tripped through JSON so they read back the way the HTTP client would see them.
type FakeCMS struct {
	mu sync.Mutex

	Docs       map[string]models.Document
	Order      []string
	References map[string][]models.Reference
	Patches    []Patch
	Deleted    []string
	Uploads    map[string][]byte

	// PatchErr fails every PatchDocument call; FailPatchIDs fails patches for the listed documents only.
	PatchErr     error
	FailPatchIDs map[string]bool
	FetchErr     error
	DeleteErr    error
}

// Patch records one PatchDocument call.
type Patch struct {
	ID    string
	Field string
	Value any
}

func NewFakeCMS() *FakeCMS {
	return &FakeCMS{
		Docs:         map[string]models.Document{},
		References:   map[string][]models.Reference{},
		Uploads:      map[string][]byte{},
		FailPatchIDs: map[string]bool{},
	}
}

// AddAsset stores asset as a projected media document.
func (f *FakeCMS) AddAsset(a models.Asset) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := models.Document{
		"_id":      a.ID,
		"_type":    string(a.Kind),
		"title":    a.Title,
		"url":      a.URL,
		"size":     float64(a.Size),
		"mimeType": a.MimeType,
		"filename": a.Filename,
	}
	if a.SourceID != "" {
		doc["sourceId"] = a.SourceID
	}
	if a.Duration > 0 {
		doc["duration"] = a.Duration
	}
	if a.Sidecar != nil {
		doc[a.Kind.SidecarField()] = roundTrip(a.Sidecar)
	}
	f.Docs[a.ID] = doc
	f.Order = append(f.Order, a.ID)
}

func (f *FakeCMS) FetchDocuments(ctx context.Context, query string, params map[string]any) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FetchErr != nil {
		return nil, f.FetchErr
	}

	id, _ := params["id"].(string)
	switch {
	case strings.Contains(query, "references($id)"):
		var docs []models.Document
		for _, ref := range f.References[id] {
			doc := models.Document{"_id": ref.ID, "_type": ref.Type}
			if ref.FieldRef != "" {
				doc["fieldRef"] = ref.FieldRef
			}
			docs = append(docs, doc)
		}
		return docs, nil
	case strings.Contains(query, "_id == $id"):
		if doc, ok := f.Docs[id]; ok {
			return []models.Document{copyDoc(doc)}, nil
		}
		return nil, nil
	}

	docs := make([]models.Document, 0, len(f.Order))
	for _, id := range f.Order {
		if doc, ok := f.Docs[id]; ok {
			docs = append(docs, copyDoc(doc))
		}
	}
	return docs, nil
}

func (f *FakeCMS) PatchDocument(ctx context.Context, id, field string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PatchErr != nil {
		return f.PatchErr
	}
	if f.FailPatchIDs[id] {
		return fmt.Errorf("patch %s rejected", id)
	}

	f.Patches = append(f.Patches, Patch{ID: id, Field: field, Value: value})
	if doc, ok := f.Docs[id]; ok {
		doc[field] = roundTrip(value)
	}
	return nil
}

func (f *FakeCMS) UploadBinaryAsset(ctx context.Context, r io.Reader, filename, contentType string) (models.UploadedAsset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.UploadedAsset{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploads[filename] = data
	return models.UploadedAsset{ID: "file-" + filename, URL: "https://cdn.example.com/files/" + filename}, nil
}

func (f *FakeCMS) DeleteDocument(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.Docs, id)
	f.Deleted = append(f.Deleted, id)
	return nil
}

func (f *FakeCMS) FindReferencingDocuments(ctx context.Context, assetID string) ([]models.Reference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	return append([]models.Reference(nil), f.References[assetID]...), nil
}

// PatchCount returns the number of successful patches.
func (f *FakeCMS) PatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Patches)
}

func roundTrip(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func copyDoc(doc models.Document) models.Document {
	out := make(models.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// FakeStore is an object store gateway whose presigned URLs point at a local HTTP server.
//
// Single-shot PUTs land at /objects/<key>; part PUTs land at /parts/<upload id>/<part number>.
type FakeStore struct {
	mu     sync.Mutex
	server *httptest.Server

	Objects   map[string][]byte
	uploads   map[string]*fakeUpload
	Aborted   []string
	Completed [][]models.Part
	Deleted   []string

	// PartFailures fails the first N attempts of a given part number with a 500.
	PartFailures map[int32]int
	PutStatus    int
	InitiateErr  error
	CompleteErr  error

	partAttempts map[int32]int
	BaseURL      string
}

type fakeUpload struct {
	key   string
	parts map[int32][]byte
}

// NewFakeStore starts the backing server; it is closed when t finishes.
func NewFakeStore(t *testing.T) *FakeStore {
	t.Helper()
	f := &FakeStore{
		Objects:      map[string][]byte{},
		uploads:      map[string]*fakeUpload{},
		PartFailures: map[int32]int{},
		partAttempts: map[int32]int{},
		BaseURL:      "https://media.example.com",
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *FakeStore) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasPrefix(r.URL.Path, "/objects/"):
		if f.PutStatus != 0 {
			w.WriteHeader(f.PutStatus)
			return
		}
		f.Objects[strings.TrimPrefix(r.URL.Path, "/objects/")] = body
		w.Header().Set("ETag", `"single"`)
	case strings.HasPrefix(r.URL.Path, "/parts/"):
		segs := strings.Split(strings.TrimPrefix(r.URL.Path, "/parts/"), "/")
		if len(segs) != 2 {
			http.Error(w, "bad part path", http.StatusBadRequest)
			return
		}
		upload, ok := f.uploads[segs[0]]
		if !ok {
			http.Error(w, "no such upload", http.StatusNotFound)
			return
		}
		n, _ := strconv.Atoi(segs[1])
		part := int32(n)

		f.partAttempts[part]++
		if f.partAttempts[part] <= f.PartFailures[part] {
			http.Error(w, "injected failure", http.StatusInternalServerError)
			return
		}
		upload.parts[part] = body
		w.Header().Set("ETag", fmt.Sprintf(`"etag-%d"`, part))
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeStore) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Objects[key] = data
	return nil
}

func (f *FakeStore) DeleteObject(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Objects, key)
	f.Deleted = append(f.Deleted, key)
	return nil
}

func (f *FakeStore) CreatePresignedPutURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return f.server.URL + "/objects/" + key, nil
}

func (f *FakeStore) InitiateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	if f.InitiateErr != nil {
		return "", f.InitiateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("upload-%d", len(f.uploads)+1)
	f.uploads[id] = &fakeUpload{key: key, parts: map[int32][]byte{}}
	return id, nil
}

func (f *FakeStore) CreatePresignedPartURL(ctx context.Context, uploadID, key string, partNumber int32, ttl time.Duration) (string, error) {
	return fmt.Sprintf("%s/parts/%s/%d", f.server.URL, uploadID, partNumber), nil
}

func (f *FakeStore) CompleteMultipartUpload(ctx context.Context, uploadID, key string, parts []models.Part) (string, error) {
	if f.CompleteErr != nil {
		return "", f.CompleteErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	upload, ok := f.uploads[uploadID]
	if !ok {
		return "", errors.New("no such upload")
	}
	if !sort.SliceIsSorted(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber }) {
		return "", errors.New("parts must be in ascending order")
	}

	var assembled []byte
	for _, p := range parts {
		assembled = append(assembled, upload.parts[p.PartNumber]...)
	}
	f.Objects[upload.key] = assembled
	f.Completed = append(f.Completed, append([]models.Part(nil), parts...))
	delete(f.uploads, uploadID)
	return f.PublicURL(key), nil
}

func (f *FakeStore) AbortMultipartUpload(ctx context.Context, uploadID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, uploadID)
	f.Aborted = append(f.Aborted, uploadID)
	return nil
}

func (f *FakeStore) PublicURL(key string) string {
	return strings.TrimRight(f.BaseURL, "/") + "/" + key
}

// Object returns the stored bytes for key.
func (f *FakeStore) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.Objects[key]
	return data, ok
}

// AbortCount returns how many multipart uploads were aborted.
func (f *FakeStore) AbortCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Aborted)
}

// FakeEncoder halves its input, or fails with Err.
type FakeEncoder struct {
	Err   error
	Calls int
	// Ratio is the output size as a fraction of the input; zero means one half.
	Ratio float64
	// Duration is returned by Probe.
	Duration float64
}

func (e *FakeEncoder) Encode(ctx context.Context, inputPath string) (string, error) {
	e.Calls++
	if e.Err != nil {
		return "", e.Err
	}

	info, err := os.Stat(inputPath)
	if err != nil {
		return "", err
	}
	ratio := e.Ratio
	if ratio == 0 {
		ratio = 0.5
	}

	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	out := filepath.Join(filepath.Dir(inputPath), stem+".compressed.mp4")
	if err := os.WriteFile(out, make([]byte, int64(float64(info.Size())*ratio)), 0644); err != nil {
		return "", err
	}
	return out, nil
}

func (e *FakeEncoder) Probe(ctx context.Context, path string) (float64, error) {
	return e.Duration, nil
}

// SourceServer serves fixed-size bodies at /<name>; sizes are registered before the test requests them.
type SourceServer struct {
	*httptest.Server
	mu    sync.Mutex
	sizes map[string]int64
	// Truncate makes the server declare the full length but send only half of it.
	Truncate bool
}

func NewSourceServer(t *testing.T) *SourceServer {
	t.Helper()
	s := &SourceServer{sizes: map[string]int64{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Server.Close)
	return s
}

// Add registers a body of size bytes and returns its URL.
func (s *SourceServer) Add(name string, size int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes[name] = size
	return s.URL + "/" + name
}

func (s *SourceServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	size, ok := s.sizes[strings.TrimPrefix(r.URL.Path, "/")]
	truncate := s.Truncate
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	send := size
	if truncate {
		send = size / 2
	}
	buf := make([]byte, 32*1024)
	for send > 0 {
		n := int64(len(buf))
		if n > send {
			n = send
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return
		}
		send -= n
	}
}
