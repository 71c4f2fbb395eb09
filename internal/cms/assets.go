package cms

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
)

const assetProjection = `{
	_id, _type, title, duration, migratedVideo, migratedAudio,
	"url": coalesce(file.asset->url, url),
	"size": coalesce(file.asset->size, size),
	"mimeType": coalesce(file.asset->mimeType, mimeType),
	"filename": coalesce(file.asset->originalFilename, originalFilename),
	"sourceId": file.asset._ref
}`

const (
	migratableQuery = `*[_type in ["video", "audio"] && defined(coalesce(file.asset->url, url))] | order(_createdAt asc) ` + assetProjection
	assetQuery      = `*[_id == $id] ` + assetProjection
	rawAssetsQuery  = `*[_type == "sanity.fileAsset"] | order(_createdAt asc) {_id, _type, url, size, mimeType, "filename": originalFilename}`
	referencesQuery = `*[references($id)]{
	_id,
	_type,
	"fieldRef": select(
		file.asset._ref == $id => "file",
		video.asset._ref == $id => "video",
		audio.asset._ref == $id => "audio",
		media._ref == $id => "media",
		asset._ref == $id => "asset"
	)
}`
)

// ListMigratable returns media documents that have a source URL and no migration sidecar yet.
//
// Listing is idempotent: once an asset's sidecar carries a URL it never appears again.
func ListMigratable(ctx context.Context, g Gateway) ([]models.Asset, error) {
	docs, err := g.FetchDocuments(ctx, migratableQuery, nil)
	if err != nil {
		return nil, err
	}
	return FilterPending(AssetsFromDocuments(docs)), nil
}

// ListRawAssets returns every file asset in the CMS asset store, migrated or not.
func ListRawAssets(ctx context.Context, g Gateway) ([]models.Asset, error) {
	docs, err := g.FetchDocuments(ctx, rawAssetsQuery, nil)
	if err != nil {
		return nil, err
	}
	return AssetsFromDocuments(docs), nil
}

// FetchAsset loads a single media document by id.
func FetchAsset(ctx context.Context, g Gateway, id string) (models.Asset, error) {
	docs, err := g.FetchDocuments(ctx, assetQuery, map[string]any{"id": id})
	if err != nil {
		return models.Asset{}, err
	}
	for _, doc := range docs {
		if asset, ok := AssetFromDocument(doc); ok {
			return asset, nil
		}
	}
	return models.Asset{}, fmt.Errorf("%w: asset %s", shared.ErrNotFound, id)
}

// FilterPending drops assets whose sidecar already has a destination URL.
func FilterPending(assets []models.Asset) []models.Asset {
	pending := make([]models.Asset, 0, len(assets))
	for _, a := range assets {
		if !a.Migrated() {
			pending = append(pending, a)
		}
	}
	return pending
}

// AssetsFromDocuments maps query rows to assets, skipping rows without an id or source URL.
func AssetsFromDocuments(docs []models.Document) []models.Asset {
	assets := make([]models.Asset, 0, len(docs))
	for _, doc := range docs {
		if asset, ok := AssetFromDocument(doc); ok {
			assets = append(assets, asset)
		}
	}
	return assets
}

// AssetFromDocument maps one projected document to an [models.Asset].
func AssetFromDocument(doc models.Document) (models.Asset, bool) {
	asset := models.Asset{
		ID:       stringField(doc, "_id"),
		DocType:  stringField(doc, "_type"),
		Title:    stringField(doc, "title"),
		URL:      stringField(doc, "url"),
		Size:     int64(numberField(doc, "size")),
		MimeType: stringField(doc, "mimeType"),
		Filename: stringField(doc, "filename"),
		Duration: numberField(doc, "duration"),
		SourceID: stringField(doc, "sourceId"),
	}
	if asset.ID == "" || asset.URL == "" {
		return models.Asset{}, false
	}

	asset.Kind = kindOf(asset.DocType, asset.MimeType)
	if asset.Filename == "" {
		asset.Filename = path.Base(strings.SplitN(asset.URL, "?", 2)[0])
	}
	if asset.Title == "" {
		asset.Title = asset.Filename
	}
	asset.Sidecar = sidecarField(doc, asset.Kind.SidecarField())

	return asset, true
}

// SidecarFor builds the sidecar patched onto asset after its bytes land at url.
func SidecarFor(asset models.Asset, url, filename string, size int64, mimeType string) models.Sidecar {
	sidecar := models.Sidecar{
		URL:      url,
		Filename: filename,
		Size:     size,
		MimeType: mimeType,
	}
	if asset.Kind == models.KindAudio {
		sidecar.Duration = asset.Duration
	}
	return sidecar
}

func kindOf(docType, mimeType string) models.Kind {
	switch {
	case docType == string(models.KindAudio), strings.HasPrefix(mimeType, "audio/"):
		return models.KindAudio
	default:
		return models.KindVideo
	}
}

func sidecarField(doc models.Document, field string) *models.Sidecar {
	raw, ok := doc[field].(map[string]any)
	if !ok {
		return nil
	}
	return &models.Sidecar{
		URL:      stringField(raw, "url"),
		Filename: stringField(raw, "filename"),
		Size:     int64(numberField(raw, "size")),
		MimeType: stringField(raw, "mimeType"),
		Duration: numberField(raw, "duration"),
	}
}

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func numberField(doc map[string]any, key string) float64 {
	switch v := doc[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
