package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
)

var (
	_ list.Item = assetItem{}
)

// assetItem wraps [models.Asset] to implement [list.Item].
type assetItem struct {
	asset models.Asset
}

func (i assetItem) FilterValue() string { return i.asset.Title + " " + i.asset.ID }
func (i assetItem) Title() string {
	if i.asset.Title == "" {
		return i.asset.ID
	}
	return i.asset.Title
}
func (i assetItem) Description() string {
	desc := fmt.Sprintf("%s • %s", i.asset.Kind, shared.FormatBytes(i.asset.Size))
	if i.asset.Filename != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.asset.Filename)
	}
	return desc
}
