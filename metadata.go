package esmkit

import (
	"github.com/bgrewell/esm-kit/pkg/game"
	"github.com/bgrewell/esm-kit/pkg/recordid"
)

// PluginMetadata is the view of a parsed plugin its dependents need to
// resolve their own record ids: its filename, scale, and (for Morrowind)
// its own namespaced ids.
type PluginMetadata struct {
	Filename  string
	Scale     recordid.PluginScale
	RecordIds []recordid.NamespacedId
}

// PluginsMetadata projects a slice of parsed plugins into the
// PluginMetadata each needs to seed Starfield/Morrowind resolution.
// RecordIds is populated only for Morrowind plugins whose ids are still in
// the raw NamespacedIds state; every other plugin gets an empty slice.
// Fails with a NoFilenameError naming the first plugin whose Path has no
// final path component.
func PluginsMetadata(plugins []*Plugin) ([]PluginMetadata, error) {
	result := make([]PluginMetadata, 0, len(plugins))
	for _, p := range plugins {
		name, err := filenameOf(p.Path)
		if err != nil {
			return nil, err
		}
		meta := PluginMetadata{
			Filename: name,
			Scale:    p.Scale(),
		}
		if p.Game == game.Morrowind && p.ids.kind == idsNamespacedIds {
			meta.RecordIds = p.ids.namespacedIds
		}
		result = append(result, meta)
	}
	return result, nil
}
