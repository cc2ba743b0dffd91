// Package recordid implements the record-identity model: the types and
// resolution algebra that turn a plugin's local, load-order-relative form
// ids (or, for Morrowind, editor-id strings) into identities that compare
// equal across plugins regardless of which plugin's master list produced
// them.
package recordid

import (
	"sort"

	"github.com/bgrewell/esm-kit/pkg/esmerrors"
	"github.com/bgrewell/esm-kit/pkg/game"
	"golang.org/x/text/cases"
)

var foldCaser = cases.Fold()

// Fold applies Unicode simple case folding, the comparison every
// plugin-name and editor-id equality in this package uses. It is not
// ASCII lower-casing: filenames and editor ids in the wild contain
// non-ASCII characters.
func Fold(s string) string {
	return foldCaser.String(s)
}

// ObjectIndexMask selects the low bits of a raw 32-bit form id that encode
// the object index; the remaining high bits are the mod index.
type ObjectIndexMask uint32

const (
	Full   ObjectIndexMask = 0x00FF_FFFF
	Medium ObjectIndexMask = 0x0000_FFFF
	Small  ObjectIndexMask = 0x0000_0FFF
)

// PluginScale is the three-way scale Starfield introduces; every other
// supported game is always Full.
type PluginScale int

const (
	ScaleFull PluginScale = iota
	ScaleMedium
	ScaleSmall
)

func (s PluginScale) String() string {
	switch s {
	case ScaleFull:
		return "Full"
	case ScaleMedium:
		return "Medium"
	case ScaleSmall:
		return "Small"
	default:
		return "Unknown"
	}
}

// ObjectIndexMask returns the mask a plugin of this scale uses to split its
// own form ids into (mod index, object index).
func (s PluginScale) ObjectIndexMask() ObjectIndexMask {
	switch s {
	case ScaleMedium:
		return Medium
	case ScaleSmall:
		return Small
	default:
		return Full
	}
}

// SourcePlugin represents either the parent plugin itself (ModIndexMask
// zero, built by Parent) or one of its masters (built by Master or
// BuildMasterTable). Name comparisons are case-insensitive (Unicode simple
// case folding); NameFolded carries the already-folded form.
type SourcePlugin struct {
	Name            string
	NameFolded      string
	ModIndexMask    uint32
	ObjectIndexMask ObjectIndexMask
}

// Parent builds the SourcePlugin representing a plugin's view of itself:
// new records it defines have mod index zero relative to its own form ids.
func Parent(name string, scale PluginScale) SourcePlugin {
	return SourcePlugin{
		Name:            name,
		NameFolded:      Fold(name),
		ModIndexMask:    0,
		ObjectIndexMask: scale.ObjectIndexMask(),
	}
}

// Master builds the SourcePlugin representing one entry of a plugin's
// master list, at the given mod-index mask and object-index mask.
func Master(name string, modIndexMask uint32, objectIndexMask ObjectIndexMask) SourcePlugin {
	return SourcePlugin{
		Name:            name,
		NameFolded:      Fold(name),
		ModIndexMask:    modIndexMask,
		ObjectIndexMask: objectIndexMask,
	}
}

// MasterScale describes one master in a plugin's master list, as needed to
// lay out the Starfield mod-index space (§4.5). Non-Starfield games ignore
// Scale (every master is treated as Full).
type MasterScale struct {
	Name  string
	Scale PluginScale
}

// BuildMasterTable assigns each master in list order a mod-index mask,
// following the layout rules of spec §4.5: non-Starfield games number
// masters sequentially at (i << 24), silently skipping any master beyond
// index 255; Starfield lays out three parallel counters, one per scale,
// keyed off each master's own scale.
func BuildMasterTable(g game.ID, masters []MasterScale) []SourcePlugin {
	if !g.SupportsMediumPlugins() {
		table := make([]SourcePlugin, 0, len(masters))
		for i, m := range masters {
			if i > 255 {
				// Mod index beyond 255 has no representable mask in an
				// 8-bit mod-index space; skip rather than error, per §9.
				continue
			}
			table = append(table, Master(m.Name, uint32(i)<<24, Full))
		}
		return table
	}

	var full, medium, small uint32 = 0x0000_0000, 0xFD00_0000, 0xFE00_0000
	table := make([]SourcePlugin, 0, len(masters))
	for _, m := range masters {
		switch m.Scale {
		case ScaleMedium:
			table = append(table, Master(m.Name, medium, Medium))
			medium += 0x0001_0000
		case ScaleSmall:
			table = append(table, Master(m.Name, small, Small))
			small += 0x0000_1000
		default:
			table = append(table, Master(m.Name, full, Full))
			full += 0x0100_0000
		}
	}
	return table
}

// NamespacedId is Morrowind's record identity: a record-type tag plus a
// case-folded editor id. The id is folded at construction time, so
// equality and ordering are plain value comparisons.
type NamespacedId struct {
	RecordTag          [4]byte
	EditorIdLowercased string
}

// NewNamespacedId folds editorID with Fold and returns the resulting id.
func NewNamespacedId(recordTag [4]byte, editorID string) NamespacedId {
	return NamespacedId{RecordTag: recordTag, EditorIdLowercased: Fold(editorID)}
}

func (n NamespacedId) Less(other NamespacedId) bool {
	if n.RecordTag != other.RecordTag {
		return string(n.RecordTag[:]) < string(other.RecordTag[:])
	}
	return n.EditorIdLowercased < other.EditorIdLowercased
}

// SortNamespaced sorts a slice of NamespacedId ascending in place.
func SortNamespaced(ids []NamespacedId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

// RecordIdKind discriminates the two shapes of RecordId.
type RecordIdKind int

const (
	FormIdKind RecordIdKind = iota
	NamespacedIdKind
)

// RecordId is the tagged union of a raw 32-bit form id (every supported
// game but Morrowind) and a NamespacedId (Morrowind only).
type RecordId struct {
	Kind       RecordIdKind
	FormID     uint32
	Namespaced NamespacedId
}

func NewFormIdRecordId(formID uint32) RecordId {
	return RecordId{Kind: FormIdKind, FormID: formID}
}

func NewNamespacedRecordId(id NamespacedId) RecordId {
	return RecordId{Kind: NamespacedIdKind, Namespaced: id}
}

// ResolvedRecordId is the comparable, sortable record identity produced by
// resolution. Equality ignores IsOverride: two plugins that both override
// the same master record compare equal.
type ResolvedRecordId struct {
	SourceNameFolded string
	ObjectIndex      uint32
	Namespaced       NamespacedId
	IsOverride       bool
	isNamespaced     bool
}

// IsNamespaced reports whether this identity was produced from a Morrowind
// NamespacedId (in which case ObjectIndex is meaningless and Namespaced
// carries the identity) rather than a numeric form id.
func (r ResolvedRecordId) IsNamespaced() bool {
	return r.isNamespaced
}

// Less implements the total ordering of spec §4.5: by
// (source-plugin-name-folded, object-index).
func (r ResolvedRecordId) Less(other ResolvedRecordId) bool {
	if r.SourceNameFolded != other.SourceNameFolded {
		return r.SourceNameFolded < other.SourceNameFolded
	}
	if r.isNamespaced != other.isNamespaced {
		return r.isNamespaced && !other.isNamespaced
	}
	if r.isNamespaced {
		return r.Namespaced.Less(other.Namespaced)
	}
	return r.ObjectIndex < other.ObjectIndex
}

// Equal compares identity only, ignoring IsOverride.
func (r ResolvedRecordId) Equal(other ResolvedRecordId) bool {
	if r.SourceNameFolded != other.SourceNameFolded || r.isNamespaced != other.isNamespaced {
		return false
	}
	if r.isNamespaced {
		return r.Namespaced == other.Namespaced
	}
	return r.ObjectIndex == other.ObjectIndex
}

// FromFormID resolves a raw form id against parent's own object-index mask
// and the given master table, per spec §4.5.
func FromFormID(parent SourcePlugin, masters []SourcePlugin, raw uint32) ResolvedRecordId {
	mask := uint32(parent.ObjectIndexMask)
	modIndex := raw &^ mask

	for _, master := range masters {
		if modIndex == master.ModIndexMask {
			return ResolvedRecordId{
				SourceNameFolded: master.NameFolded,
				ObjectIndex:      raw & uint32(master.ObjectIndexMask),
				IsOverride:       true,
			}
		}
	}

	return ResolvedRecordId{
		SourceNameFolded: parent.NameFolded,
		ObjectIndex:      raw & mask,
		IsOverride:       false,
	}
}

// FromNamespacedID resolves a Morrowind NamespacedId against a lookup of
// every master's own namespaced ids to the folded name of the master that
// defines it.
func FromNamespacedID(parentNameFolded string, id NamespacedId, masterIDSet map[NamespacedId]string) ResolvedRecordId {
	if masterName, found := masterIDSet[id]; found {
		return ResolvedRecordId{
			SourceNameFolded: masterName,
			Namespaced:       id,
			IsOverride:       true,
			isNamespaced:     true,
		}
	}
	return ResolvedRecordId{
		SourceNameFolded: parentNameFolded,
		Namespaced:       id,
		IsOverride:       false,
		isNamespaced:     true,
	}
}

// SortResolved sorts a slice of ResolvedRecordId ascending in place, per
// the ordering Less defines. Overlap queries depend on this order.
func SortResolved(ids []ResolvedRecordId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

// BuildMasterIDSet unions every master's namespaced ids into a lookup from
// id to the folded name of the (first) master that defines it, for use
// with FromNamespacedID.
func BuildMasterIDSet(masters []MasterMetadata) map[NamespacedId]string {
	set := make(map[NamespacedId]string)
	for _, m := range masters {
		folded := Fold(m.Name)
		for _, id := range m.NamespacedIds {
			if _, exists := set[id]; !exists {
				set[id] = folded
			}
		}
	}
	return set
}

// MasterMetadata is the minimal view of a master plugin FromNamespacedID
// resolution needs: its name and its own namespaced record ids.
type MasterMetadata struct {
	Name          string
	NamespacedIds []NamespacedId
}

// RequireAllMastersPresent checks that metadata was supplied for every
// named master, returning PluginMetadataNotFoundError for the first one
// missing (matched case-insensitively).
func RequireAllMastersPresent(masterNames []string, available map[string]struct{}) error {
	for _, name := range masterNames {
		if _, ok := available[Fold(name)]; !ok {
			return &esmerrors.PluginMetadataNotFoundError{Name: name}
		}
	}
	return nil
}
