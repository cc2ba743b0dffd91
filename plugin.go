// Package esmkit parses Bethesda game plugin files (.esm/.esp/.esl) across
// Morrowind through Starfield and resolves each record's per-plugin
// identifier into an identity comparable across a load order.
package esmkit

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/bgrewell/esm-kit/internal/byteio"
	"github.com/bgrewell/esm-kit/pkg/esmerrors"
	"github.com/bgrewell/esm-kit/pkg/fileext"
	"github.com/bgrewell/esm-kit/pkg/game"
	"github.com/bgrewell/esm-kit/pkg/group"
	"github.com/bgrewell/esm-kit/pkg/logging"
	"github.com/bgrewell/esm-kit/pkg/record"
	"github.com/bgrewell/esm-kit/pkg/recordid"
	"github.com/bgrewell/esm-kit/pkg/subrecord"
	"github.com/go-logr/logr"
)

var (
	hedrTag = [4]byte{'H', 'E', 'D', 'R'}
	mastTag = [4]byte{'M', 'A', 'S', 'T'}
	snamTag = [4]byte{'S', 'N', 'A', 'M'}
)

// Header flag bits (spec §6).
const (
	masterFlag         uint32 = 0x0001
	starfieldLightFlag uint32 = 0x0100
	// lightOrUpdateFlag means "light" on Fallout4/SkyrimSE and "update" on Starfield.
	lightOrUpdateFlag uint32 = 0x0200
	mediumFlag        uint32 = 0x0400 // Starfield only
	blueprintFlag     uint32 = 0x0800 // Starfield only
)

// recordIdsKind discriminates the four progression states of a plugin's
// record ids: None -> (FormIds|NamespacedIds) -> Resolved. The states are
// kept as distinct variants rather than behind a uniform interface, since
// the distinction is load-bearing for UnresolvedRecordIds safety.
type recordIdsKind int

const (
	idsNone recordIdsKind = iota
	idsFormIds
	idsNamespacedIds
	idsResolved
)

type recordIdsState struct {
	kind          recordIdsKind
	formIds       []uint32
	namespacedIds []recordid.NamespacedId
	resolved      []recordid.ResolvedRecordId
}

// Option configures a Plugin at construction time.
type Option func(*Plugin)

// WithLogger attaches a logr.Logger to a Plugin; the default is
// logr.Discard().
func WithLogger(logger logr.Logger) Option {
	return func(p *Plugin) {
		p.logger = logger
	}
}

// ParseOptions controls how much of a plugin ParseReader/ParseFile reads.
type ParseOptions struct {
	// HeaderOnly stops after the header record, leaving record ids at None.
	HeaderOnly bool
}

// Plugin is a game-aware driver over a single .esm/.esp/.esl file. It is
// mutated only by ParseReader/ParseFile and ResolveRecordIds, and is never
// shared mutably.
type Plugin struct {
	Game game.ID
	Path string

	header record.Record
	ids    recordIdsState

	logger logr.Logger
}

// New constructs a Plugin for the given game and path. It performs no I/O.
func New(g game.ID, path string, opts ...Option) *Plugin {
	p := &Plugin{Game: g, Path: path, logger: logr.Discard()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseFile opens Path and parses it; the file is closed on return whether
// parsing succeeds or fails.
func (p *Plugin) ParseFile(opts ParseOptions) error {
	f, err := os.Open(p.Path)
	if err != nil {
		return &esmerrors.IoError{Err: err}
	}
	defer f.Close()
	return p.ParseReader(f, opts)
}

// ParseReader parses a plugin from r. A failed parse leaves the Plugin's
// data at its default state rather than returning a partial result.
func (p *Plugin) ParseReader(r io.Reader, opts ParseOptions) error {
	h, err := record.Read(r, p.Game, p.Game.HeaderTag())
	if err != nil {
		p.header = record.Record{}
		p.ids = recordIdsState{}
		return err
	}

	p.header = h
	p.ids = recordIdsState{}
	p.logger.V(logging.LEVEL_DEBUG).Info("parsed header record", "game", p.Game, "path", p.Path)

	if opts.HeaderOnly {
		return nil
	}

	if !p.Game.UsesGroups() {
		ids, err := readMorrowindIds(r)
		if err != nil {
			p.header = record.Record{}
			p.ids = recordIdsState{}
			return err
		}
		recordid.SortNamespaced(ids)
		p.ids = recordIdsState{kind: idsNamespacedIds, namespacedIds: ids}
		p.logger.V(logging.LEVEL_TRACE).Info("collected namespaced record ids", "count", len(ids))
		return nil
	}

	ids, err := readFormIds(r, p.Game)
	if err != nil {
		p.header = record.Record{}
		p.ids = recordIdsState{}
		return err
	}
	p.ids = recordIdsState{kind: idsFormIds, formIds: ids}
	p.logger.V(logging.LEVEL_TRACE).Info("collected form ids", "count", len(ids))

	if p.Game == game.Starfield {
		// Starfield resolution needs external master metadata; deferred.
		return nil
	}

	if err := p.ResolveRecordIds(nil); err != nil {
		p.header = record.Record{}
		p.ids = recordIdsState{}
		return err
	}
	return nil
}

func readMorrowindIds(r io.Reader) ([]recordid.NamespacedId, error) {
	var ids []recordid.NamespacedId
	for {
		var tagBuf [4]byte
		n, err := io.ReadFull(r, tagBuf[:])
		if n == 0 && errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return nil, esmerrors.NewParsingError(esmerrors.UnexpectedEndOfStream, "truncated record tag", tagBuf[:n])
		}
		_, id, err := record.ReadRecordID(r, game.Morrowind, tagBuf, true)
		if err != nil {
			return nil, err
		}
		if id != nil {
			ids = append(ids, id.Namespaced)
		}
	}
}

func readFormIds(r io.Reader, g game.ID) ([]uint32, error) {
	entries, err := group.ReadFormIDs(r, g)
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, 0, len(entries))
	for _, e := range entries {
		if e.ID != nil {
			ids = append(ids, e.ID.FormID)
		}
	}
	return ids, nil
}

// ResolveRecordIds moves FormIds/NamespacedIds to Resolved using
// othersMetadata for master lookups. It is idempotent: None and Resolved
// are left unchanged.
func (p *Plugin) ResolveRecordIds(othersMetadata []PluginMetadata) error {
	switch p.ids.kind {
	case idsNone, idsResolved:
		return nil
	case idsFormIds:
		return p.resolveFormIds(othersMetadata)
	case idsNamespacedIds:
		return p.resolveNamespacedIds(othersMetadata)
	}
	return nil
}

func (p *Plugin) resolveFormIds(othersMetadata []PluginMetadata) error {
	masterNames, err := p.Masters()
	if err != nil {
		return err
	}

	if p.Game == game.Starfield {
		available := make(map[string]struct{}, len(othersMetadata))
		for _, m := range othersMetadata {
			available[recordid.Fold(m.Filename)] = struct{}{}
		}
		if err := recordid.RequireAllMastersPresent(masterNames, available); err != nil {
			return err
		}
	}

	scales := make([]recordid.MasterScale, len(masterNames))
	for i, name := range masterNames {
		scale := recordid.ScaleFull
		if p.Game == game.Starfield {
			scale = scaleForMaster(name, othersMetadata)
		}
		scales[i] = recordid.MasterScale{Name: name, Scale: scale}
	}
	masters := recordid.BuildMasterTable(p.Game, scales)

	// The parent's object-index mask follows its own scale only on
	// Starfield; every other game always splits form ids at Full (§4.5).
	parentScale := recordid.ScaleFull
	if p.Game == game.Starfield {
		parentScale = p.Scale()
	}
	name, err := filenameOf(p.Path)
	if err != nil {
		return err
	}
	parent := recordid.Parent(recordid.Fold(name), parentScale)

	resolved := make([]recordid.ResolvedRecordId, 0, len(p.ids.formIds))
	for _, raw := range p.ids.formIds {
		resolved = append(resolved, recordid.FromFormID(parent, masters, raw))
	}
	recordid.SortResolved(resolved)

	p.logger.V(logging.LEVEL_DEBUG).Info("resolved form ids", "path", p.Path, "count", len(resolved))
	p.ids = recordIdsState{kind: idsResolved, resolved: resolved}
	return nil
}

func (p *Plugin) resolveNamespacedIds(othersMetadata []PluginMetadata) error {
	masterMeta := make([]recordid.MasterMetadata, 0, len(othersMetadata))
	for _, m := range othersMetadata {
		masterMeta = append(masterMeta, recordid.MasterMetadata{Name: m.Filename, NamespacedIds: m.RecordIds})
	}

	masterNames, err := p.Masters()
	if err != nil {
		return err
	}
	available := make(map[string]struct{}, len(masterMeta))
	for _, m := range masterMeta {
		available[recordid.Fold(m.Name)] = struct{}{}
	}
	if err := recordid.RequireAllMastersPresent(masterNames, available); err != nil {
		return err
	}

	set := recordid.BuildMasterIDSet(masterMeta)
	name, err := filenameOf(p.Path)
	if err != nil {
		return err
	}
	parentName := recordid.Fold(name)

	resolved := make([]recordid.ResolvedRecordId, 0, len(p.ids.namespacedIds))
	for _, id := range p.ids.namespacedIds {
		resolved = append(resolved, recordid.FromNamespacedID(parentName, id, set))
	}
	recordid.SortResolved(resolved)

	p.logger.V(logging.LEVEL_DEBUG).Info("resolved namespaced ids", "path", p.Path, "count", len(resolved))
	p.ids = recordIdsState{kind: idsResolved, resolved: resolved}
	return nil
}

// filenameOf returns the final path component of path, or a NoFilenameError
// if path has none (e.g. "", "/", "..").
func filenameOf(path string) (string, error) {
	base := filepath.Base(path)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", &esmerrors.NoFilenameError{Path: path}
	}
	return base, nil
}

func scaleForMaster(name string, others []PluginMetadata) recordid.PluginScale {
	folded := recordid.Fold(name)
	for _, m := range others {
		if recordid.Fold(m.Filename) == folded {
			return m.Scale
		}
	}
	return recordid.ScaleFull
}

// Masters decodes every MAST subrecord in the header.
func (p *Plugin) Masters() ([]string, error) {
	var masters []string
	for _, s := range p.header.Subrecords {
		if s.Tag != mastTag {
			continue
		}
		name, err := byteio.DecodeWindows1252(byteio.UntilFirstNull(s.Data))
		if err != nil {
			return nil, err
		}
		masters = append(masters, name)
	}
	return masters, nil
}

// Description reads SNAM (or, on Morrowind, HEDR[40:]).
func (p *Plugin) Description() (string, error) {
	if p.Game == game.Morrowind {
		hedr, ok := subrecord.Find(p.header.Subrecords, hedrTag)
		if !ok {
			return "", nil
		}
		if len(hedr.Data) < 40 {
			return "", esmerrors.NewParsingError(esmerrors.SubrecordDataTooShort, "HEDR shorter than description offset", hedr.Data)
		}
		return byteio.DecodeWindows1252(byteio.UntilFirstNull(hedr.Data[40:]))
	}

	snam, ok := subrecord.Find(p.header.Subrecords, snamTag)
	if !ok {
		return "", nil
	}
	return byteio.DecodeWindows1252(byteio.UntilFirstNull(snam.Data))
}

// HeaderVersion returns the first 4 bytes of HEDR as a little-endian
// float32, or nil if HEDR is absent or too short.
func (p *Plugin) HeaderVersion() *float32 {
	hedr, ok := subrecord.Find(p.header.Subrecords, hedrTag)
	if !ok || len(hedr.Data) < 4 {
		return nil
	}
	v := byteio.ReadFloat32LE(hedr.Data[0:4])
	return &v
}

// RecordAndGroupCount returns the 32-bit integer at HEDR offset 4 (296 on
// Morrowind), or nil if HEDR is absent or too short.
func (p *Plugin) RecordAndGroupCount() *uint32 {
	hedr, ok := subrecord.Find(p.header.Subrecords, hedrTag)
	if !ok {
		return nil
	}
	offset := 4
	if p.Game == game.Morrowind {
		offset = 296
	}
	if len(hedr.Data) < offset+4 {
		return nil
	}
	v := byteio.ReadUint32LE(hedr.Data[offset : offset+4])
	return &v
}

// IsMasterFile reports whether this plugin is treated as a master.
func (p *Plugin) IsMasterFile() bool {
	switch p.Game {
	case game.Fallout4, game.SkyrimSE, game.Starfield:
		ext := fileext.Classify(p.Path)
		return p.header.Flags&masterFlag != 0 || ext == fileext.Esm || ext == fileext.Esl
	case game.Morrowind:
		hedr, ok := subrecord.Find(p.header.Subrecords, hedrTag)
		if !ok || len(hedr.Data) < 5 {
			return false
		}
		return hedr.Data[4]&0x01 != 0
	default:
		return p.header.Flags&masterFlag != 0
	}
}

// IsLightPlugin reports whether this plugin is a light (.esl-scale) plugin.
func (p *Plugin) IsLightPlugin() bool {
	switch p.Game {
	case game.Starfield:
		if p.header.Flags&starfieldLightFlag != 0 {
			return true
		}
		if fileext.Classify(p.Path) == fileext.Esl && p.header.Flags&lightOrUpdateFlag == 0 {
			return true
		}
		return false
	case game.Fallout4, game.SkyrimSE:
		if p.header.Flags&lightOrUpdateFlag != 0 {
			return true
		}
		return fileext.Classify(p.Path) == fileext.Esl
	default:
		return false
	}
}

// IsMediumPlugin reports whether this plugin is a medium-scale plugin.
// Only Starfield recognizes this scale.
func (p *Plugin) IsMediumPlugin() bool {
	if p.Game != game.Starfield {
		return false
	}
	return p.header.Flags&mediumFlag != 0 && !p.IsLightPlugin()
}

// IsUpdatePlugin reports whether this plugin is a Starfield update plugin:
// the update flag is set, light and medium are both clear, and it has at
// least one master.
func (p *Plugin) IsUpdatePlugin() (bool, error) {
	if p.Game != game.Starfield {
		return false, nil
	}
	if p.header.Flags&starfieldLightFlag != 0 || p.header.Flags&mediumFlag != 0 {
		return false, nil
	}
	if p.header.Flags&lightOrUpdateFlag == 0 {
		return false, nil
	}
	masters, err := p.Masters()
	if err != nil {
		return false, err
	}
	return len(masters) > 0, nil
}

// IsBlueprintPlugin reports the Starfield blueprint flag.
func (p *Plugin) IsBlueprintPlugin() bool {
	return p.Game == game.Starfield && p.header.Flags&blueprintFlag != 0
}

// Scale derives this plugin's own PluginScale from its flags/extension.
func (p *Plugin) Scale() recordid.PluginScale {
	if p.IsLightPlugin() {
		return recordid.ScaleSmall
	}
	if p.IsMediumPlugin() {
		return recordid.ScaleMedium
	}
	return recordid.ScaleFull
}

// CountOverrideRecords counts resolved entries marked as overrides.
// Requires resolved ids; None counts as zero.
func (p *Plugin) CountOverrideRecords() (int, error) {
	switch p.ids.kind {
	case idsNone:
		return 0, nil
	case idsFormIds, idsNamespacedIds:
		return 0, &esmerrors.UnresolvedRecordIdsError{Path: p.Path}
	}
	count := 0
	for _, r := range p.ids.resolved {
		if r.IsOverride {
			count++
		}
	}
	return count, nil
}

// CountNamespacedRecords counts resolved entries identified by Morrowind's
// editor-id namespace rather than a numeric form id. Requires resolved ids;
// None counts as zero.
func (p *Plugin) CountNamespacedRecords() (int, error) {
	switch p.ids.kind {
	case idsNone:
		return 0, nil
	case idsFormIds, idsNamespacedIds:
		return 0, &esmerrors.UnresolvedRecordIdsError{Path: p.Path}
	}
	count := 0
	for _, r := range p.ids.resolved {
		if r.IsNamespaced() {
			count++
		}
	}
	return count, nil
}

// OverlapsWith reports whether this plugin and other share any record
// identity. Both sides must be resolved, or both must still be raw
// Morrowind namespaced ids (comparable without master metadata); any other
// pairing returns false, except an unresolved FormIds side, which errors.
func (p *Plugin) OverlapsWith(other *Plugin) (bool, error) {
	if p.ids.kind == idsResolved && other.ids.kind == idsResolved {
		return mergeOverlapResolved(p.ids.resolved, other.ids.resolved), nil
	}
	if p.ids.kind == idsNamespacedIds && other.ids.kind == idsNamespacedIds {
		return mergeOverlapNamespaced(p.ids.namespacedIds, other.ids.namespacedIds), nil
	}
	if p.ids.kind == idsFormIds {
		return false, &esmerrors.UnresolvedRecordIdsError{Path: p.Path}
	}
	if other.ids.kind == idsFormIds {
		return false, &esmerrors.UnresolvedRecordIdsError{Path: other.Path}
	}
	return false, nil
}

func mergeOverlapResolved(a, b []recordid.ResolvedRecordId) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Equal(b[j]):
			return true
		case a[i].Less(b[j]):
			i++
		default:
			j++
		}
	}
	return false
}

func mergeOverlapNamespaced(a, b []recordid.NamespacedId) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			return true
		case a[i].Less(b[j]):
			i++
		default:
			j++
		}
	}
	return false
}

// OverlapSize returns, for each of this plugin's resolved ids, the count
// present in at least one of others (each id contributing at most once).
// Both this plugin and every entry of others must be resolved.
func (p *Plugin) OverlapSize(others []*Plugin) (int, error) {
	if p.ids.kind != idsResolved {
		return 0, &esmerrors.UnresolvedRecordIdsError{Path: p.Path}
	}
	for _, o := range others {
		if o.ids.kind != idsResolved {
			return 0, &esmerrors.UnresolvedRecordIdsError{Path: o.Path}
		}
	}

	count := 0
	for _, id := range p.ids.resolved {
		for _, o := range others {
			if containsResolved(o.ids.resolved, id) {
				count++
				break
			}
		}
	}
	return count, nil
}

func containsResolved(sorted []recordid.ResolvedRecordId, target recordid.ResolvedRecordId) bool {
	lo, hi := 0, len(sorted)
	for lo < hi {
		mid := (lo + hi) / 2
		if sorted[mid].Less(target) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(sorted) && sorted[lo].Equal(target)
}

// validLightRange returns the inclusive [lo, hi] object-index range a
// non-override record must fall within to keep this plugin valid as a
// light plugin, per spec §4.6.
func (p *Plugin) validLightRange() (lo, hi uint32) {
	v := p.HeaderVersion()
	switch p.Game {
	case game.SkyrimSE:
		if v == nil {
			return 0, 0
		}
		if *v >= 1.71 {
			return 0x000, 0xFFF
		}
		return 0x800, 0xFFF
	case game.Fallout4:
		if v == nil {
			return 0, 0
		}
		if *v >= 1.0 {
			return 0x001, 0xFFF
		}
		return 0x800, 0xFFF
	case game.Starfield:
		return 0x000, 0xFFF
	default:
		return 0, 0
	}
}

func (p *Plugin) validMediumRange() (lo, hi uint32) {
	if p.Game == game.Starfield {
		return 0x0000, 0xFFFF
	}
	return 0, 0
}

// IsValidAsLightPlugin reports whether every non-override resolved record
// has an object index within the light-plugin range for this game/version.
// Games that don't recognize the light scale are never valid as one.
func (p *Plugin) IsValidAsLightPlugin() (bool, error) {
	if !p.Game.SupportsLightPlugins() {
		return false, nil
	}
	return p.isValidWithinRange(p.validLightRange)
}

// IsValidAsMediumPlugin is the medium-plugin analogue of
// IsValidAsLightPlugin; only Starfield recognizes the medium scale.
func (p *Plugin) IsValidAsMediumPlugin() (bool, error) {
	if !p.Game.SupportsMediumPlugins() {
		return false, nil
	}
	return p.isValidWithinRange(p.validMediumRange)
}

func (p *Plugin) isValidWithinRange(rangeFn func() (lo, hi uint32)) (bool, error) {
	if p.ids.kind == idsNone {
		return true, nil
	}
	if p.ids.kind != idsResolved {
		return false, &esmerrors.UnresolvedRecordIdsError{Path: p.Path}
	}
	lo, hi := rangeFn()
	for _, r := range p.ids.resolved {
		if r.IsOverride {
			continue
		}
		if r.ObjectIndex < lo || r.ObjectIndex > hi {
			return false, nil
		}
	}
	return true, nil
}

// IsValidAsUpdatePlugin reports whether every resolved record is an
// override (no new records). Starfield only.
func (p *Plugin) IsValidAsUpdatePlugin() (bool, error) {
	if p.Game != game.Starfield {
		return false, nil
	}
	if p.ids.kind == idsNone {
		return true, nil
	}
	if p.ids.kind != idsResolved {
		return false, &esmerrors.UnresolvedRecordIdsError{Path: p.Path}
	}
	for _, r := range p.ids.resolved {
		if !r.IsOverride {
			return false, nil
		}
	}
	return true, nil
}
