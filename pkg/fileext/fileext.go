// Package fileext classifies a plugin path by its file extension, the way
// the game's own loader does: a trailing ".ghost" is transparent, so
// "Update.esm.ghost" classifies exactly as "Update.esm" would.
package fileext

import (
	"path/filepath"
	"strings"
)

// Extension is the classified extension of a plugin path.
type Extension int

const (
	Unrecognised Extension = iota
	Esm
	Esl
	Ghost
)

// Classify peels a trailing ".ghost" extension and classifies the
// extension underneath it; ".ghost" alone (no recognised extension
// beneath it) classifies as Ghost so callers can still tell the file was
// disabled via ghosting.
func Classify(path string) Extension {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ghost" {
		return classifyExt(ext)
	}

	under := classifyExt(strings.ToLower(filepath.Ext(strings.TrimSuffix(path, filepath.Ext(path)))))
	if under == Unrecognised {
		return Ghost
	}
	return under
}

func classifyExt(ext string) Extension {
	switch ext {
	case ".esm":
		return Esm
	case ".esl":
		return Esl
	default:
		return Unrecognised
	}
}

func (e Extension) String() string {
	switch e {
	case Esm:
		return "Esm"
	case Esl:
		return "Esl"
	case Ghost:
		return "Ghost"
	default:
		return "Unrecognised"
	}
}
