package fileext

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := map[string]Extension{
		"Skyrim.esm":        Esm,
		"SKYRIM.ESM":        Esm,
		"MyMod.esl":         Esl,
		"MyMod.esp":         Unrecognised,
		"MyMod.ESP":         Unrecognised,
		"Update.esm.ghost":  Esm,
		"MyMod.esl.ghost":   Esl,
		"readme.txt.ghost":  Ghost,
		"noextension.ghost": Ghost,
		"nothing":           Unrecognised,
	}
	for path, want := range cases {
		require.Equal(t, want, Classify(path), "path=%s", path)
	}
}

func TestExtensionString(t *testing.T) {
	require.Equal(t, "Esm", Esm.String())
	require.Equal(t, "Esl", Esl.String())
	require.Equal(t, "Ghost", Ghost.String())
	require.Equal(t, "Unrecognised", Unrecognised.String())
}
