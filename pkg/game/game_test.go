package game

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderTag(t *testing.T) {
	require.Equal(t, [4]byte{'T', 'E', 'S', '3'}, Morrowind.HeaderTag())
	for _, g := range []ID{Oblivion, Fallout3, FalloutNV, Fallout4, Skyrim, SkyrimSE, Starfield} {
		require.Equal(t, [4]byte{'T', 'E', 'S', '4'}, g.HeaderTag(), "%s", g)
	}
}

func TestSupportsLightPlugins(t *testing.T) {
	light := map[ID]bool{
		Morrowind: false,
		Oblivion:  false,
		Fallout3:  false,
		FalloutNV: false,
		Fallout4:  true,
		Skyrim:    false,
		SkyrimSE:  true,
		Starfield: true,
	}
	for g, want := range light {
		require.Equal(t, want, g.SupportsLightPlugins(), "%s", g)
	}
}

func TestSupportsMediumPlugins(t *testing.T) {
	for _, g := range []ID{Morrowind, Oblivion, Fallout3, FalloutNV, Fallout4, Skyrim, SkyrimSE} {
		require.False(t, g.SupportsMediumPlugins(), "%s", g)
	}
	require.True(t, Starfield.SupportsMediumPlugins())
}

func TestUsesGroupsAndFormIDs(t *testing.T) {
	require.False(t, Morrowind.UsesGroups())
	require.False(t, Morrowind.HasFormIDs())
	require.True(t, Skyrim.UsesGroups())
	require.True(t, Skyrim.HasFormIDs())
}

func TestStringUnknown(t *testing.T) {
	require.Contains(t, ID(99).String(), "ID(99)")
}
