package acp

import (
	"testing"

	"github.com/AlexxIT/go-acp/pkg/acp"
	"github.com/stretchr/testify/require"
)

func TestStoreSeed(t *testing.T) {
	store := NewStore()

	// catalogued names coerce through their kind
	require.NoError(t, store.Seed("syNm", "Base Station"))
	require.NoError(t, store.Seed("dbug", 0x3000))
	require.NoError(t, store.Seed("waIP", "10.0.1.1"))

	value, err := store.GetProperty("dbug")
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0x30, 0x00}, value)

	value, err = store.GetProperty("waIP")
	require.NoError(t, err)
	require.Equal(t, []byte{10, 0, 1, 1}, value)

	// uncatalogued names accept raw strings only
	require.NoError(t, store.Seed("zzzz", "opaque"))
	require.ErrorIs(t, store.Seed("yyyy", 1), acp.ErrUnknownProperty)

	_, err = store.GetProperty("missing")
	require.ErrorIs(t, err, acp.ErrUnknownProperty)
}

func TestStoreSet(t *testing.T) {
	store := NewStore()

	require.NoError(t, store.SetProperty("raNm", []byte("attic")))

	value, err := store.GetProperty("raNm")
	require.NoError(t, err)
	require.Equal(t, []byte("attic"), value)
}
