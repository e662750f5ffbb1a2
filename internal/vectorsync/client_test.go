package vectorsync_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clmem/memoryd/internal/vectorsync"
)

func TestCollectionNameSanitizesAndPrefixes(t *testing.T) {
	require.Equal(t, "mem_my_project", vectorsync.CollectionName("My Project"))
	require.Equal(t, "mem_default", vectorsync.CollectionName("***"))
	require.Equal(t, "mem_a-b_c", vectorsync.CollectionName("a-b/c"))
}
