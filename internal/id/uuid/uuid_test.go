package uuid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneratorNewIDUniqueAndValid(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
	require.True(t, Valid(id1))
	require.True(t, Valid(id2))
	require.Less(t, id1, id2, "v7 ids sort by creation time")
}

func TestValidRejectsGarbage(t *testing.T) {
	t.Parallel()

	require.False(t, Valid("job-1"))
	require.False(t, Valid(""))
}
