package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()

	for _, path := range [][]string{
		{"migrate"},
		{"manifest", "build"},
		{"manifest", "verify"},
		{"works", "import"},
		{"works", "backfill"},
		{"token"},
	} {
		cmd, _, err := root.Find(path)
		require.NoErrorf(t, err, "command %v", path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestWorksBackfillFlags(t *testing.T) {
	root := newRootCommand()
	cmd, _, err := root.Find([]string{"works", "backfill"})
	require.NoError(t, err)

	for _, flag := range []string{"agent", "bucket", "ext", "mark-indexed"} {
		assert.NotNilf(t, cmd.Flags().Lookup(flag), "flag --%s", flag)
	}
}
