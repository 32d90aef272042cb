package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	c, err := Catalog()
	require.NoError(t, err)
	assert.Equal(t, []string{"locktest", "mensa", "pingpong"}, c.Names())

	def, ok := c.Get("locktest")
	require.True(t, ok)
	assert.True(t, def.Testing)
}
