package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedCatalog(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"diagnosis", "experiment"}, c.Categories())
}

func TestPick(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	e, err := c.Pick("diagnosis")
	require.NoError(t, err)
	assert.NotEmpty(t, e.Label)
	assert.NotEmpty(t, e.Description)

	_, err = c.Pick("phrenology")
	assert.Error(t, err)
}

func TestPickIsDeterministicWithSeed(t *testing.T) {
	const doc = `
diagnosis:
  - label: A
    description: d
    remedy: r
    tier: mild
  - label: B
    description: d
    remedy: r
    tier: mild
`
	c1, err := Parse([]byte(doc), 42)
	require.NoError(t, err)
	c2, err := Parse([]byte(doc), 42)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		e1, err := c1.Pick("diagnosis")
		require.NoError(t, err)
		e2, err := c2.Pick("diagnosis")
		require.NoError(t, err)
		assert.Equal(t, e1.Label, e2.Label)
	}
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	_, err := Parse([]byte(`diagnosis: []`), 1)
	assert.Error(t, err)

	_, err = Parse([]byte("diagnosis:\n  - description: no label\n"), 1)
	assert.Error(t, err)

	_, err = Parse([]byte(`{`), 1)
	assert.Error(t, err)
}

func TestPickTTLBounds(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		ttl := c.PickTTL(time.Hour, 24*time.Hour)
		assert.GreaterOrEqual(t, ttl, time.Hour)
		assert.LessOrEqual(t, ttl, 24*time.Hour)
		assert.Zero(t, ttl%time.Hour, "TTL is a whole number of hours")
	}
}
