package tier

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c := DefaultCatalog()
	assert.Equal(t, []string{Free, Pro, Enterprise}, c.Names())

	tests := []struct {
		name      string
		limit     int
		apiAccess bool
	}{
		{Free, 10, false},
		{Pro, 500, true},
		{Enterprise, 10000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := c.Get(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.limit, got.MonthlyLimit)
			assert.Equal(t, tt.apiAccess, got.APIAccess)
			assert.NotEmpty(t, got.Features)
		})
	}
}

func TestCatalog_GetUnknown(t *testing.T) {
	t.Parallel()

	c := DefaultCatalog()
	_, err := c.Get("platinum")
	assert.ErrorIs(t, err, ErrUnknownTier)

	assert.Equal(t, Free, c.Lookup("platinum").Name)
}

func TestCatalog_Immutable(t *testing.T) {
	t.Parallel()

	c := DefaultCatalog()
	pro, err := c.Get(Pro)
	require.NoError(t, err)
	pro.Features[0] = "changed"
	pro.MonthlyLimit = 1

	again, err := c.Get(Pro)
	require.NoError(t, err)
	assert.Equal(t, 500, again.MonthlyLimit)
	assert.Equal(t, "500 notarizations/month", again.Features[0])
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	c, err := LoadCatalog(filepath.Join("testdata", "tiers.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{Free, "team"}, c.Names())

	team, err := c.Get("team")
	require.NoError(t, err)
	assert.Equal(t, 2000, team.MonthlyLimit)
	assert.True(t, team.APIAccess)
	assert.Equal(t, 40, team.Burst)

	free, err := c.Get(Free)
	require.NoError(t, err)
	assert.Equal(t, 5, free.Burst, "burst defaults to the per-minute rate")
}

func TestParseCatalog_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "tiers: [\n"},
		{"empty", "tiers: []\n"},
		{"missing free", "tiers:\n  - name: pro\n    monthly_limit: 5\n"},
		{"negative limit", "tiers:\n  - name: free\n    monthly_limit: -1\n"},
		{"duplicate", "tiers:\n  - name: free\n  - name: free\n"},
		{"unnamed", "tiers:\n  - monthly_limit: 3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseCatalog([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
