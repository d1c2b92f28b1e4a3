package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultShippingTable(t *testing.T) {
	table, err := DefaultShippingTable()
	require.NoError(t, err)

	regions := table.Regions()
	require.NotEmpty(t, regions)
	assert.Equal(t, "Central", regions[0].Name)

	assert.True(t, table.HasRegion("central"))
	assert.True(t, table.HasCity("Western", "Jeddah"))
	assert.False(t, table.HasCity("Central", "Jeddah"), "city must belong to the region")
	assert.False(t, table.HasCity("Nowhere", "Jeddah"))
	assert.True(t, table.IsRemote("Arar"))
	assert.False(t, table.IsRemote("Jeddah"))
	assert.Nil(t, table.Cities("Nowhere"))
}

func TestShippingTable_RegionsAreCopies(t *testing.T) {
	table, err := DefaultShippingTable()
	require.NoError(t, err)

	regions := table.Regions()
	regions[0].Cities[0].Name = "Changed"

	assert.NotEqual(t, "Changed", table.Regions()[0].Cities[0].Name)
}

func TestParseShippingTable(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "valid",
			yaml: "regions:\n  - name: North\n    cities:\n      - name: A\n      - name: B\n        remote: true\n",
		},
		{
			name:    "no regions",
			yaml:    "regions: []\n",
			wantErr: ErrEmptyTable.Error(),
		},
		{
			name:    "duplicate region",
			yaml:    "regions:\n  - name: North\n  - name: north\n",
			wantErr: "duplicate region",
		},
		{
			name:    "duplicate city",
			yaml:    "regions:\n  - name: North\n    cities:\n      - name: A\n      - name: a\n",
			wantErr: "duplicate city",
		},
		{
			name:    "malformed",
			yaml:    "regions: {",
			wantErr: "decode shipping table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ParseShippingTable([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, table.IsRemote("b"))
			assert.Len(t, table.Cities("NORTH"), 2)
		})
	}
}

func TestLoadShippingTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shipping.yaml")
	require.NoError(t, os.WriteFile(path, []byte("regions:\n  - name: Only\n    cities:\n      - name: Town\n"), 0o600))

	table, err := LoadShippingTable(path)
	require.NoError(t, err)
	assert.True(t, table.HasCity("Only", "Town"))

	table, err = LoadShippingTable("")
	require.NoError(t, err)
	assert.True(t, table.HasRegion("Central"))

	_, err = LoadShippingTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
