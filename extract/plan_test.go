package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPlan(t *testing.T) {
	p := DefaultPlan()
	require.NoError(t, p.Validate())
	assert.Equal(t, "/configuration", p.Configuration)
	require.Len(t, p.Tables, 6)
	assert.Equal(t, "/simulation/service/shower_distribution", p.Tables[0])
	assert.Equal(t, "/dl1/event/subarray/trigger", p.Tables[5])
}

func TestSplitTablePath(t *testing.T) {
	tests := []struct {
		path                               string
		group, parent, groupName, table string
	}{
		{"/dl1/event/subarray/trigger", "/dl1/event/subarray", "/dl1/event", "subarray", "trigger"},
		{"/dl2/event/subarray/energy/RandomForestRegressor", "/dl2/event/subarray/energy", "/dl2/event/subarray", "energy", "RandomForestRegressor"},
		{"/simulation/shower", "/simulation", "/", "simulation", "shower"},
		{"/configuration", "/", "", "", "configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			group, parent, groupName, table := SplitTablePath(tt.path)
			assert.Equal(t, tt.group, group)
			assert.Equal(t, tt.parent, parent)
			assert.Equal(t, tt.groupName, groupName)
			assert.Equal(t, tt.table, table)
		})
	}
}

func TestLoadPlan(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    Plan
		wantErr string
	}{
		{
			name: "full",
			yaml: "configuration: /config\ntables:\n  - /a/b\n  - /c\n",
			want: Plan{Configuration: "/config", Tables: []string{"/a/b", "/c"}},
		},
		{
			name: "default configuration",
			yaml: "tables: [/dl1/event/subarray/trigger]\n",
			want: Plan{Configuration: "/configuration", Tables: []string{"/dl1/event/subarray/trigger"}},
		},
		{name: "no tables", yaml: "configuration: /configuration\n", wantErr: "no tables listed"},
		{name: "relative table", yaml: "tables: [dl1/trigger]\n", wantErr: "not absolute"},
		{name: "trailing slash", yaml: "tables: [/dl1/]\n", wantErr: "no table name"},
		{name: "malformed", yaml: "tables: [/a\n", wantErr: "parsing plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "plan.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			got, err := LoadPlan(path)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadPlan_MissingFile(t *testing.T) {
	_, err := LoadPlan(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
