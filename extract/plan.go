package extract

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/scigolib/h5trim"
)

// Plan names what an extraction keeps: one subtree copied whole and a list
// of tables copied under their original paths.
type Plan struct {
	Configuration string   `yaml:"configuration"`
	Tables        []string `yaml:"tables"`
}

// DefaultPlan keeps the simulation, reconstruction and trigger tables of a
// DL2 archive and drops everything per telescope.
func DefaultPlan() Plan {
	return Plan{
		Configuration: "/configuration",
		Tables: []string{
			"/simulation/service/shower_distribution",
			"/simulation/event/subarray/shower",
			"/dl2/event/subarray/classification/RandomForestClassifier",
			"/dl2/event/subarray/energy/RandomForestRegressor",
			"/dl2/event/subarray/geometry/HillasReconstructor",
			"/dl1/event/subarray/trigger",
		},
	}
}

// LoadPlan reads a plan from a YAML file. A missing configuration key
// keeps the default subtree.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: plan path comes from the command line
	if err != nil {
		return Plan{}, fmt.Errorf("reading plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("parsing plan %s: %w", path, err)
	}
	if p.Configuration == "" {
		p.Configuration = DefaultPlan().Configuration
	}
	if err := p.Validate(); err != nil {
		return Plan{}, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// Validate checks that the plan names at least one table and only
// absolute paths.
func (p Plan) Validate() error {
	if len(p.Tables) == 0 {
		return errors.New("no tables listed")
	}
	for _, path := range append([]string{p.Configuration}, p.Tables...) {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("path %q is not absolute", path)
		}
	}
	for _, path := range p.Tables {
		if path == "/" || strings.HasSuffix(path, "/") {
			return fmt.Errorf("table path %q has no table name", path)
		}
	}
	return nil
}

// SplitTablePath decomposes a table path into the group holding the
// table, that group's parent and name, and the table name:
//
//	/dl1/event/subarray/trigger -> /dl1/event/subarray, /dl1/event, subarray, trigger
//
// A table directly under the root has group "/" and an empty group name.
func SplitTablePath(p string) (groupPath, parentPath, groupName, tableName string) {
	groupPath, tableName = h5trim.SplitPath(p)
	if groupPath == "/" {
		return "/", "", "", tableName
	}
	parentPath, groupName = h5trim.SplitPath(groupPath)
	return groupPath, parentPath, groupName, tableName
}
