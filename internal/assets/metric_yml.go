package assets

import (
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"tabular/internal/errs"
)

// MetricYml is the persisted content of a metric file: a saved chart or
// table definition with its SQL and chart configuration.
type MetricYml struct {
	Name        string      `json:"name" yaml:"name"`
	Description *string     `json:"description,omitempty" yaml:"description,omitempty"`
	SQL         string      `json:"sql" yaml:"sql"`
	TimeFrame   string      `json:"timeFrame" yaml:"time_frame"`
	ChartConfig ChartConfig `json:"chartConfig" yaml:"chart_config"`
	DatasetIDs  []uuid.UUID `json:"datasetIds" yaml:"dataset_ids"`
}

// ParseMetricYml parses and validates metric YAML.
func ParseMetricYml(ymlContent string) (MetricYml, error) {
	var m MetricYml
	if err := yaml.Unmarshal([]byte(ymlContent), &m); err != nil {
		return MetricYml{}, errs.InvalidFormat(fmt.Sprintf("error parsing YAML: %v", err))
	}
	if err := m.Validate(); err != nil {
		return MetricYml{}, err
	}
	return m, nil
}

// Validate enforces the minimal shape requirements.
func (m *MetricYml) Validate() error {
	if m.Name == "" {
		return errs.InvalidInput("name", "metric name is required")
	}
	if m.SQL == "" {
		return errs.InvalidInput("sql", "metric sql is required")
	}
	return nil
}

// ToYaml renders the metric back to snake_case YAML.
func (m *MetricYml) ToYaml() (string, error) {
	out, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to serialize metric yml: %w", err)
	}
	return string(out), nil
}
