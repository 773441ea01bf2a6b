package assets

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabular/internal/errs"
)

const revenueMetricYml = `
name: Rev
sql: SELECT 1 AS v
time_frame: daily
chart_config:
  selectedChartType: metric
  metric_column_id: v
dataset_ids: []
`

func TestParseMetricYml(t *testing.T) {
	m, err := ParseMetricYml(revenueMetricYml)
	require.NoError(t, err)
	assert.Equal(t, "Rev", m.Name)
	assert.Equal(t, "SELECT 1 AS v", m.SQL)
	assert.Equal(t, "daily", m.TimeFrame)
	assert.Equal(t, ChartTypeMetric, m.ChartConfig.Type)
	require.NotNil(t, m.ChartConfig.Metric)
	assert.Equal(t, "v", m.ChartConfig.Metric.MetricColumnID)
	assert.Empty(t, m.DatasetIDs)
}

func TestParseMetricYmlBadYaml(t *testing.T) {
	_, err := ParseMetricYml("name: [unterminated")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInvalidFormat))
}

func TestParseMetricYmlMissingFields(t *testing.T) {
	_, err := ParseMetricYml("name: only a name\nsql: ''\n")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))
}

func TestMetricYamlRoundTrip(t *testing.T) {
	ds := uuid.New()
	yml := `
name: Orders by week
description: Weekly order volume
sql: SELECT date_trunc('week', created_at) AS week, count(*) AS orders FROM orders GROUP BY 1
time_frame: weekly
chart_config:
  selectedChartType: bar
  bar_and_line_axis:
    x: [week]
    y: [orders]
dataset_ids:
  - ` + ds.String() + "\n"

	m, err := ParseMetricYml(yml)
	require.NoError(t, err)
	require.NotNil(t, m.ChartConfig.Bar)
	assert.Equal(t, []string{"week"}, m.ChartConfig.Bar.BarAndLineAxis.X)
	assert.Equal(t, []uuid.UUID{ds}, m.DatasetIDs)

	out, err := m.ToYaml()
	require.NoError(t, err)
	back, err := ParseMetricYml(out)
	require.NoError(t, err)
	assert.Equal(t, m, back)
}

func TestChartConfigJSONDiscriminator(t *testing.T) {
	m, err := ParseMetricYml(revenueMetricYml)
	require.NoError(t, err)

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	var asMap map[string]any
	require.NoError(t, json.Unmarshal(raw, &asMap))
	cc := asMap["chartConfig"].(map[string]any)
	assert.Equal(t, "metric", cc["selectedChartType"])
	assert.Equal(t, "v", cc["metricColumnId"])

	var back MetricYml
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, m, back)
}

func TestChartConfigUnknownType(t *testing.T) {
	var cc ChartConfig
	err := json.Unmarshal([]byte(`{"selectedChartType":"sunburst"}`), &cc)
	require.Error(t, err)
}
