package assets

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ChartType discriminates the chart config union.
type ChartType string

const (
	ChartTypeBar     ChartType = "bar"
	ChartTypeLine    ChartType = "line"
	ChartTypeScatter ChartType = "scatter"
	ChartTypePie     ChartType = "pie"
	ChartTypeCombo   ChartType = "combo"
	ChartTypeMetric  ChartType = "metric"
	ChartTypeTable   ChartType = "table"
)

// BaseChartConfig carries the styling shared by every chart variant.
type BaseChartConfig struct {
	ColumnLabelFormats map[string]ColumnLabelFormat `json:"columnLabelFormats,omitempty" yaml:"column_label_formats,omitempty"`
	ColumnSettings     map[string]ColumnSettings    `json:"columnSettings,omitempty" yaml:"column_settings,omitempty"`
	Colors             []string                     `json:"colors,omitempty" yaml:"colors,omitempty"`
	ShowLegend         *bool                        `json:"showLegend,omitempty" yaml:"show_legend,omitempty"`
	GridLines          *bool                        `json:"gridLines,omitempty" yaml:"grid_lines,omitempty"`
	GoalLines          []GoalLine                   `json:"goalLines,omitempty" yaml:"goal_lines,omitempty"`
	Trendlines         []Trendline                  `json:"trendlines,omitempty" yaml:"trendlines,omitempty"`
	DisableTooltip     *bool                        `json:"disableTooltip,omitempty" yaml:"disable_tooltip,omitempty"`
}

type ColumnLabelFormat struct {
	ColumnType            string   `json:"columnType" yaml:"column_type"`
	Style                 string   `json:"style" yaml:"style"`
	DisplayName           *string  `json:"displayName,omitempty" yaml:"display_name,omitempty"`
	NumberSeparatorStyle  *string  `json:"numberSeparatorStyle,omitempty" yaml:"number_separator_style,omitempty"`
	MinimumFractionDigits *int     `json:"minimumFractionDigits,omitempty" yaml:"minimum_fraction_digits,omitempty"`
	MaximumFractionDigits *int     `json:"maximumFractionDigits,omitempty" yaml:"maximum_fraction_digits,omitempty"`
	Multiplier            *float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	Prefix                *string  `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Suffix                *string  `json:"suffix,omitempty" yaml:"suffix,omitempty"`
	CompactNumbers        *bool    `json:"compactNumbers,omitempty" yaml:"compact_numbers,omitempty"`
	Currency              *string  `json:"currency,omitempty" yaml:"currency,omitempty"`
	DateFormat            *string  `json:"dateFormat,omitempty" yaml:"date_format,omitempty"`
	UseRelativeTime       *bool    `json:"useRelativeTime,omitempty" yaml:"use_relative_time,omitempty"`
	IsUTC                 *bool    `json:"isUtc,omitempty" yaml:"is_utc,omitempty"`
}

type ColumnSettings struct {
	ShowDataLabels             *bool    `json:"showDataLabels,omitempty" yaml:"show_data_labels,omitempty"`
	ShowDataLabelsAsPercentage *bool    `json:"showDataLabelsAsPercentage,omitempty" yaml:"show_data_labels_as_percentage,omitempty"`
	ColumnVisualization        *string  `json:"columnVisualization,omitempty" yaml:"column_visualization,omitempty"`
	LineWidth                  *float64 `json:"lineWidth,omitempty" yaml:"line_width,omitempty"`
	LineStyle                  *string  `json:"lineStyle,omitempty" yaml:"line_style,omitempty"`
	LineType                   *string  `json:"lineType,omitempty" yaml:"line_type,omitempty"`
	BarRoundness               *float64 `json:"barRoundness,omitempty" yaml:"bar_roundness,omitempty"`
}

type GoalLine struct {
	Show              *bool    `json:"show,omitempty" yaml:"show,omitempty"`
	Value             *float64 `json:"value,omitempty" yaml:"value,omitempty"`
	ShowGoalLineLabel *bool    `json:"showGoalLineLabel,omitempty" yaml:"show_goal_line_label,omitempty"`
	GoalLineLabel     *string  `json:"goalLineLabel,omitempty" yaml:"goal_line_label,omitempty"`
	GoalLineColor     *string  `json:"goalLineColor,omitempty" yaml:"goal_line_color,omitempty"`
}

type Trendline struct {
	Show              *bool   `json:"show,omitempty" yaml:"show,omitempty"`
	ShowTrendlineLabel *bool  `json:"showTrendlineLabel,omitempty" yaml:"show_trendline_label,omitempty"`
	TrendlineLabel    *string `json:"trendlineLabel,omitempty" yaml:"trendline_label,omitempty"`
	Type              string  `json:"type" yaml:"type"`
	ColumnID          string  `json:"columnId" yaml:"column_id"`
	TrendLineColor    *string `json:"trendLineColor,omitempty" yaml:"trend_line_color,omitempty"`
}

type BarAndLineAxis struct {
	X        []string `json:"x" yaml:"x"`
	Y        []string `json:"y" yaml:"y"`
	Category []string `json:"category,omitempty" yaml:"category,omitempty"`
	Tooltip  []string `json:"tooltip,omitempty" yaml:"tooltip,omitempty"`
}

type BarLineChartConfig struct {
	BaseChartConfig   `yaml:",inline"`
	BarAndLineAxis    BarAndLineAxis `json:"barAndLineAxis" yaml:"bar_and_line_axis"`
	BarLayout         *string        `json:"barLayout,omitempty" yaml:"bar_layout,omitempty"`
	BarSortBy         *string        `json:"barSortBy,omitempty" yaml:"bar_sort_by,omitempty"`
	BarGroupType      *string        `json:"barGroupType,omitempty" yaml:"bar_group_type,omitempty"`
	BarShowTotalAtTop *bool          `json:"barShowTotalAtTop,omitempty" yaml:"bar_show_total_at_top,omitempty"`
	LineGroupType     *string        `json:"lineGroupType,omitempty" yaml:"line_group_type,omitempty"`
}

type ScatterAxis struct {
	X        []string `json:"x" yaml:"x"`
	Y        []string `json:"y" yaml:"y"`
	Category []string `json:"category,omitempty" yaml:"category,omitempty"`
	Size     []string `json:"size,omitempty" yaml:"size,omitempty"`
	Tooltip  []string `json:"tooltip,omitempty" yaml:"tooltip,omitempty"`
}

type ScatterChartConfig struct {
	BaseChartConfig `yaml:",inline"`
	ScatterAxis     ScatterAxis `json:"scatterAxis" yaml:"scatter_axis"`
	ScatterDotSize  []float64   `json:"scatterDotSize,omitempty" yaml:"scatter_dot_size,omitempty"`
}

type PieChartAxis struct {
	X       []string `json:"x" yaml:"x"`
	Y       []string `json:"y" yaml:"y"`
	Tooltip []string `json:"tooltip,omitempty" yaml:"tooltip,omitempty"`
}

type PieChartConfig struct {
	BaseChartConfig           `yaml:",inline"`
	PieChartAxis              PieChartAxis `json:"pieChartAxis" yaml:"pie_chart_axis"`
	PieDisplayLabelAs         *string      `json:"pieDisplayLabelAs,omitempty" yaml:"pie_display_label_as,omitempty"`
	PieShowInnerLabel         *bool        `json:"pieShowInnerLabel,omitempty" yaml:"pie_show_inner_label,omitempty"`
	PieInnerLabelAggregate    *string      `json:"pieInnerLabelAggregate,omitempty" yaml:"pie_inner_label_aggregate,omitempty"`
	PieInnerLabelTitle        *string      `json:"pieInnerLabelTitle,omitempty" yaml:"pie_inner_label_title,omitempty"`
	PieLabelPosition          *string      `json:"pieLabelPosition,omitempty" yaml:"pie_label_position,omitempty"`
	PieDonutWidth             *float64     `json:"pieDonutWidth,omitempty" yaml:"pie_donut_width,omitempty"`
	PieMinimumSlicePercentage *float64     `json:"pieMinimumSlicePercentage,omitempty" yaml:"pie_minimum_slice_percentage,omitempty"`
}

type ComboChartAxis struct {
	X        []string `json:"x" yaml:"x"`
	Y        []string `json:"y" yaml:"y"`
	Y2       []string `json:"y2,omitempty" yaml:"y2,omitempty"`
	Category []string `json:"category,omitempty" yaml:"category,omitempty"`
	Tooltip  []string `json:"tooltip,omitempty" yaml:"tooltip,omitempty"`
}

type ComboChartConfig struct {
	BaseChartConfig `yaml:",inline"`
	ComboChartAxis  ComboChartAxis `json:"comboChartAxis" yaml:"combo_chart_axis"`
}

type MetricChartConfig struct {
	BaseChartConfig      `yaml:",inline"`
	MetricColumnID       string  `json:"metricColumnId" yaml:"metric_column_id"`
	MetricValueAggregate *string `json:"metricValueAggregate,omitempty" yaml:"metric_value_aggregate,omitempty"`
	MetricHeader         *string `json:"metricHeader,omitempty" yaml:"metric_header,omitempty"`
	MetricSubHeader      *string `json:"metricSubHeader,omitempty" yaml:"metric_sub_header,omitempty"`
	MetricValueLabel     *string `json:"metricValueLabel,omitempty" yaml:"metric_value_label,omitempty"`
}

type TableChartConfig struct {
	BaseChartConfig              `yaml:",inline"`
	TableColumnOrder             []string           `json:"tableColumnOrder,omitempty" yaml:"table_column_order,omitempty"`
	TableColumnWidths            map[string]float64 `json:"tableColumnWidths,omitempty" yaml:"table_column_widths,omitempty"`
	TableHeaderBackgroundColor   *string            `json:"tableHeaderBackgroundColor,omitempty" yaml:"table_header_background_color,omitempty"`
	TableHeaderFontColor         *string            `json:"tableHeaderFontColor,omitempty" yaml:"table_header_font_color,omitempty"`
	TableColumnFontColor         *string            `json:"tableColumnFontColor,omitempty" yaml:"table_column_font_color,omitempty"`
}

// ChartConfig is the closed union of chart variants, discriminated by
// selectedChartType. Exactly one variant pointer is non-nil.
type ChartConfig struct {
	Type    ChartType
	Bar     *BarLineChartConfig
	Line    *BarLineChartConfig
	Scatter *ScatterChartConfig
	Pie     *PieChartConfig
	Combo   *ComboChartConfig
	Metric  *MetricChartConfig
	Table   *TableChartConfig
}

const chartTypeKey = "selectedChartType"

func (c ChartConfig) variant() (any, error) {
	switch c.Type {
	case ChartTypeBar:
		return c.Bar, nil
	case ChartTypeLine:
		return c.Line, nil
	case ChartTypeScatter:
		return c.Scatter, nil
	case ChartTypePie:
		return c.Pie, nil
	case ChartTypeCombo:
		return c.Combo, nil
	case ChartTypeMetric:
		return c.Metric, nil
	case ChartTypeTable:
		return c.Table, nil
	default:
		return nil, fmt.Errorf("unknown chart type %q", c.Type)
	}
}

func (c *ChartConfig) setVariant(decode func(any) error) error {
	var err error
	switch c.Type {
	case ChartTypeBar:
		c.Bar = &BarLineChartConfig{}
		err = decode(c.Bar)
	case ChartTypeLine:
		c.Line = &BarLineChartConfig{}
		err = decode(c.Line)
	case ChartTypeScatter:
		c.Scatter = &ScatterChartConfig{}
		err = decode(c.Scatter)
	case ChartTypePie:
		c.Pie = &PieChartConfig{}
		err = decode(c.Pie)
	case ChartTypeCombo:
		c.Combo = &ComboChartConfig{}
		err = decode(c.Combo)
	case ChartTypeMetric:
		c.Metric = &MetricChartConfig{}
		err = decode(c.Metric)
	case ChartTypeTable:
		c.Table = &TableChartConfig{}
		err = decode(c.Table)
	default:
		return fmt.Errorf("unknown chart type %q", c.Type)
	}
	return err
}

func (c ChartConfig) MarshalJSON() ([]byte, error) {
	v, err := c.variant()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	m[chartTypeKey] = string(c.Type)
	return json.Marshal(m)
}

func (c *ChartConfig) UnmarshalJSON(data []byte) error {
	var disc struct {
		Type ChartType `json:"selectedChartType"`
	}
	if err := json.Unmarshal(data, &disc); err != nil {
		return err
	}
	if disc.Type == "" {
		return fmt.Errorf("chart config missing %s", chartTypeKey)
	}
	c.Type = disc.Type
	return c.setVariant(func(v any) error { return json.Unmarshal(data, v) })
}

func (c ChartConfig) MarshalYAML() (any, error) {
	v, err := c.variant()
	if err != nil {
		return nil, err
	}
	raw, err := yaml.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	m[chartTypeKey] = string(c.Type)
	return m, nil
}

func (c *ChartConfig) UnmarshalYAML(node *yaml.Node) error {
	var disc struct {
		Type ChartType `yaml:"selectedChartType"`
	}
	if err := node.Decode(&disc); err != nil {
		return err
	}
	if disc.Type == "" {
		return fmt.Errorf("chart config missing %s", chartTypeKey)
	}
	c.Type = disc.Type
	return c.setVariant(func(v any) error { return node.Decode(v) })
}
