package assets

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabular/internal/errs"
)

func uintPtr(v uint32) *uint32 { return &v }

func TestParseDashboardYmlFillsRowIDs(t *testing.T) {
	yml := `
name: Test Dashboard
description: This is a test dashboard
rows:
  - id: 0
    items:
      - id: 00000000-0000-0000-0000-000000000001
    row_height: 400
    column_sizes: [12]
  - id: 0
    items:
      - id: 00000000-0000-0000-0000-000000000002
    row_height: 320
    column_sizes: [12]
  - id: 0
    items:
      - id: 00000000-0000-0000-0000-000000000003
    row_height: 550
    column_sizes: [12]
`
	d, err := ParseDashboardYml(yml)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), d.Rows[0].ID)
	assert.Equal(t, uint32(2), d.Rows[1].ID)
	assert.Equal(t, uint32(3), d.Rows[2].ID)
}

func TestParseDashboardYmlKeepsExplicitID(t *testing.T) {
	yml := `
name: Test Dashboard
rows:
  - id: 42
    items:
      - id: 00000000-0000-0000-0000-000000000001
    column_sizes: [12]
`
	d, err := ParseDashboardYml(yml)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), d.Rows[0].ID)
}

func TestParseDashboardYmlSanitizesTitleColons(t *testing.T) {
	yml := `
name: Revenue: monthly breakdown
description: KPIs: the important ones
rows: []
`
	d, err := ParseDashboardYml(yml)
	require.NoError(t, err)
	assert.Equal(t, "Revenue monthly breakdown", d.Name)
	require.NotNil(t, d.Description)
	assert.Equal(t, "KPIs the important ones", *d.Description)
}

func TestParseDashboardYmlDefaultsName(t *testing.T) {
	d, err := ParseDashboardYml("rows: []\n")
	require.NoError(t, err)
	assert.Equal(t, "New Dashboard", d.Name)
}

func TestDashboardValidate(t *testing.T) {
	m1 := uuid.New()
	m2 := uuid.New()

	tests := []struct {
		name    string
		row     Row
		wantErr string
	}{
		{
			name:    "column sizes must sum to 12",
			row:     Row{ID: 1, Items: []RowItem{{ID: m1}, {ID: m2}}, ColumnSizes: []uint32{5, 5}},
			wantErr: "sum must equal 12",
		},
		{
			name:    "column size below minimum",
			row:     Row{ID: 1, Items: []RowItem{{ID: m1}, {ID: m2}}, ColumnSizes: []uint32{2, 10}},
			wantErr: "at least 3",
		},
		{
			name:    "size count must match item count",
			row:     Row{ID: 1, Items: []RowItem{{ID: m1}, {ID: m2}}, ColumnSizes: []uint32{12}},
			wantErr: "must match number of items",
		},
		{
			name:    "too many items",
			row:     Row{ID: 1, Items: []RowItem{{ID: m1}, {ID: m1}, {ID: m1}, {ID: m1}, {ID: m1}}, ColumnSizes: []uint32{3, 3, 3, 3, 3}},
			wantErr: "between 1 and 4",
		},
		{
			name:    "empty row",
			row:     Row{ID: 1},
			wantErr: "between 1 and 4",
		},
		{
			name:    "row height too small",
			row:     Row{ID: 1, Items: []RowItem{{ID: m1}}, ColumnSizes: []uint32{12}, RowHeight: uintPtr(300)},
			wantErr: "between 320 and 550",
		},
		{
			name:    "row height too large",
			row:     Row{ID: 1, Items: []RowItem{{ID: m1}}, ColumnSizes: []uint32{12}, RowHeight: uintPtr(600)},
			wantErr: "between 320 and 550",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DashboardYml{Name: "d", Rows: []Row{tt.row}}
			err := d.Validate()
			require.Error(t, err)
			assert.True(t, errs.IsKind(err, errs.KindInvalidInput))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	valid := DashboardYml{Name: "d", Rows: []Row{
		{ID: 1, Items: []RowItem{{ID: m1}, {ID: m2}}, ColumnSizes: []uint32{6, 6}, RowHeight: uintPtr(400)},
		{ID: 2, Items: []RowItem{{ID: m1}, {ID: m1}, {ID: m1}, {ID: m2}}, ColumnSizes: []uint32{3, 3, 3, 3}},
	}}
	assert.NoError(t, valid.Validate())
}

func TestDashboardJSONUsesCamelCase(t *testing.T) {
	d := DashboardYml{Name: "d", Rows: []Row{
		{ID: 1, Items: []RowItem{{ID: uuid.New()}}, ColumnSizes: []uint32{12}, RowHeight: uintPtr(400)},
	}}
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	row := m["rows"].([]any)[0].(map[string]any)
	assert.Contains(t, row, "rowHeight")
	assert.Contains(t, row, "columnSizes")
	assert.NotContains(t, row, "row_height")
}

func TestDashboardYamlRoundTrip(t *testing.T) {
	d := DashboardYml{Name: "Quarterly", Rows: []Row{
		{ID: 1, Items: []RowItem{{ID: uuid.New()}, {ID: uuid.New()}}, ColumnSizes: []uint32{8, 4}},
	}}
	out, err := d.ToYaml()
	require.NoError(t, err)
	back, err := ParseDashboardYml(out)
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func TestNextRowIDAndAddRow(t *testing.T) {
	d := DashboardYml{Name: "d", Rows: []Row{
		{ID: 1, Items: []RowItem{{ID: uuid.New()}}, ColumnSizes: []uint32{12}},
		{ID: 5, Items: []RowItem{{ID: uuid.New()}}, ColumnSizes: []uint32{12}},
		{ID: 3, Items: []RowItem{{ID: uuid.New()}}, ColumnSizes: []uint32{12}},
	}}
	assert.Equal(t, uint32(6), d.NextRowID())

	d.AddRow([]RowItem{{ID: uuid.New()}}, uintPtr(400), []uint32{12})
	assert.Equal(t, uint32(6), d.Rows[3].ID)
	assert.Equal(t, uint32(7), d.NextRowID())
}

func TestMetricIDsDedupes(t *testing.T) {
	m1 := uuid.New()
	m2 := uuid.New()
	d := DashboardYml{Name: "d", Rows: []Row{
		{ID: 1, Items: []RowItem{{ID: m1}, {ID: m2}}, ColumnSizes: []uint32{6, 6}},
		{ID: 2, Items: []RowItem{{ID: m1}}, ColumnSizes: []uint32{12}},
	}}
	assert.Equal(t, []uuid.UUID{m1, m2}, d.MetricIDs())
}
