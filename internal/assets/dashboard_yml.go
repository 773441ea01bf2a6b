package assets

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"tabular/internal/errs"
)

// nameDescRE matches a name:/description: line at any indentation so stray colons in
// user-pasted titles can be stripped from the value portion before parsing.
var nameDescRE = regexp.MustCompile(`^(\s*(?:name|description):\s*)(.*)$`)

// DashboardYml is the persisted content of a dashboard file. Serializes to
// camelCase JSON for the HTTP boundary and snake_case YAML for the agent.
type DashboardYml struct {
	Name        string  `json:"name" yaml:"name"`
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
	Rows        []Row   `json:"rows" yaml:"rows"`
}

// Row is one horizontal band of the 12-column dashboard grid.
type Row struct {
	ID          uint32    `json:"id" yaml:"id"`
	Items       []RowItem `json:"items" yaml:"items"`
	ColumnSizes []uint32  `json:"columnSizes" yaml:"column_sizes"`
	RowHeight   *uint32   `json:"rowHeight,omitempty" yaml:"row_height,omitempty"`
}

// RowItem references the metric rendered in this slot.
type RowItem struct {
	ID uuid.UUID `json:"id" yaml:"id"`
}

// ParseDashboardYml sanitizes, parses, defaults, and validates dashboard
// YAML. Stray ':' characters inside name/description values are removed
// (a documented quirk of user-pasted titles), missing row ids are filled
// from their 1-based index, and an empty name defaults to "New Dashboard".
func ParseDashboardYml(ymlContent string) (DashboardYml, error) {
	lines := strings.Split(ymlContent, "\n")
	for i, line := range lines {
		if m := nameDescRE.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + strings.ReplaceAll(m[2], ":", "")
		}
	}

	var d DashboardYml
	if err := yaml.Unmarshal([]byte(strings.Join(lines, "\n")), &d); err != nil {
		return DashboardYml{}, errs.InvalidFormat(fmt.Sprintf("error parsing YAML: %v", err))
	}

	if d.Name == "" {
		d.Name = "New Dashboard"
	}
	for i := range d.Rows {
		if d.Rows[i].ID == 0 {
			d.Rows[i].ID = uint32(i + 1)
		}
	}

	if err := d.Validate(); err != nil {
		return DashboardYml{}, err
	}
	return d, nil
}

// Validate enforces the row/column grid invariants.
func (d *DashboardYml) Validate() error {
	if d.Name == "" {
		return errs.InvalidInput("name", "dashboard name is required")
	}
	for _, row := range d.Rows {
		if row.RowHeight != nil && (*row.RowHeight < 320 || *row.RowHeight > 550) {
			return errs.InvalidInput("row_height", fmt.Sprintf("row height must be between 320 and 550, got %d", *row.RowHeight))
		}
		if len(row.Items) == 0 || len(row.Items) > 4 {
			return errs.InvalidInput("items", fmt.Sprintf("number of items in row must be between 1 and 4, got %d", len(row.Items)))
		}
		if len(row.ColumnSizes) != len(row.Items) {
			return errs.InvalidInput("column_sizes", fmt.Sprintf("number of column sizes (%d) must match number of items (%d)", len(row.ColumnSizes), len(row.Items)))
		}
		var sum uint32
		for _, size := range row.ColumnSizes {
			if size < 3 {
				return errs.InvalidInput("column_sizes", fmt.Sprintf("each column size must be at least 3, got %d", size))
			}
			sum += size
		}
		if sum != 12 {
			return errs.InvalidInput("column_sizes", "sum must equal 12")
		}
	}
	return nil
}

// MetricIDs returns every referenced metric id in row order, de-duplicated.
func (d *DashboardYml) MetricIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, row := range d.Rows {
		for _, item := range row.Items {
			if _, ok := seen[item.ID]; ok {
				continue
			}
			seen[item.ID] = struct{}{}
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// NextRowID returns max(row ids)+1, or 1 for an empty dashboard.
func (d *DashboardYml) NextRowID() uint32 {
	var max uint32
	for _, row := range d.Rows {
		if row.ID > max {
			max = row.ID
		}
	}
	return max + 1
}

// AddRow appends a row with the next available id.
func (d *DashboardYml) AddRow(items []RowItem, rowHeight *uint32, columnSizes []uint32) {
	d.Rows = append(d.Rows, Row{
		ID:          d.NextRowID(),
		Items:       items,
		RowHeight:   rowHeight,
		ColumnSizes: columnSizes,
	})
}

// ToYaml renders the dashboard back to snake_case YAML.
func (d *DashboardYml) ToYaml() (string, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to serialize dashboard yml: %w", err)
	}
	return string(out), nil
}
