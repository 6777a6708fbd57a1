// Package ledger implements the durable markdown results table that records
// per-run outcomes for every pipeline stage. The table is keyed by
// (cli-tool, model, layer, conversion, app); each status cell holds one
// outcome symbol per run index. Loading, patching a single slot, and saving
// leaves every untouched line byte-identical, so reruns produce minimal
// diffs.
package ledger

import (
	"fmt"
	"os"
	"strings"
)

// Stage identifies which status column an upsert targets.
type Stage string

const (
	StageConverted Stage = "converted"
	StageCompiled  Stage = "compiled"
	StageRan       Stage = "ran"
)

// Cell positions within a table row, counting the empty cell before the
// leading pipe.
const (
	cellCliTool = 1 + iota
	cellModel
	cellLayer
	cellConversion
	cellApp
	cellOrigExists
	cellConverted
	cellCompiled
	cellRan
	cellSmoke
)

// Key identifies one ledger row.
type Key struct {
	CliTool    string
	Model      string
	Layer      string
	Conversion string // e.g. "jakarta-to-quarkus"
	App        string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s-%s", k.CliTool, k.Layer, k.Model, k.App, k.Conversion)
}

// Row is one parsed table row. Cells holds the raw cell text including any
// original padding; it is only re-rendered when the row is modified.
type Row struct {
	Key        Key
	OrigExists string
	Converted  []string
	Compiled   []string
	Ran        []string

	cells []string
	dirty bool
}

// Slots returns the symbol sequence for the given stage.
func (r *Row) Slots(stage Stage) []string {
	switch stage {
	case StageConverted:
		return r.Converted
	case StageCompiled:
		return r.Compiled
	case StageRan:
		return r.Ran
	}
	return nil
}

// NumRuns returns the number of convert attempts recorded for the row.
func (r *Row) NumRuns() int { return len(r.Converted) }

// line is one physical line of the table file. Non-row lines (header,
// separator, prose) keep row == nil and round-trip verbatim.
type line struct {
	raw string
	row *Row
}

// Table is the in-memory ledger.
type Table struct {
	lines []line
	rows  []*Row
}

var defaultHeader = []string{
	"|cli-tool|model|layer|conversion|app|orig-exists|converted|compiled automatic|ran|smoke|",
	"|--------|-----|-----|----------|---|-----------|---------|------------------|---|-----|",
}

// New returns an empty table carrying the standard header.
func New() *Table {
	t := &Table{}
	for _, h := range defaultHeader {
		t.lines = append(t.lines, line{raw: h})
	}
	return t
}

// Load reads and parses a ledger file. A missing file yields a fresh table
// with the standard header, so every stage can bootstrap the ledger.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", path, err)
	}
	return Parse(data), nil
}

// Parse builds a table from raw markdown bytes.
func Parse(data []byte) *Table {
	t := &Table{}
	for _, raw := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		t.lines = append(t.lines, parseLine(raw))
		if r := t.lines[len(t.lines)-1].row; r != nil {
			t.rows = append(t.rows, r)
		}
	}
	return t
}

func parseLine(raw string) line {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "|") || strings.HasPrefix(s, "|-") {
		return line{raw: raw}
	}
	cells := strings.Split(raw, "|")
	if len(cells) < cellConverted {
		return line{raw: raw}
	}
	get := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}
	// Skip the header row itself.
	if get(cellCliTool) == "cli-tool" {
		return line{raw: raw}
	}
	row := &Row{
		Key: Key{
			CliTool:    get(cellCliTool),
			Model:      get(cellModel),
			Layer:      get(cellLayer),
			Conversion: get(cellConversion),
			App:        get(cellApp),
		},
		OrigExists: get(cellOrigExists),
		Converted:  SplitSymbols(get(cellConverted)),
		Compiled:   SplitSymbols(get(cellCompiled)),
		Ran:        SplitSymbols(get(cellRan)),
		cells:      cells,
	}
	return line{raw: raw, row: row}
}

// Rows returns all parsed rows in table order.
func (t *Table) Rows() []*Row { return t.rows }

// Find returns the row for key, or nil.
func (t *Table) Find(key Key) *Row {
	for _, r := range t.rows {
		if r.Key == key {
			return r
		}
	}
	return nil
}

// Upsert writes symbol into the stage slot for run index runIdx (1-based)
// of the row identified by key. Absent rows are appended with all slots
// pending; existing rows have exactly that one slot replaced. Other slots,
// stages, and rows are untouched.
func (t *Table) Upsert(key Key, stage Stage, runIdx int, symbol string) error {
	if runIdx < 1 {
		return fmt.Errorf("ledger: run index must be >= 1, got %d", runIdx)
	}
	row := t.Find(key)
	if row == nil {
		row = t.appendRow(key)
	}
	slots := row.Slots(stage)
	for len(slots) < runIdx {
		slots = append(slots, Pending)
	}
	slots[runIdx-1] = symbol
	switch stage {
	case StageConverted:
		row.Converted = slots
	case StageCompiled:
		row.Compiled = slots
	case StageRan:
		row.Ran = slots
	default:
		return fmt.Errorf("ledger: unknown stage %q", stage)
	}
	row.dirty = true
	return nil
}

// SetSlots replaces the full slot sequence for a stage, appending the row
// if needed. Used by stages that compute a whole run vector at once.
func (t *Table) SetSlots(key Key, stage Stage, slots []string) {
	row := t.Find(key)
	if row == nil {
		row = t.appendRow(key)
	}
	switch stage {
	case StageConverted:
		row.Converted = append([]string(nil), slots...)
	case StageCompiled:
		row.Compiled = append([]string(nil), slots...)
	case StageRan:
		row.Ran = append([]string(nil), slots...)
	}
	row.dirty = true
}

func (t *Table) appendRow(key Key) *Row {
	row := &Row{
		Key:        key,
		OrigExists: Pass,
		cells:      make([]string, cellSmoke+2),
		dirty:      true,
	}
	row.cells[cellCliTool] = key.CliTool
	row.cells[cellModel] = key.Model
	row.cells[cellLayer] = key.Layer
	row.cells[cellConversion] = key.Conversion
	row.cells[cellApp] = key.App
	row.cells[cellOrigExists] = row.OrigExists
	t.lines = append(t.lines, line{row: row})
	t.rows = append(t.rows, row)
	return row
}

// Render serializes the table. Unmodified lines are emitted verbatim;
// modified rows re-render only their status cells, keeping the original
// text of every other cell.
func (t *Table) Render() []byte {
	var b strings.Builder
	for _, ln := range t.lines {
		if ln.row == nil || !ln.row.dirty {
			b.WriteString(ln.raw)
			b.WriteByte('\n')
			continue
		}
		b.WriteString(ln.row.render())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func (r *Row) render() string {
	cells := append([]string(nil), r.cells...)
	for len(cells) <= cellSmoke+1 {
		cells = append(cells, "")
	}
	cells[cellConverted] = JoinSymbols(r.Converted)
	cells[cellCompiled] = JoinSymbols(r.Compiled)
	cells[cellRan] = JoinSymbols(r.Ran)
	return strings.Join(cells, "|")
}

// Save writes the rendered table to path.
func (t *Table) Save(path string) error {
	if err := os.WriteFile(path, t.Render(), 0o644); err != nil {
		return fmt.Errorf("ledger: write %s: %w", path, err)
	}
	return nil
}
