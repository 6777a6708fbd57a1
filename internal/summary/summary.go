// Package summary aggregates ledger rows into per-solution pass rates and
// maintains the durable summary CSV across reruns.
package summary

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/refit-bench/refit/internal/ledger"
)

// Header is the summary CSV column order.
var Header = []string{"solution", "org", "date", "status", "link", "layer", "from", "to", "compile", "run", "translate"}

// Row is one summary CSV record. Percentage fields hold formatted values so
// rows loaded from disk round-trip unchanged.
type Row struct {
	Solution  string
	Org       string
	Date      string
	Status    string
	Link      string
	Layer     string
	From      string
	To        string
	Compile   string
	Run       string
	Translate string
}

type rowKey struct {
	solution, layer, from, to string
}

func (r Row) key() rowKey { return rowKey{r.Solution, r.Layer, r.From, r.To} }

// stats accumulates pass/total counts for one (model, layer, conversion)
// group across ledger rows.
type stats struct {
	translatePass, translateTotal int
	compilePass, compileTotal     int
	runPass, runTotal             int
}

// Aggregate computes pass rates from the ledger grouped by
// (model, layer, conversion). Caller metadata (org, link) is applied to new
// rows; Merge reconciles with previously written rows.
func Aggregate(t *ledger.Table, org, link string) []Row {
	type groupKey struct {
		model, layer, conversion string
	}
	groups := make(map[groupKey]*stats)
	var order []groupKey

	for _, row := range t.Rows() {
		if row.Key.Layer == "" {
			continue
		}
		gk := groupKey{row.Key.Model, row.Key.Layer, row.Key.Conversion}
		st, ok := groups[gk]
		if !ok {
			st = &stats{}
			groups[gk] = st
			order = append(order, gk)
		}
		p, n := countMarks(row.Slots(ledger.StageConverted))
		st.translatePass += p
		st.translateTotal += n
		p, n = countMarks(row.Slots(ledger.StageCompiled))
		st.compilePass += p
		st.compileTotal += n
		p, n = countRanMarks(row.Slots(ledger.StageRan))
		st.runPass += p
		st.runTotal += n
	}

	today := time.Now().Format("01/02/06")
	rows := make([]Row, 0, len(order))
	for _, gk := range order {
		st := groups[gk]
		from, to := splitConversion(gk.conversion)
		rows = append(rows, Row{
			Solution:  gk.model,
			Org:       org,
			Date:      today,
			Status:    "Computed",
			Link:      link,
			Layer:     displayLayer(gk.layer),
			From:      from,
			To:        to,
			Compile:   percent(st.compilePass, st.compileTotal),
			Run:       percent(st.runPass, st.runTotal),
			Translate: percent(st.translatePass, st.translateTotal),
		})
	}
	return rows
}

// countMarks tallies pass and decided slots for the converted and compiled
// stages. Pending slots count toward neither.
func countMarks(slots []string) (pass, total int) {
	for _, s := range slots {
		switch s {
		case ledger.Pass:
			pass++
			total++
		case ledger.Fail:
			total++
		}
	}
	return pass, total
}

// countRanMarks tallies the ran stage, where every decided non-success
// symbol counts as failure.
func countRanMarks(slots []string) (pass, total int) {
	for _, s := range slots {
		switch {
		case ledger.IsRunSuccess(s):
			pass++
			total++
		case ledger.IsRunFailure(s):
			total++
		}
	}
	return pass, total
}

func percent(pass, total int) string {
	if total == 0 {
		return "0.0"
	}
	return strconv.FormatFloat(float64(pass)/float64(total)*100, 'f', 1, 64)
}

func splitConversion(conversion string) (from, to string) {
	if idx := strings.Index(conversion, "-to-"); idx >= 0 {
		return conversion[:idx], conversion[idx+len("-to-"):]
	}
	return "", ""
}

func displayLayer(layer string) string {
	if layer == "whole_applications" {
		return "whole app"
	}
	return strings.ReplaceAll(layer, "_", " ")
}

// Merge reconciles freshly aggregated rows with the previously written CSV.
// Recomputed keys keep their stored org, date, status, and link unless the
// caller supplied overrides; keys absent from this aggregation survive
// untouched. Result is sorted by (solution, from, to).
func Merge(fresh, existing []Row) []Row {
	byKey := make(map[rowKey]Row, len(existing))
	for _, r := range existing {
		byKey[r.key()] = r
	}

	out := make([]Row, 0, len(fresh)+len(existing))
	seen := make(map[rowKey]bool, len(fresh))
	for _, r := range fresh {
		if prev, ok := byKey[r.key()]; ok {
			if r.Org == "" {
				r.Org = prev.Org
			}
			if r.Link == "" {
				r.Link = prev.Link
			}
			if prev.Date != "" {
				r.Date = prev.Date
			}
			if prev.Status != "" {
				r.Status = prev.Status
			}
		}
		out = append(out, r)
		seen[r.key()] = true
	}
	for _, r := range existing {
		if !seen[r.key()] {
			out = append(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Solution != b.Solution {
			return a.Solution < b.Solution
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	return out
}

// LoadCSV reads a previously written summary. A missing file yields no rows.
func LoadCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("summary: open %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("summary: read %s: %w", path, err)
	}
	var rows []Row
	for i, rec := range records {
		if i == 0 || len(rec) < len(Header) {
			continue
		}
		rows = append(rows, Row{
			Solution: rec[0], Org: rec[1], Date: rec[2], Status: rec[3], Link: rec[4],
			Layer: rec[5], From: rec[6], To: rec[7],
			Compile: rec[8], Run: rec[9], Translate: rec[10],
		})
	}
	return rows, nil
}

// WriteCSV writes the summary, creating parent directories as needed.
func WriteCSV(path string, rows []Row) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("summary: create %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("summary: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("summary: write %s: %w", path, err)
	}
	for _, r := range rows {
		rec := []string{r.Solution, r.Org, r.Date, r.Status, r.Link, r.Layer, r.From, r.To, r.Compile, r.Run, r.Translate}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("summary: write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("summary: write %s: %w", path, err)
	}
	return nil
}
