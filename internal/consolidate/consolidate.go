// Package consolidate merges the per-period statements of a fiscal year into
// one workbook and packages the fiscal-year folder for download.
package consolidate

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/gstrgate/gstrgate/internal/period"
)

// Sheets are the statement tables carried into the combined workbook, in output order.
var Sheets = []string{"B2B", "B2BA", "B2B-CDNR", "B2B-CDNRA", "ISD", "ISDA", "IMPG", "IMPGSEZ", "Ecomm", "EcommA"}

const (
	colMonth  = "Month"
	colSource = "SourceFile"
)

// CombinedName is the file name of the merged workbook for fy.
func CombinedName(fy string) string {
	return "GSTR2B_Combined_" + fy + ".xlsx"
}

var monthPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(period.Months))
	for i, m := range period.Months {
		out[i] = regexp.MustCompile(`(?i)(^|[^a-z])` + m + `([^a-z]|$)`)
	}
	return out
}()

// InferMonth finds a month name in a file name, or returns "".
func InferMonth(name string) string {
	for i, re := range monthPatterns {
		if re.MatchString(name) {
			return period.Months[i]
		}
	}
	return ""
}

// table accumulates one sheet across files, aligning columns by header name.
type table struct {
	columns []string
	index   map[string]int
	rows    []map[int]string
}

func newTable() *table {
	t := &table{index: map[string]int{}}
	t.column(colMonth)
	t.column(colSource)
	return t
}

func (t *table) column(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
	return t.index[name]
}

func (t *table) append(month, source string, rows [][]string) {
	header := make([]int, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = t.column(strings.TrimSpace(h))
	}
	for _, r := range rows[1:] {
		if isBlank(r) {
			continue
		}
		out := map[int]string{0: month, 1: source}
		for i, v := range r {
			if i < len(header) {
				out[header[i]] = v
			}
		}
		t.rows = append(t.rows, out)
	}
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Combine merges every per-period workbook in dir into CombinedName(fy) and
// returns its path. With no workbooks it writes nothing and returns "".
// Unreadable workbooks are skipped.
func Combine(dir, fy string) (string, error) {
	files, err := workbooks(dir, fy)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}

	tables := make(map[string]*table, len(Sheets))
	for _, s := range Sheets {
		tables[s] = newTable()
	}
	for _, name := range files {
		if err := readWorkbook(filepath.Join(dir, name), tables); err != nil {
			slog.Warn("skipping unreadable workbook", "file", name, "error", err)
		}
	}

	out := filepath.Join(dir, CombinedName(fy))
	if err := writeWorkbook(out, tables); err != nil {
		return "", err
	}
	return out, nil
}

func workbooks(dir, fy string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	combined := strings.TrimSuffix(CombinedName(fy), ".xlsx")
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".xlsx") || strings.HasPrefix(name, combined) {
			continue
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return out, nil
}

func readWorkbook(path string, tables map[string]*table) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.Base(path)
	month := InferMonth(name)
	for _, sheet := range f.GetSheetList() {
		t, ok := tables[sheet]
		if !ok {
			continue
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("sheet %s: %w", sheet, err)
		}
		if len(rows) < 2 {
			continue
		}
		t.append(month, name, rows)
	}
	return nil
}

func writeWorkbook(path string, tables map[string]*table) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	for i, sheet := range Sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
		if err := writeTable(f, sheet, tables[sheet]); err != nil {
			return fmt.Errorf("sheet %s: %w", sheet, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func writeTable(f *excelize.File, sheet string, t *table) error {
	header := make([]any, len(t.columns))
	for i, c := range t.columns {
		header[i] = c
	}
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	for n, r := range t.rows {
		row := make([]any, len(t.columns))
		for i := range row {
			row[i] = r[i]
		}
		if err := setRow(f, sheet, n+2, row); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
