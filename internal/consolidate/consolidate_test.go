package consolidate

import (
	"archive/zip"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// writeStatement creates a workbook with the given sheets; each sheet is a
// header row followed by data rows.
func writeStatement(t *testing.T, path string, sheets map[string][][]string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	first := true
	for name, rows := range sheets {
		if first {
			if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
				t.Fatal(err)
			}
			first = false
		} else if _, err := f.NewSheet(name); err != nil {
			t.Fatal(err)
		}
		for i, r := range rows {
			vals := make([]any, len(r))
			for j, v := range r {
				vals[j] = v
			}
			cell, _ := excelize.CoordinatesToCellName(1, i+1)
			if err := f.SetSheetRow(name, cell, &vals); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
}

func TestInferMonth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		want string
	}{
		{"GSTR2B_July_2023.xlsx", "July"},
		{"052023 may statement.xlsx", "May"},
		{"MARCH-2024.xlsx", "March"},
		{"Mayhem.xlsx", ""},
		{"062023_27AAAAA0000A1Z5_GSTR2B.xlsx", ""},
	}
	for _, tt := range tests {
		if got := InferMonth(tt.name); got != tt.want {
			t.Errorf("InferMonth(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestCombine(t *testing.T) {
	dir := t.TempDir()
	writeStatement(t, filepath.Join(dir, "GSTR2B_April.xlsx"), map[string][][]string{
		"B2B":    {{"GSTIN of supplier", "Invoice number"}, {"29BBB", "INV-1"}, {"29CCC", "INV-2"}},
		"Read me": {{"ignored"}, {"x"}},
	})
	writeStatement(t, filepath.Join(dir, "GSTR2B_May.xlsx"), map[string][][]string{
		"B2B":  {{" Invoice number ", "Taxable value"}, {"INV-9", "100"}},
		"IMPG": {{"Port code"}},
	})
	writeStatement(t, filepath.Join(dir, CombinedName("2023-24")), map[string][][]string{
		"B2B": {{"stale"}, {"stale"}},
	})
	if err := os.WriteFile(filepath.Join(dir, "captcha.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := Combine(dir, "2023-24")
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if filepath.Base(out) != "GSTR2B_Combined_2023-24.xlsx" {
		t.Errorf("out = %s", out)
	}

	f, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if got := f.GetSheetList(); !slices.Equal(got, Sheets) {
		t.Errorf("sheets = %v, want %v", got, Sheets)
	}

	rows, err := f.GetRows("B2B")
	if err != nil {
		t.Fatal(err)
	}
	wantHeader := []string{"Month", "SourceFile", "GSTIN of supplier", "Invoice number", "Taxable value"}
	if !slices.Equal(rows[0], wantHeader) {
		t.Errorf("header = %v, want %v", rows[0], wantHeader)
	}
	if len(rows) != 4 {
		t.Fatalf("B2B rows = %d, want header + 3", len(rows))
	}
	if rows[1][0] != "April" || rows[1][1] != "GSTR2B_April.xlsx" || rows[1][3] != "INV-1" {
		t.Errorf("first row = %v", rows[1])
	}
	if rows[3][0] != "May" || rows[3][3] != "INV-9" || rows[3][4] != "100" {
		t.Errorf("May row = %v", rows[3])
	}
	for _, r := range rows {
		if slices.Contains(r, "stale") {
			t.Error("previous combined workbook was merged")
		}
	}

	// Header-only sources and absent sheets both yield the two bookkeeping columns.
	for _, sheet := range []string{"IMPG", "ISD"} {
		rows, err := f.GetRows(sheet)
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 1 || !slices.Equal(rows[0], []string{"Month", "SourceFile"}) {
			t.Errorf("%s = %v", sheet, rows)
		}
	}
}

func TestCombineNoFiles(t *testing.T) {
	dir := t.TempDir()
	out, err := Combine(dir, "2023-24")
	if err != nil || out != "" {
		t.Errorf("Combine(empty) = %q, %v", out, err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("wrote %d files into an empty folder", len(entries))
	}
}

func TestCombineSkipsCorruptWorkbook(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.xlsx"), []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeStatement(t, filepath.Join(dir, "June.xlsx"), map[string][][]string{
		"ISD": {{"Document"}, {"D1"}},
	})
	out, err := Combine(dir, "2023-24")
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	f, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, _ := f.GetRows("ISD")
	if len(rows) != 2 || rows[1][0] != "June" {
		t.Errorf("ISD = %v", rows)
	}
}

func TestPackageAndCleanup(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "acme", "2023-24")
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "April.xlsx"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(dir, "nested", "note.txt"), []byte("n"), 0o644)

	archive, err := Package(dir)
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if filepath.Dir(archive) != filepath.Join(root, "acme") {
		t.Errorf("archive %s not beside the folder", archive)
	}
	base := filepath.Base(archive)
	hex := strings.TrimSuffix(strings.TrimPrefix(base, "2023-24_"), ".zip")
	if !strings.HasPrefix(base, "2023-24_") || len(hex) != 32 {
		t.Errorf("archive name = %s", base)
	}

	zr, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	zr.Close()
	slices.Sort(names)
	if !slices.Equal(names, []string{"April.xlsx", "nested/note.txt"}) {
		t.Errorf("entries = %v", names)
	}

	if err := Cleanup(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("folder still present: %v", err)
	}
	if _, err := os.Stat(archive); err != nil {
		t.Errorf("cleanup removed the archive: %v", err)
	}
}
