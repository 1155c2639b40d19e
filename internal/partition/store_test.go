package partition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFromCSVDeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "zips.csv",
		"zip_code,effective_date,subtype\n"+
			"94501,2025-01-01,Condominium\n"+
			"94502,2025-01-01,Townhouse\n"+
			"\n"+
			"94610,2025-02-01,Condominium\n")

	st, err := FromCSV(path)
	require.NoError(t, err)
	require.Equal(t, 3, st.Len())
	require.Equal(t, 3, st.Remaining())

	first := st.Next()
	require.Equal(t, "94501|2025-01-01|Condominium", first.ID)
	require.Equal(t, "94501", first.Get("zip_code"))
	require.Equal(t, "Condominium", first.Get("subtype"))
	require.Equal(t, 2, st.Remaining())

	st.Next()
	last := st.Next()
	require.Equal(t, "94610", last.Get("zip_code"))
	require.Nil(t, st.Next())
	require.Equal(t, 0, st.Remaining())
}

func TestFromCSVDuplicateHeaders(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "dupes.csv",
		"city,price,price\nBath,100,200\n")

	st, err := FromCSV(path)
	require.NoError(t, err)
	p := st.Next()
	require.Equal(t, "100", p.Get("price"))
	require.Equal(t, "200", p.Get("price_2"))
}

func TestFromCSVExplicitIDColumn(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ids.csv", "id,postcode\nbath-1,BA1 1AA\n")

	st, err := FromCSV(path)
	require.NoError(t, err)
	p := st.Next()
	require.Equal(t, "bath-1", p.ID)
	require.Equal(t, "BA1 1AA", p.Get("postcode"))
}

func TestFromXLSXMultipleTabsAndDates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.xlsx")

	wb := excelize.NewFile()
	require.NoError(t, wb.SetCellValue("Sheet1", "A1", "zip_code"))
	require.NoError(t, wb.SetCellValue("Sheet1", "B1", "effective_date"))
	require.NoError(t, wb.SetCellValue("Sheet1", "A2", "94501"))
	require.NoError(t, wb.SetCellValue("Sheet1", "B2", "01/02/2025"))

	_, err := wb.NewSheet("Extra")
	require.NoError(t, err)
	require.NoError(t, wb.SetCellValue("Extra", "A1", "zip_code"))
	require.NoError(t, wb.SetCellValue("Extra", "B1", "effective_date"))
	require.NoError(t, wb.SetCellValue("Extra", "A2", "94610"))
	require.NoError(t, wb.SetCellValue("Extra", "B2", "2025-03-01"))
	require.NoError(t, wb.SaveAs(path))
	require.NoError(t, wb.Close())

	st, err := FromXLSX(path)
	require.NoError(t, err)
	require.Equal(t, 2, st.Len())

	p := st.Next()
	require.Equal(t, "94501", p.Get("zip_code"))
	require.Equal(t, "2025-01-02", p.Get("effective_date"))

	p2 := st.Next()
	require.Equal(t, "2025-03-01", p2.Get("effective_date"))
}

func TestFromGlobMissingInput(t *testing.T) {
	_, err := FromGlob(filepath.Join(t.TempDir(), "*.csv"))
	require.Error(t, err)
}

func TestCross(t *testing.T) {
	parts := Cross(
		[]string{"subtype", "county"},
		[][]string{{"Condominium", "Townhouse"}, {"Somerset", "Devon"}},
	)
	require.Len(t, parts, 4)
	require.Equal(t, "Condominium|Somerset", parts[0].ID)
	require.Equal(t, "Townhouse|Devon", parts[3].ID)
	require.Equal(t, "Devon", parts[3].Get("county"))
}
