package sheet

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sh, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, r := range rows {
		addRow(sh, r)
	}
	p := filepath.Join(t.TempDir(), "offers.xlsx")
	require.NoError(t, f.Save(p))
	return p
}

func TestReadRecordsCSV(t *testing.T) {
	p := writeFile(t, "offers.csv", "\xef\xbb\xbfitemid,title,price\n1,Fone,\"77,89\"\n,,\n2,Caneca,19.90\n")
	records, err := ReadRecords(p)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0]["itemid"])
	assert.Equal(t, "77,89", records[0]["price"])
	assert.Equal(t, "Caneca", records[1]["title"])
}

func TestReadRecordsSemicolonCSV(t *testing.T) {
	p := writeFile(t, "offers.csv", "id;titulo;preco_atual\n1;Fone;77,89\n2;Caneca\n")
	records, err := ReadRecords(p)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "77,89", records[0]["preco_atual"])
	_, ok := records[1]["preco_atual"]
	assert.False(t, ok, "short rows leave trailing columns unset")
}

func TestReadRecordsXLSX(t *testing.T) {
	p := createTestXLSX(t, [][]string{
		{"itemid", "productName", "priceMin"},
		{"10", "Mochila", "99.90"},
	})
	records, err := ReadRecords(p)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Mochila", records[0]["productName"])
}

func TestReadRecordsUnsupported(t *testing.T) {
	_, err := ReadRecords(writeFile(t, "offers.json", "{}"))
	assert.Error(t, err)
}

func TestFileSource(t *testing.T) {
	a := writeFile(t, "a.csv", "id,title\n1,A\n")
	b := writeFile(t, "b.csv", "id,title\n2,B\n")
	records, err := FileSource{Paths: []string{a, b}}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = FileSource{Paths: []string{filepath.Join(t.TempDir(), "missing.csv")}}.Fetch(context.Background())
	assert.Error(t, err)
}

func TestAgendaRoundTrip(t *testing.T) {
	rows := []AgendaRow{
		{Time: "09:00", Block: "A", ProductID: "1", Title: "Fone", Price: "77.89", Link: "https://s/1", Valid: true, Message: "🔥 Fone\n💰 R$ 77,89"},
		{Time: "10:00", Block: "A", Reason: "NO_ELIGIBLE_OFFER"},
	}
	dir := t.TempDir()

	xp := filepath.Join(dir, "agenda.xlsx")
	require.NoError(t, WriteAgendaXLSX(xp, rows))
	got, err := ReadRows(xp)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, AgendaHeader, got[0])
	assert.Equal(t, "Fone", got[1][3])
	assert.Equal(t, "true", got[1][7])
	assert.Equal(t, "NO_ELIGIBLE_OFFER", got[2][8])

	cp := filepath.Join(dir, "agenda.csv")
	require.NoError(t, WriteAgendaCSV(cp, rows))
	records, err := ReadRecords(cp)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "🔥 Fone\n💰 R$ 77,89", records[0]["message"])
	assert.Equal(t, "false", records[1]["valid"])
}
