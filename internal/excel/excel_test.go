package excel

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T, rows ...[]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellName, &row))
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func TestParseRows(t *testing.T) {
	buf := workbook(t,
		header,
		[]any{"Иванов Иван", "ivan@test.com", "", "", "admins, missing-group"},
		[]any{"", "skipped@test.com"},
		[]any{"  Petrov Petr  ", " petr@test.com ", "+7 900 123-45-67", "Engineer", " ,devs,, "},
		[]any{"Sidorov Sid", "sid@test.com"},
	)

	rows, total, err := ParseRows(buf)
	require.NoError(t, err)

	assert.Equal(t, 4, total)
	require.Len(t, rows, 3)

	assert.Equal(t, 2, rows[0].Row)
	assert.Equal(t, "Иванов Иван", rows[0].FullName)
	assert.Equal(t, []string{"admins", "missing-group"}, rows[0].Groups)

	assert.Equal(t, 4, rows[1].Row)
	assert.Equal(t, "Petrov Petr", rows[1].FullName)
	assert.Equal(t, "petr@test.com", rows[1].Email)
	assert.Equal(t, "+7 900 123-45-67", rows[1].Phone)
	assert.Equal(t, "Engineer", rows[1].Title)
	assert.Equal(t, []string{"devs"}, rows[1].Groups)

	assert.Equal(t, 5, rows[2].Row)
	assert.Empty(t, rows[2].Phone)
	assert.Empty(t, rows[2].Groups)
}

func TestParseRowsHeaderOnly(t *testing.T) {
	rows, total, err := ParseRows(workbook(t, header))
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Zero(t, total)
}

func TestParseRowsRejectsGarbage(t *testing.T) {
	_, _, err := ParseRows(strings.NewReader("not a workbook"))
	assert.Error(t, err)
}

func TestParseGroups(t *testing.T) {
	assert.Nil(t, ParseGroups(""))
	assert.Nil(t, ParseGroups(" , ,"))
	assert.Equal(t, []string{"a", "b c"}, ParseGroups("a, b c ,"))
}

func TestWriteTemplateRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTemplate(&buf))

	rows, total, err := ParseRows(&buf)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ivanov Ivan Ivanovich", rows[0].FullName)
	assert.Equal(t, []string{"developers", "vpn-users"}, rows[0].Groups)
}
