package sheets

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/phillip-england/projectdesk/internal/records"
)

func TestWriteXLSXThenReadRows(t *testing.T) {
	headers, rows := RecordRows(records.Leads, []records.Record{
		{"number": "LD-0001", "customerName": "Acme", "estimatedValue": 125000.0, "status": "New", "expectedStartDate": "2025-06-01"},
		{"number": "LD-0002", "customerName": "Bolt & Co", "requirements": "<p>Fit <b>out</b></p>"},
	})
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, "Leads: export", headers, rows))

	got, err := ReadRows(bytes.NewReader(buf.Bytes()), "leads.xlsx")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Lead No", got[0][0])
	assert.Equal(t, "Acme", got[1][1])
	assert.Contains(t, got[1], "125000")
	assert.Contains(t, got[1], "01 Jun 2025")
	assert.Contains(t, got[2], "Fit out")

	file, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, "Leads- export", file.GetSheetName(0))
}

func TestReadRowsRejectsUnknownExtension(t *testing.T) {
	_, err := ReadRows(strings.NewReader("a,b"), "leads.csv")
	assert.Error(t, err)
}

func TestImportRecords(t *testing.T) {
	rows := [][]string{
		{"", ""},
		{"Customer", "Phone", "Estimated Value", "Expected Start", "status", "Unknown"},
		{"Acme", "555-0100", "$12,500.00", "45658", "qualified", "ignored"},
		{"", "", "", "", "", ""},
		{"", "555-0101", "10", "", "", ""},
		{"Delta", "", "lots", "someday", "", ""},
		{"Echo", "", "", "3/2/2025", "", ""},
	}
	recs, errs := ImportRecords(records.Leads, rows)
	require.Len(t, recs, 2)
	assert.Equal(t, "Acme", recs[0].String("customerName"))
	assert.Equal(t, 12500.0, recs[0].Float("estimatedValue"))
	assert.Equal(t, "2025-01-01", recs[0].String("expectedStartDate"))
	assert.Equal(t, "Qualified", recs[0].String("status"))
	_, hasUnknown := recs[0]["Unknown"]
	assert.False(t, hasUnknown)
	assert.Equal(t, "2025-02-03", recs[1].String("expectedStartDate"))

	require.Len(t, errs, 2)
	assert.Equal(t, 5, errs[0].Row)
	assert.Equal(t, "missing Customer", errs[0].Message)
	assert.Equal(t, 6, errs[1].Row)
	assert.Contains(t, errs[1].Error(), "row 6")
	assert.Contains(t, errs[1].Message, "Estimated Value")
	assert.Contains(t, errs[1].Message, "Expected Start")
}

func TestImportRecordsWithoutKnownColumns(t *testing.T) {
	_, errs := ImportRecords(records.Leads, [][]string{{"foo", "bar"}, {"1", "2"}})
	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].Row)
}

func TestNormalizeDate(t *testing.T) {
	cases := map[string]string{
		"2025-01-31":   "2025-01-31",
		"31/01/2025":   "2025-01-31",
		"Jan 31, 2025": "2025-01-31",
	}
	for in, want := range cases {
		got, ok := NormalizeDate(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := NormalizeDate("2025")
	assert.False(t, ok)
}

func TestReadRowsReturnsTypedCellsRaw(t *testing.T) {
	file := excelize.NewFile()
	sheet := file.GetSheetName(0)
	require.NoError(t, file.SetSheetRow(sheet, "A1", &[]any{"Customer", "Estimated Value", "Expected Start"}))
	require.NoError(t, file.SetCellValue(sheet, "A2", "Acme"))
	require.NoError(t, file.SetCellValue(sheet, "B2", 1200.5))
	require.NoError(t, file.SetCellValue(sheet, "C2", 45658))
	dateStyle, err := file.NewStyle(&excelize.Style{NumFmt: 14})
	require.NoError(t, err)
	require.NoError(t, file.SetCellStyle(sheet, "C2", "C2", dateStyle))
	moneyStyle, err := file.NewStyle(&excelize.Style{NumFmt: 4})
	require.NoError(t, err)
	require.NoError(t, file.SetCellStyle(sheet, "B2", "B2", moneyStyle))
	var buf bytes.Buffer
	require.NoError(t, file.Write(&buf))
	require.NoError(t, file.Close())

	rows, err := ReadRows(bytes.NewReader(buf.Bytes()), "leads.xlsx")
	require.NoError(t, err)
	recs, errs := ImportRecords(records.Leads, rows)
	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, "2025-01-01", recs[0].String("expectedStartDate"))
	assert.Equal(t, 1200.5, recs[0].Float("estimatedValue"))
}

func TestParseAmount(t *testing.T) {
	cases := map[string]float64{
		"Rs. 5,00,000": 500000,
		"Rs.5000":      5000,
		"₹1,234.50":    1234.5,
		"$12,500.00":   12500,
		"INR 750":      750,
		"750 INR":      750,
		"-$40":         -40,
		"$-40":         -40,
		"15%":          15,
		".5":           0.5,
	}
	for in, want := range cases {
		got, ok := parseAmount(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"$-", "1.2.3", "--5", "lots", "", "Rs.", "1-2", "5e3"} {
		_, ok := parseAmount(in)
		assert.False(t, ok, in)
	}
}
