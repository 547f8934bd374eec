package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/dukerupert/patrimonio/internal/model"
)

var ErrNoHeader = errors.New("spreadsheet has no Nome column")

// Row is one parsed data row. Line is the 1-based spreadsheet row number.
type Row struct {
	Line      int
	Equipment model.Equipment
	Err       error
}

type column int

const (
	colName column = iota
	colCategory
	colBrand
	colSector
	colJobRole
	colShared
	colSerial
	colAcquired
	colValue
	colNotes
)

// aliases maps normalized header text to a column.
var aliases = map[string]column{
	"nome":          colName,
	"name":          colName,
	"categoria":     colCategory,
	"category":      colCategory,
	"marca":         colBrand,
	"brand":         colBrand,
	"setor":         colSector,
	"sector":        colSector,
	"cargo":         colJobRole,
	"job role":      colJobRole,
	"compartilhado": colShared,
	"shared":        colShared,
	"serie":         colSerial,
	"numero serie":  colSerial,
	"serial":        colSerial,
	"serial number": colSerial,
	"aquisicao":     colAcquired,
	"acquired at":   colAcquired,
	"valor":         colValue,
	"value":         colValue,
	"observacoes":   colNotes,
	"notes":         colNotes,
}

var accents = strings.NewReplacer(
	"á", "a", "à", "a", "ã", "a", "â", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "õ", "o", "ô", "o",
	"ú", "u",
	"ç", "c",
	"_", " ",
)

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.Join(strings.Fields(accents.Replace(h)), " ")
}

// ParseCSV reads a CSV export (or a hand-made file with the same headers).
func ParseCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return parseRecords(records)
}

// ParseXLSX reads the first sheet of a workbook.
func ParseXLSX(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoHeader
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return parseRecords(records)
}

func parseRecords(records [][]string) ([]Row, error) {
	if len(records) == 0 {
		return nil, ErrNoHeader
	}

	index := make(map[column]int)
	for i, h := range records[0] {
		if c, ok := aliases[normalizeHeader(h)]; ok {
			if _, seen := index[c]; !seen {
				index[c] = i
			}
		}
	}
	if _, ok := index[colName]; !ok {
		return nil, ErrNoHeader
	}

	var rows []Row
	for i, rec := range records[1:] {
		get := func(c column) string {
			idx, ok := index[c]
			if !ok || idx >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[idx])
		}
		if blank(rec) {
			continue
		}
		e, err := buildEquipment(get)
		rows = append(rows, Row{Line: i + 2, Equipment: e, Err: err})
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func buildEquipment(get func(column) string) (model.Equipment, error) {
	e := model.Equipment{
		Name:         get(colName),
		Category:     strings.ToUpper(get(colCategory)),
		Brand:        get(colBrand),
		Sector:       get(colSector),
		JobRole:      get(colJobRole),
		SerialNumber: get(colSerial),
		Notes:        get(colNotes),
	}
	if e.Name == "" {
		return e, errors.New("name is required")
	}
	if e.Category == "" {
		e.Category = "NOTEBOOK"
	}
	if !model.ValidCategory(e.Category) {
		return e, fmt.Errorf("unknown category %q", e.Category)
	}

	shared, err := parseBool(get(colShared))
	if err != nil {
		return e, err
	}
	e.Shared = shared

	if v := get(colAcquired); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return e, err
		}
		e.AcquiredAt = &t
	}
	if v := get(colValue); v != "" {
		f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
		if err != nil || f < 0 {
			return e, fmt.Errorf("invalid value %q", v)
		}
		e.AcquisitionValue = &f
	}
	return e, nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToUpper(v) {
	case "", "NAO", "NÃO", "NO", "N", "FALSE", "0":
		return false, nil
	case "SIM", "YES", "S", "Y", "TRUE", "1":
		return true, nil
	}
	return false, fmt.Errorf("invalid shared flag %q", v)
}

func parseDate(v string) (time.Time, error) {
	for _, layout := range []string{dateLayout, "2006-01-02", dateTimeLayout} {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", v)
}
