package excel

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"pharmacy/internal/domain"
)

// BatchRow is one received lot read from a receiving sheet.
type BatchRow struct {
	Row         int
	ProductID   string
	WarehouseID string
	LotNumber   string
	ExpiryDate  time.Time
	Quantity    int
	Zone        domain.Zone
}

var batchHeaderAliases = map[string]string{
	"product id":           "product_id",
	"product":              "product_id",
	"sku":                  "product_id",
	"codigo":               "product_id",
	"código":               "product_id",
	"producto":             "product_id",
	"warehouse id":         "warehouse_id",
	"warehouse":            "warehouse_id",
	"almacen":              "warehouse_id",
	"almacén":              "warehouse_id",
	"deposito":             "warehouse_id",
	"depósito":             "warehouse_id",
	"lot number":           "lot_number",
	"lot":                  "lot_number",
	"lote":                 "lot_number",
	"expiry date":          "expiry_date",
	"expiry":               "expiry_date",
	"expiration":           "expiry_date",
	"vencimiento":          "expiry_date",
	"fecha de vencimiento": "expiry_date",
	"quantity":             "quantity",
	"qty":                  "quantity",
	"cantidad":             "quantity",
	"zone":                 "zone",
	"zona":                 "zone",
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"01-02-06",
}

// ParseBatchRows reads the first sheet of a receiving workbook. Rows without
// a product id are skipped; a missing warehouse falls back to
// defaultWarehouse and a missing zone to available.
func ParseBatchRows(reader io.Reader, defaultWarehouse string) ([]BatchRow, error) {
	file, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("open excel file: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel file has no sheets")
	}

	rows, err := file.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("excel file is empty")
	}

	colMap := mapColumns(rows[0], batchHeaderAliases)
	for _, required := range []string{"product_id", "lot_number", "expiry_date", "quantity"} {
		if _, ok := colMap[required]; !ok {
			return nil, fmt.Errorf("missing required column: %s", required)
		}
	}

	result := make([]BatchRow, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		productID := strings.TrimSpace(readCell(cells, colMap["product_id"]))
		if productID == "" {
			continue
		}
		line := index + 1

		lot := strings.TrimSpace(readCell(cells, colMap["lot_number"]))
		if lot == "" {
			return nil, fmt.Errorf("row %d: lot number is empty", line)
		}

		expiry, err := parseDate(readCell(cells, colMap["expiry_date"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid expiry date: %w", line, err)
		}

		qty, err := parseInt(readCell(cells, colMap["quantity"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid quantity: %w", line, err)
		}
		if qty < 0 {
			return nil, fmt.Errorf("row %d invalid quantity: cannot be negative", line)
		}

		warehouse := defaultWarehouse
		if value := strings.TrimSpace(readOptionalCell(cells, colMap, "warehouse_id")); value != "" {
			warehouse = value
		}
		if warehouse == "" {
			return nil, fmt.Errorf("row %d: warehouse is empty and no default is configured", line)
		}

		zone := domain.ZoneAvailable
		if value := strings.ToLower(strings.TrimSpace(readOptionalCell(cells, colMap, "zone"))); value != "" {
			zone, err = parseZone(value)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", line, err)
			}
		}

		result = append(result, BatchRow{
			Row:         line,
			ProductID:   productID,
			WarehouseID: warehouse,
			LotNumber:   lot,
			ExpiryDate:  expiry,
			Quantity:    qty,
			Zone:        zone,
		})
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("excel file has no valid data rows")
	}
	return result, nil
}

func parseZone(raw string) (domain.Zone, error) {
	switch domain.Zone(raw) {
	case domain.ZoneAvailable, domain.ZoneQuarantine, domain.ZoneRejected, domain.ZoneApproved, domain.ZoneDamaged:
		return domain.Zone(raw), nil
	}
	switch raw {
	case "disponible":
		return domain.ZoneAvailable, nil
	case "cuarentena":
		return domain.ZoneQuarantine, nil
	case "rechazado":
		return domain.ZoneRejected, nil
	case "aprobado":
		return domain.ZoneApproved, nil
	case "dañado", "danado":
		return domain.ZoneDamaged, nil
	}
	return "", fmt.Errorf("unknown zone %q", raw)
}

// parseDate accepts an Excel date serial or one of the common text layouts.
func parseDate(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("value is empty")
	}
	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, err
		}
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}

func mapColumns(header []string, aliases map[string]string) map[string]int {
	mapped := make(map[string]int)
	for idx, col := range header {
		normalized := normalizeHeader(col)
		if normalized == "" {
			continue
		}
		canonical, ok := aliases[normalized]
		if !ok {
			continue
		}
		if _, exists := mapped[canonical]; !exists {
			mapped[canonical] = idx
		}
	}
	return mapped
}

func normalizeHeader(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "\ufeff")
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

func readCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func readOptionalCell(cells []string, colMap map[string]int, key string) string {
	idx, ok := colMap[key]
	if !ok {
		return ""
	}
	return readCell(cells, idx)
}

func parseInt(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("value is empty")
	}

	asFloat, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if math.Mod(asFloat, 1) != 0 {
		return 0, fmt.Errorf("must be an integer")
	}
	return int(asFloat), nil
}
