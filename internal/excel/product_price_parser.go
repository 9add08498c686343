package excel

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ProductRow is one catalogue entry with its dual-currency price.
type ProductRow struct {
	Row                  int
	ID                   string
	Name                 string
	GenericName          *string
	Category             string
	PriceUSD             decimal.Decimal
	PriceLocal           decimal.Decimal
	TaxRate              decimal.Decimal
	TaxExempt            bool
	RequiresPrescription bool
	ControlledSubstance  bool
	ReorderThreshold     int
}

var productHeaderAliases = map[string]string{
	"id":                    "id",
	"product id":            "id",
	"sku":                   "id",
	"codigo":                "id",
	"código":                "id",
	"name":                  "name",
	"product name":          "name",
	"nombre":                "name",
	"generic name":          "generic_name",
	"generic":               "generic_name",
	"principio activo":      "generic_name",
	"category":              "category",
	"categoria":             "category",
	"categoría":             "category",
	"price usd":             "price_usd",
	"usd":                   "price_usd",
	"precio usd":            "price_usd",
	"price local":           "price_local",
	"precio bs":             "price_local",
	"precio ves":            "price_local",
	"bs":                    "price_local",
	"tax rate":              "tax_rate",
	"iva":                   "tax_rate",
	"tax exempt":            "tax_exempt",
	"exento":                "tax_exempt",
	"requires prescription": "requires_prescription",
	"prescription":          "requires_prescription",
	"recipe":                "requires_prescription",
	"récipe":                "requires_prescription",
	"controlled":            "controlled",
	"controlado":            "controlled",
	"reorder threshold":     "reorder_threshold",
	"stock minimo":          "reorder_threshold",
	"stock mínimo":          "reorder_threshold",
}

// ParseProductRows reads a catalogue from CSV or a workbook, choosing by file
// extension and trying both when the extension is unknown.
func ParseProductRows(fileName string, reader io.Reader) ([]ProductRow, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("input file is empty")
	}

	switch strings.ToLower(strings.TrimSpace(filepath.Ext(fileName))) {
	case ".csv":
		rows, err := parseCSVRows(data)
		if err != nil {
			return nil, err
		}
		return parseProductTable(rows)
	case ".xlsx", ".xlsm":
		rows, err := parseExcelRows(data)
		if err != nil {
			return nil, err
		}
		return parseProductTable(rows)
	default:
		if rows, err := parseExcelRows(data); err == nil {
			if items, err := parseProductTable(rows); err == nil {
				return items, nil
			}
		}
		if rows, err := parseCSVRows(data); err == nil {
			if items, err := parseProductTable(rows); err == nil {
				return items, nil
			}
		}
		return nil, fmt.Errorf("unsupported or invalid catalogue file format")
	}
}

func parseCSVRows(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("csv file is empty")
	}
	return rows, nil
}

func parseExcelRows(data []byte) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
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
	return rows, nil
}

func parseProductTable(rows [][]string) ([]ProductRow, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("input file is empty")
	}
	colMap := mapColumns(rows[0], productHeaderAliases)
	if !hasRequiredColumns(colMap, "id", "name", "price_usd") {
		return nil, fmt.Errorf("missing required columns: id, name, price_usd")
	}

	seen := make(map[string]int)
	result := make([]ProductRow, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		line := index + 1
		id := cleanText(readCell(cells, colMap["id"]))
		if id == "" {
			continue
		}
		name := cleanText(readCell(cells, colMap["name"]))
		if name == "" {
			return nil, fmt.Errorf("row %d: name is empty", line)
		}

		priceUSD, err := parsePriceValue(readCell(cells, colMap["price_usd"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid price_usd: %w", line, err)
		}
		row := ProductRow{
			Row:      line,
			ID:       id,
			Name:     name,
			Category: cleanText(readOptionalCell(cells, colMap, "category")),
			PriceUSD: priceUSD,
		}
		if generic := cleanText(readOptionalCell(cells, colMap, "generic_name")); generic != "" {
			row.GenericName = &generic
		}
		if raw := cleanText(readOptionalCell(cells, colMap, "price_local")); raw != "" {
			if row.PriceLocal, err = parsePriceValue(raw); err != nil {
				return nil, fmt.Errorf("row %d invalid price_local: %w", line, err)
			}
		}
		if raw := cleanText(readOptionalCell(cells, colMap, "tax_rate")); raw != "" {
			if row.TaxRate, err = parseRate(raw); err != nil {
				return nil, fmt.Errorf("row %d invalid tax_rate: %w", line, err)
			}
		}
		for key, dst := range map[string]*bool{
			"tax_exempt":            &row.TaxExempt,
			"requires_prescription": &row.RequiresPrescription,
			"controlled":            &row.ControlledSubstance,
		} {
			if *dst, err = parseFlag(readOptionalCell(cells, colMap, key)); err != nil {
				return nil, fmt.Errorf("row %d invalid %s: %w", line, key, err)
			}
		}
		if raw := cleanText(readOptionalCell(cells, colMap, "reorder_threshold")); raw != "" {
			if row.ReorderThreshold, err = parseInt(raw); err != nil {
				return nil, fmt.Errorf("row %d invalid reorder_threshold: %w", line, err)
			}
		}

		// Later rows win for a repeated id.
		if prev, ok := seen[id]; ok {
			result[prev] = row
			continue
		}
		seen[id] = len(result)
		result = append(result, row)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("file has no valid product rows")
	}
	return result, nil
}

func hasRequiredColumns(colMap map[string]int, required ...string) bool {
	for _, key := range required {
		if _, ok := colMap[key]; !ok {
			return false
		}
	}
	return true
}

func parsePriceValue(raw string) (decimal.Decimal, error) {
	value := normalizeNumericValue(raw)
	if value == "" {
		return decimal.Zero, fmt.Errorf("value is empty")
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number")
	}
	if parsed.IsNegative() {
		return decimal.Zero, fmt.Errorf("price cannot be negative")
	}
	return parsed, nil
}

// parseRate accepts 0.16, 16 or 16%; values above 1 are read as percents.
func parseRate(raw string) (decimal.Decimal, error) {
	value := strings.TrimSuffix(normalizeNumericValue(raw), "%")
	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number")
	}
	if parsed.IsNegative() {
		return decimal.Zero, fmt.Errorf("rate cannot be negative")
	}
	if parsed.GreaterThan(decimal.NewFromInt(1)) {
		parsed = parsed.Div(decimal.NewFromInt(100))
	}
	return parsed, nil
}

func parseFlag(raw string) (bool, error) {
	switch strings.ToLower(cleanText(raw)) {
	case "", "0", "no", "false", "n":
		return false, nil
	case "1", "si", "sí", "yes", "true", "x", "s", "y":
		return true, nil
	}
	return false, fmt.Errorf("unrecognised flag %q", raw)
}

func normalizeNumericValue(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "\ufeff")
	value = strings.TrimPrefix(value, "$")
	value = strings.ReplaceAll(value, ",", "")
	return strings.TrimSpace(value)
}

func cleanText(value string) string {
	return strings.Join(strings.Fields(strings.TrimPrefix(value, "\ufeff")), " ")
}
