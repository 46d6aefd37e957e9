package extract

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"salesetl/pkg/models"

	"github.com/shopspring/decimal"
)

// Header aliases per entity, applied after normalization.
var (
	customerAliases = map[string]string{"id": "customerid", "name": "firstname"}
	productAliases  = map[string]string{"id": "productid", "name": "productname"}
	orderAliases    = map[string]string{"id": "orderid"}
	detailAliases   = map[string]string{"qty": "quantity", "total": "totalprice"}
)

var headerReplacer = strings.NewReplacer("_", "", "-", "", " ", "", "\ufeff", "")

// normalizeHeader lowercases and strips separators, so "Customer_ID",
// "customer id" and "CustomerID" all become "customerid".
func normalizeHeader(h string, aliases map[string]string) string {
	n := headerReplacer.Replace(strings.ToLower(strings.TrimSpace(h)))
	if alias, ok := aliases[n]; ok {
		return alias
	}
	return n
}

// rowDecoder reads typed cells by normalized column name and keeps the
// first conversion error. Missing columns and blank cells decode to zero.
type rowDecoder struct {
	columns map[string]int
	record  []string
	line    int
	err     error
}

func (d *rowDecoder) cell(col string) string {
	i, ok := d.columns[col]
	if !ok || i >= len(d.record) {
		return ""
	}
	return strings.TrimSpace(d.record[i])
}

func (d *rowDecoder) fail(col, value string, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("line %d: column %s: invalid value %q: %w", d.line, col, value, err)
	}
}

func (d *rowDecoder) str(col string) string {
	return d.cell(col)
}

func (d *rowDecoder) int64(col string) int64 {
	v := d.cell(col)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		d.fail(col, v, err)
	}
	return n
}

func (d *rowDecoder) decimal(col string) decimal.Decimal {
	v := d.cell(col)
	if v == "" {
		return decimal.Zero
	}
	n, err := decimal.NewFromString(v)
	if err != nil {
		d.fail(col, v, err)
	}
	return n
}

func (d *rowDecoder) date(col string) models.Date {
	v := d.cell(col)
	n, err := models.ParseDate(v)
	if err != nil {
		d.fail(col, v, err)
	}
	return n
}

// readCSV decodes a headed, comma-delimited stream, calling fn for each
// data row. Unknown columns are ignored. An empty stream yields no rows.
func readCSV(r io.Reader, aliases map[string]string, fn func(d *rowDecoder) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, h := range header {
		name := normalizeHeader(h, aliases)
		if _, dup := columns[name]; !dup {
			columns[name] = i
		}
	}

	for {
		record, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if isBlank(record) {
			continue
		}
		line, _ := cr.FieldPos(0)
		d := &rowDecoder{columns: columns, record: record, line: line}
		if err := fn(d); err != nil {
			return err
		}
		if d.err != nil {
			return d.err
		}
	}
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func decodeCustomers(r io.Reader) ([]models.CustomerRecord, error) {
	out := []models.CustomerRecord{}
	err := readCSV(r, customerAliases, func(d *rowDecoder) error {
		out = append(out, models.CustomerRecord{
			CustomerID: d.int64("customerid"),
			FirstName:  d.str("firstname"),
			LastName:   d.str("lastname"),
			Email:      d.str("email"),
			Phone:      d.str("phone"),
			City:       d.str("city"),
			Country:    d.str("country"),
		})
		return nil
	})
	return out, err
}

func decodeProducts(r io.Reader) ([]models.ProductRecord, error) {
	out := []models.ProductRecord{}
	err := readCSV(r, productAliases, func(d *rowDecoder) error {
		out = append(out, models.ProductRecord{
			ProductID:   d.int64("productid"),
			ProductName: d.str("productname"),
			Category:    d.str("category"),
			Price:       d.decimal("price"),
			Stock:       d.int64("stock"),
		})
		return nil
	})
	return out, err
}

func decodeOrders(r io.Reader) ([]models.OrderRecord, error) {
	out := []models.OrderRecord{}
	err := readCSV(r, orderAliases, func(d *rowDecoder) error {
		out = append(out, models.OrderRecord{
			OrderID:    d.int64("orderid"),
			CustomerID: d.int64("customerid"),
			OrderDate:  d.date("orderdate"),
			Status:     d.str("status"),
		})
		return nil
	})
	return out, err
}

func decodeOrderDetails(r io.Reader) ([]models.OrderDetailRecord, error) {
	out := []models.OrderDetailRecord{}
	err := readCSV(r, detailAliases, func(d *rowDecoder) error {
		out = append(out, models.OrderDetailRecord{
			OrderID:    d.int64("orderid"),
			ProductID:  d.int64("productid"),
			Quantity:   d.int64("quantity"),
			TotalPrice: d.decimal("totalprice"),
		})
		return nil
	})
	return out, err
}
