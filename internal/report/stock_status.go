// Package report renders printable documents and the stock-status report.
package report

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"

	"pasal/backend/internal/domain"
)

const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"

	stockSheet = "Stock Status"
)

var stockHeaders = []string{"Code", "Item", "Unit", "VAT", "Batches", "Near Expiry", "Quantity", "Avg. Cost", "Stock Value"}

// ContentType returns the MIME type for format, and false when format is
// not supported.
func ContentType(format string) (string, bool) {
	switch format {
	case FormatPDF:
		return "application/pdf", true
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", true
	default:
		return "", false
	}
}

func WriteStockStatus(w io.Writer, format string, r domain.StockStatusReport) error {
	switch format {
	case FormatPDF:
		return StockStatusPDF(w, r)
	case FormatXLSX:
		return StockStatusXLSX(w, r)
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

func vatLabel(status string) string {
	if status == domain.VATStatusExempt {
		return "Exempt"
	}
	return "VAT"
}

func StockStatusXLSX(w io.Writer, r domain.StockStatusReport) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), stockSheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	_ = f.SetCellValue(stockSheet, "A1", r.Company.Name)
	_ = f.SetCellValue(stockSheet, "A2", fmt.Sprintf("Stock Status | FY %s | %s", r.FiscalYear.Name, r.GeneratedAt.Format("2006-01-02 15:04")))
	if err := f.SetCellStyle(stockSheet, "A1", "A1", bold); err != nil {
		return err
	}

	const headerRow = 4
	for i, header := range stockHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, headerRow)
		if err != nil {
			return err
		}
		_ = f.SetCellValue(stockSheet, cell, header)
	}
	if err := f.SetCellStyle(stockSheet, "A4", "I4", bold); err != nil {
		return err
	}

	row := headerRow + 1
	for _, item := range r.Rows {
		values := []any{
			item.Code,
			item.Name,
			item.Unit,
			vatLabel(item.VATStatus),
			item.BatchCount,
			item.NearExpiry,
			item.Quantity.InexactFloat64(),
			item.AvgCost.InexactFloat64(),
			item.StockValue.InexactFloat64(),
		}
		for i, value := range values {
			cell, err := excelize.CoordinatesToCellName(i+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(stockSheet, cell, value); err != nil {
				return err
			}
		}
		row++
	}
	totalLabel, _ := excelize.CoordinatesToCellName(8, row)
	totalCell, _ := excelize.CoordinatesToCellName(9, row)
	_ = f.SetCellValue(stockSheet, totalLabel, "Total")
	_ = f.SetCellValue(stockSheet, totalCell, r.TotalValue.InexactFloat64())
	if err := f.SetCellStyle(stockSheet, totalLabel, totalCell, bold); err != nil {
		return err
	}

	_ = f.SetColWidth(stockSheet, "B", "B", 32)
	_ = f.SetColWidth(stockSheet, "G", "I", 14)

	_, err = f.WriteTo(w)
	return err
}

func StockStatusPDF(w io.Writer, r domain.StockStatusReport) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Stock Status", false)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, r.Company.Name, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Stock Status | FY %s | %s", r.FiscalYear.Name, r.GeneratedAt.Format("2006-01-02 15:04")), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	widths := []float64{22, 80, 16, 18, 18, 24, 28, 30, 40}
	aligns := []string{"L", "L", "L", "C", "R", "R", "R", "R", "R"}

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for i, header := range stockHeaders {
		pdf.CellFormat(widths[i], 7, header, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, item := range r.Rows {
		cells := []string{
			item.Code,
			item.Name,
			item.Unit,
			vatLabel(item.VATStatus),
			fmt.Sprint(item.BatchCount),
			fmt.Sprint(item.NearExpiry),
			item.Quantity.String(),
			item.AvgCost.StringFixed(2),
			item.StockValue.StringFixed(2),
		}
		for i, cell := range cells {
			pdf.CellFormat(widths[i], 6, cell, "1", 0, aligns[i], false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.SetFont("Helvetica", "B", 9)
	labelWidth := 0.0
	for _, width := range widths[:len(widths)-1] {
		labelWidth += width
	}
	pdf.CellFormat(labelWidth, 7, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[len(widths)-1], 7, r.TotalValue.StringFixed(2), "1", 1, "R", false, 0, "")

	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(w)
}
