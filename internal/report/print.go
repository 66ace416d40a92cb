package report

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"

	"pasal/backend/internal/domain"
)

var printFuncs = template.FuncMap{
	"money": func(v decimal.Decimal) string { return v.StringFixed(2) },
	"qty":   func(v decimal.Decimal) string { return v.String() },
	"date":  func(t time.Time) string { return t.Format(time.DateOnly) },
	"inc":   func(i int) int { return i + 1 },
	"title": DocumentTitle,
}

// DocumentTitle is the heading printed on a document of kind.
func DocumentTitle(kind string) string {
	switch kind {
	case domain.DocumentCashSale, domain.DocumentOpenCashSale:
		return "Tax Invoice"
	case domain.DocumentSalesQuotation:
		return "Sales Quotation"
	case domain.DocumentStockAdjustment:
		return "Stock Adjustment"
	default:
		return "Document"
	}
}

// documentHTMLTmpl renders printable bills and quotations. Every field is
// auto-escaped by html/template.
var documentHTMLTmpl = template.Must(template.New("document").Funcs(printFuncs).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>{{title .Document.Kind}} {{.Document.Number}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    .num { text-align: right; }
    .head { display: flex; justify-content: space-between; }
    h2, h3 { margin-bottom: 4px; }
  </style>
</head>
<body onload="window.print()">
  <h2>{{.Company.Name}}</h2>
  <p>{{.Company.Address}}{{if .Company.PAN}} | PAN: {{.Company.PAN}}{{end}}</p>
  <h3>{{title .Document.Kind}}</h3>
  <div class="head">
    <div>
      <p>No: {{.Document.Number}}</p>
      <p>Date: {{.Document.NepaliDate}} ({{date .Document.Date}})</p>
      <p>Fiscal Year: {{.FiscalYear.Name}}</p>
    </div>
    <div>
      {{with .Party}}<p>M/S: {{.Name}}</p>{{if .Address}}<p>{{.Address}}</p>{{end}}{{if .PAN}}<p>PAN: {{.PAN}}</p>{{end}}{{if .Phone}}<p>Phone: {{.Phone}}</p>{{end}}{{end}}
      {{if .Document.PaymentMode}}<p>Payment: {{.Document.PaymentMode}}</p>{{end}}
    </div>
  </div>

  <table>
    <thead><tr><th>S.N.</th><th>Particulars</th><th>Batch</th><th>Qty</th><th>Unit</th><th>Rate</th><th>Amount</th></tr></thead>
    <tbody>{{range $i, $line := .Document.Lines}}<tr><td>{{inc $i}}</td><td>{{$line.ItemName}}{{if eq $line.VATStatus "vatExempt"}} *{{end}}</td><td>{{$line.BatchNumber}}</td><td class="num">{{qty $line.Quantity}}</td><td>{{$line.Unit}}</td><td class="num">{{money $line.Price}}</td><td class="num">{{money $line.Amount}}</td></tr>{{end}}</tbody>
  </table>

  {{with .Document.Totals}}<table>
    <tr><td>Sub Total</td><td class="num">{{money .Subtotal}}</td></tr>
    <tr><td>Discount ({{money .DiscountPercent}}%)</td><td class="num">{{money .DiscountAmount}}</td></tr>
    <tr><td>Non-Taxable</td><td class="num">{{money .NonTaxable}}</td></tr>
    <tr><td>Taxable</td><td class="num">{{money .Taxable}}</td></tr>
    <tr><td>VAT</td><td class="num">{{money .VATAmount}}</td></tr>
    <tr><td>Round Off</td><td class="num">{{money .RoundOff}}</td></tr>
    <tr><th>Grand Total</th><th class="num">{{money .Total}}</th></tr>
  </table>{{end}}
  <p>In words: {{.Document.AmountInWords}}</p>
  {{if .Document.Note}}<p>Note: {{.Document.Note}}</p>{{end}}
  <p>Prepared by: {{.Document.CreatedBy}}</p>
</body>
</html>
`))

func DocumentHTML(p domain.PrintableDocument) (string, error) {
	return renderDocument(documentHTMLTmpl, p)
}

func renderDocument(tmpl *template.Template, p domain.PrintableDocument) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render %s %s: %w", p.Document.Kind, p.Document.Number, err)
	}
	return buf.String(), nil
}
