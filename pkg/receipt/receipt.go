// Package receipt renders payment receipts as PDF documents.
package receipt

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

type Line struct {
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Data is everything printed on a receipt.
type Data struct {
	BookingReference string
	PaymentID        string
	CustomerName     string
	Phone            string
	ReceiptNumber    string // M-Pesa receipt, e.g. NLJ7RT61SV
	Currency         string
	Amount           decimal.Decimal
	PaidAt           time.Time
	Lines            []Line
}

const (
	pageWidth  = 190.0
	lineHeight = 8.0
)

// Render produces a single-page A4 PDF.
func Render(d Data) ([]byte, error) {
	if d.Currency == "" {
		d.Currency = "KES"
	}
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Receipt "+d.BookingReference, false)
	pdf.SetCreator("paybridge", false)
	pdf.SetCreationDate(d.PaidAt)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(pageWidth, 12, "Payment receipt", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	for _, kv := range [][2]string{
		{"Booking", d.BookingReference},
		{"Customer", d.CustomerName},
		{"Paid from", d.Phone},
		{"M-Pesa receipt", d.ReceiptNumber},
		{"Paid at", d.PaidAt.Format("02 Jan 2006 15:04 MST")},
		{"Payment ID", d.PaymentID},
	} {
		if kv[1] == "" {
			continue
		}
		pdf.CellFormat(45, lineHeight, kv[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(pageWidth-45, lineHeight, kv[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(235, 235, 235)
	pdf.CellFormat(100, lineHeight, "Item", "1", 0, "L", true, 0, "")
	pdf.CellFormat(20, lineHeight, "Qty", "1", 0, "R", true, 0, "")
	pdf.CellFormat(35, lineHeight, "Unit", "1", 0, "R", true, 0, "")
	pdf.CellFormat(35, lineHeight, "Total", "1", 1, "R", true, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	for _, l := range d.Lines {
		pdf.CellFormat(100, lineHeight, l.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, lineHeight, fmt.Sprintf("%d", l.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, lineHeight, l.UnitPrice.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, lineHeight, l.Total().StringFixed(2), "1", 1, "R", false, 0, "")
	}

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(155, lineHeight+2, "Amount paid ("+d.Currency+")", "1", 0, "R", false, 0, "")
	pdf.CellFormat(35, lineHeight+2, d.Amount.StringFixed(2), "1", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}
