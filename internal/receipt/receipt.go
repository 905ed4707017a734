// Package receipt renders sales as 32-column printable text and as raw
// ESC/POS byte streams for thermal printers.
package receipt

import (
	"fmt"
	"strings"

	"retailpos/backend/internal/domain"
)

const width = 32

// Render produces the plain-text receipt for a completed sale.
func Render(sale domain.Sale, settings domain.Settings) string {
	return strings.Join(lines(sale, settings), "\n")
}

// Escpos produces the printer-ready byte stream: initialize, the text
// body, then a partial cut.
func Escpos(sale domain.Sale, settings domain.Settings) []byte {
	out := []byte{0x1b, 0x40}
	for _, line := range lines(sale, settings) {
		out = append(out, []byte(line)...)
		out = append(out, '\n')
	}
	out = append(out, []byte{0x1d, 0x56, 0x41, 0x10}...)
	return out
}

func lines(sale domain.Sale, settings domain.Settings) []string {
	name := settings.StoreName
	if name == "" {
		name = "RetailPOS"
	}

	out := []string{
		center(name),
		strings.Repeat("=", width),
		"No   : " + sale.Number,
		"Date : " + sale.CreatedAt.Format("2006-01-02 15:04:05"),
		"Pay  : " + sale.PaymentMethod,
	}
	if sale.CustomerName != "" {
		out = append(out, "Cust : "+sale.CustomerName)
	}
	out = append(out, strings.Repeat("-", width))

	for _, item := range sale.Items {
		out = append(out, trim(item.Name))
		out = append(out, row(
			fmt.Sprintf("  %d x %s", item.Quantity, amount(settings.Currency, item.PriceCents)),
			amount(settings.Currency, item.TotalCents),
		))
	}

	out = append(out,
		strings.Repeat("-", width),
		row("Subtotal", amount(settings.Currency, sale.SubtotalCents)),
		row("Tax", amount(settings.Currency, sale.TaxCents)),
		row("Fee", amount(settings.Currency, sale.FeeCents)),
		row("TOTAL", amount(settings.Currency, sale.TotalCents)),
		strings.Repeat("=", width),
		center("Thank you"),
		"",
	)
	return out
}

func amount(currency string, cents int64) string {
	if currency == "" {
		currency = "PKR"
	}
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, cents/100, cents%100)
}

// row left-aligns the label and right-aligns the value within the
// printable width, collapsing to two lines when they cannot fit.
func row(label string, value string) string {
	pad := width - len(label) - len(value)
	if pad < 1 {
		return trim(label) + "\n" + fmt.Sprintf("%*s", width, value)
	}
	return label + strings.Repeat(" ", pad) + value
}

func center(text string) string {
	text = trim(text)
	pad := (width - len(text)) / 2
	if pad < 1 {
		return text
	}
	return strings.Repeat(" ", pad) + text
}

func trim(text string) string {
	if len(text) <= width {
		return text
	}
	return text[:width]
}
