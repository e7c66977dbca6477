package alerting

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// printer formats numbers in alert messages with digit grouping.
var printer = message.NewPrinter(language.English)

// formatMoney renders an amount as "$12,500.50".
func formatMoney(amount decimal.Decimal) string {
	return printer.Sprintf("$%.2f", amount.Round(2).InexactFloat64())
}

// plural returns "1 day" or "N days".
func plural(n int, unit string) string {
	if n == 1 || n == -1 {
		return printer.Sprintf("%d %s", n, unit)
	}
	return printer.Sprintf("%d %ss", n, unit)
}
