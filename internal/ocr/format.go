package ocr

import (
	"fmt"
	"html"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"ocr-job-pipeline/internal/models"
)

const (
	textConfirmed    = "✅ Confirmed and saved transaction"
	textRejected     = "❌ Rejected"
	labelConfirm     = "✅ Confirm"
	labelReject      = "❌ Reject"
	notAvailable     = "N/A"
	typeUndetermined = "Undetermined"
)

// Formatter renders chat messages with locale-aware numbers.
type Formatter struct {
	printer *message.Printer
}

// NewFormatter falls back to English for an unparsable locale.
func NewFormatter(locale string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Formatter{printer: message.NewPrinter(tag)}
}

// ResultMessage formats a recognition result for the confirmation prompt.
// It never fails: unknown result types render as undetermined.
func (f *Formatter) ResultMessage(res models.Result, warnings []string) string {
	lines := []string{"🧾 <b>OCR result</b>", ""}

	switch r := res.(type) {
	case models.DepositResult:
		currency := r.Currency
		if currency == "" {
			currency = notAvailable
		}
		lines = append(lines,
			"📋 <b>Type:</b> Deposit",
			"💰 <b>Amount:</b> "+f.number(r.Amount),
			"💱 <b>Currency:</b> "+html.EscapeString(currency),
			"🎯 <b>Confidence:</b> "+f.number(r.Confidence),
		)
	case models.CertificateResult:
		lines = append(lines,
			"📋 <b>Type:</b> Fund certificate purchase",
			"💵 <b>Matched price:</b> "+f.number(r.MatchedPrice),
			"🎫 <b>Matched quantity:</b> "+f.number(r.MatchedQuantity),
			"🎯 <b>Confidence:</b> "+f.number(r.Confidence),
		)
	default:
		lines = append(lines, "📋 <b>Type:</b> "+typeUndetermined)
	}

	if len(warnings) > 0 {
		lines = append(lines, "", "⚠️ <b>OCR warnings:</b>")
		for _, w := range warnings {
			lines = append(lines, "- "+html.EscapeString(w))
		}
	}

	lines = append(lines, "", "Please review and choose <b>Confirm</b> or <b>Reject</b>.")
	return strings.Join(lines, "\n")
}

// FailureNotice tells the user recognition gave up.
func (f *Formatter) FailureNotice(attempts int) string {
	return fmt.Sprintf("❌ Could not process the image after %d attempts. Please try again or enter the transaction manually.", attempts)
}

func (f *Formatter) number(v *float64) string {
	if v == nil {
		return notAvailable
	}
	return f.printer.Sprint(number.Decimal(*v, number.MaxFractionDigits(4)))
}
