package payment

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var msisdnPattern = regexp.MustCompile(`^254[17]\d{8}$`)

// NormalizePhone converts local and international Kenyan mobile formats
// (0712345678, 712345678, +254712345678, 254712345678) to the 2547XXXXXXXX form
// Daraja expects.
func NormalizePhone(raw string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	p = strings.TrimPrefix(p, "+")
	switch {
	case len(p) == 10 && strings.HasPrefix(p, "0"):
		p = "254" + p[1:]
	case len(p) == 9 && (p[0] == '7' || p[0] == '1'):
		p = "254" + p
	}
	if !msisdnPattern.MatchString(p) {
		return "", &ValidationError{Field: "phone", Message: "must be a Safaricom number like 0712345678 or 254712345678"}
	}
	return p, nil
}

// ValidateAmount checks amount against the provider bounds. STK push only
// accepts whole shillings.
func ValidateAmount(amount, min, max decimal.Decimal) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if !amount.Equal(amount.Truncate(0)) {
		return &ValidationError{Field: "amount", Message: "must be a whole amount"}
	}
	if amount.LessThan(min) {
		return &ValidationError{Field: "amount", Message: "below minimum of " + min.String()}
	}
	if max.IsPositive() && amount.GreaterThan(max) {
		return &ValidationError{Field: "amount", Message: "above maximum of " + max.String()}
	}
	return nil
}
