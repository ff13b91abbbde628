// Package validation provides input validation for the Pesa-Bridge API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// panRegex validates card number format (13-19 digits)
	panRegex = regexp.MustCompile(`^\d{13,19}$`)
	// cvvRegex validates CVV format
	cvvRegex = regexp.MustCompile(`^\d{3,4}$`)
	// phoneRegex validates E.164-ish MSISDNs (optional +, 10-15 digits)
	phoneRegex = regexp.MustCompile(`^\+?\d{10,15}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidPAN checks card number format and Luhn checksum.
func IsValidPAN(pan string) bool {
	pan = strings.ReplaceAll(pan, " ", "")
	if !panRegex.MatchString(pan) {
		return false
	}
	return luhnValid(pan)
}

// IsValidCVV checks CVV format (3 or 4 digits).
func IsValidCVV(cvv string) bool {
	return cvvRegex.MatchString(cvv)
}

// IsValidPhone checks MSISDN format.
func IsValidPhone(phone string) bool {
	return phoneRegex.MatchString(phone)
}

// NormalizePAN strips spaces from a card number.
func NormalizePAN(pan string) string {
	return strings.ReplaceAll(strings.TrimSpace(pan), " ", "")
}

// luhnValid runs the Luhn mod-10 checksum over a digit string.
func luhnValid(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// PositiveAmount checks that an amount is greater than zero.
func PositiveAmount(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if value <= 0 {
			return &ValidationError{Field: field, Message: "must be greater than zero"}
		}
		return nil
	}
}

// CurrencyCode checks for a 3-letter ISO currency code.
func CurrencyCode(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if len(value) != 3 {
			return &ValidationError{Field: field, Message: "must be a 3-letter ISO currency code"}
		}
		for _, r := range value {
			if r < 'A' || r > 'Z' {
				return &ValidationError{Field: field, Message: "must be a 3-letter ISO currency code"}
			}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}
