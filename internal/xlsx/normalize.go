package xlsx

import (
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

// normalize.go canonicalizes raw cell text before type conversion.
//
// Two cell families need repair when spreadsheets round-trip through Excel:
//
//   - identifier columns (national ids, phone numbers, account codes) that
//     Excel has re-typed as numbers, turning "123456700000" into
//     "1.234567E+11" or appending ".0"
//   - date columns entered with two-digit years or exported as serial
//     numbers
//
// Normalization is stateless and order-sensitive: the first matching rule
// wins and everything else passes through untouched.

var (
	trailingZeroFraction = regexp.MustCompile(`^\d+\.0+$`)
	serialDatePattern    = regexp.MustCompile(`^\d+(\.\d+)?$`)
	slashShortYearDate   = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2})$`)
	dashShortYearDate    = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{2})$`)
	dotZeroTail          = regexp.MustCompile(`\.0+$`)
)

// maxSerialDate bounds the integer part of an Excel serial date. Serial
// values are passed through verbatim; resolution happens in SQL.
const maxSerialDate = 3000000

// NormalizeCell canonicalizes raw cell text for a field. isIdentifier and
// isDate come from the field's binding descriptor.
func NormalizeCell(value string, isIdentifier, isDate bool) string {
	if value == "" {
		return value
	}

	if isIdentifier {
		if strings.ContainsAny(value, "Ee") {
			if plain, ok := expandScientific(value); ok {
				return plain
			}
			return value
		}
		if trailingZeroFraction.MatchString(value) {
			return value[:strings.IndexByte(value, '.')]
		}
	}

	if isDate {
		if serialDatePattern.MatchString(value) && inSerialRange(value) {
			// Excel serial date; resolved downstream.
			return value
		}
		if m := slashShortYearDate.FindStringSubmatch(value); m != nil {
			// month/day order preserved
			return m[1] + "/" + m[2] + "/" + expandTwoDigitYear(m[3])
		}
		if m := dashShortYearDate.FindStringSubmatch(value); m != nil {
			// day-month-year with dashes; unify separators
			return m[1] + "/" + m[2] + "/" + expandTwoDigitYear(m[3])
		}
	}

	return value
}

// expandScientific converts scientific notation to plain digits, trimming a
// trailing ".0" tail. Returns false when the value is not a number.
func expandScientific(value string) (string, bool) {
	f, _, err := big.ParseFloat(value, 10, 200, big.ToNearestEven)
	if err != nil {
		return "", false
	}
	plain := f.Text('f', -1)
	plain = dotZeroTail.ReplaceAllString(plain, "")
	return plain, true
}

// inSerialRange reports whether the integer part of a candidate serial date
// falls in [1, maxSerialDate].
func inSerialRange(value string) bool {
	intPart := value
	if i := strings.IndexByte(value, '.'); i >= 0 {
		intPart = value[:i]
	}
	n, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return false
	}
	return n >= 1 && n <= maxSerialDate
}

// expandTwoDigitYear maps a two-digit year to its century: 00-30 are this
// century, 31-99 the previous one.
func expandTwoDigitYear(yy string) string {
	n, err := strconv.Atoi(yy)
	if err != nil {
		return yy
	}
	if n <= 30 {
		return "20" + pad2(n)
	}
	return "19" + pad2(n)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
