package flex

import (
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// optionSuffixLen is len("yymmdd") + len("P") + len("00190000").
const optionSuffixLen = 15

// OptionSymbol is the decoded form of an OCC-style option symbol,
// e.g. "AAPL  250221P00190000".
type OptionSymbol struct {
	Underlying string
	Expiry     time.Time
	PutCall    models.PutCall
	Strike     float64
}

// DecodeOptionSymbol splits an option symbol into underlying, expiry, right and
// strike. The suffix is fixed width: yymmdd + P|C + strike*1000 in 8 digits.
func DecodeOptionSymbol(s string) (OptionSymbol, bool) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) <= optionSuffixLen {
		return OptionSymbol{}, false
	}

	suffix := trimmed[len(trimmed)-optionSuffixLen:]
	datePart := suffix[:6]
	typeChar := suffix[6]
	strikePart := suffix[7:]

	if !isDigits(datePart) || !isDigits(strikePart) {
		return OptionSymbol{}, false
	}

	var right models.PutCall
	switch typeChar {
	case 'P', 'p':
		right = models.Put
	case 'C', 'c':
		right = models.Call
	default:
		return OptionSymbol{}, false
	}

	underlying := strings.TrimSpace(trimmed[:len(trimmed)-optionSuffixLen])
	if underlying == "" {
		return OptionSymbol{}, false
	}
	expiry, err := time.ParseInLocation("060102", datePart, time.UTC)
	if err != nil {
		return OptionSymbol{}, false
	}
	strikeThousandths, err := strconv.ParseInt(strikePart, 10, 64)
	if err != nil {
		return OptionSymbol{}, false
	}

	return OptionSymbol{
		Underlying: underlying,
		Expiry:     expiry,
		PutCall:    right,
		Strike:     float64(strikeThousandths) / 1000,
	}, true
}

// isDigits checks if a non-empty string consists only of ASCII digits
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
