package flex

import "fmt"

// ValidationErrorKind distinguishes why a record was rejected.
type ValidationErrorKind string

const (
	KindMissingField  ValidationErrorKind = "missing_field"
	KindInvalidNumber ValidationErrorKind = "invalid_number"
	KindInvalidValue  ValidationErrorKind = "invalid_value"
)

// ValidationError describes a record that was skipped during normalization.
type ValidationError struct {
	Kind        ValidationErrorKind `json:"kind"`
	Field       string              `json:"field"`
	Value       string              `json:"value,omitempty"`
	Document    string              `json:"document,omitempty"`
	RecordIndex int                 `json:"recordIndex"`
	TradeID     string              `json:"tradeId,omitempty"`
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindMissingField:
		return fmt.Sprintf("record %d: missing required field %s", e.RecordIndex, e.Field)
	case KindInvalidNumber:
		return fmt.Sprintf("record %d: field %s is not a finite number: %q", e.RecordIndex, e.Field, e.Value)
	default:
		return fmt.Sprintf("record %d: field %s has invalid value %q", e.RecordIndex, e.Field, e.Value)
	}
}

// DateParseError records a date attribute that could not be parsed. The
// record is kept; the value is replaced by the ingestion instant.
type DateParseError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	TradeID string `json:"tradeId,omitempty"`
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("trade %s: unparseable %s %q", e.TradeID, e.Field, e.Value)
}
