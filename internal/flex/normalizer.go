package flex

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// Result is the outcome of normalizing one record. Exactly one of Trade and
// Err is set. DateErrors lists recoverable date fallbacks on a kept trade.
type Result struct {
	Trade      *models.Trade
	Err        *ValidationError
	DateErrors []*DateParseError
}

// OK returns true if the record produced a trade.
func (r Result) OK() bool {
	return r.Trade != nil && r.Err == nil
}

// Normalizer converts attribute records into canonical trades.
type Normalizer struct {
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewNormalizer creates a normalizer. now supplies the fallback instant for
// unparseable dates; nil means time.Now.
func NewNormalizer(logger logrus.FieldLogger, now func() time.Time) *Normalizer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{logger: logger, now: now}
}

// NormalizeAll normalizes every record of one document. Rejected records are
// logged and returned as validation errors; they never abort the batch.
func (n *Normalizer) NormalizeAll(document string, records []Record) ([]models.Trade, []*ValidationError, []*DateParseError) {
	trades := make([]models.Trade, 0, len(records))
	var rejected []*ValidationError
	var fallbacks []*DateParseError

	for _, rec := range records {
		res := n.Normalize(rec)
		if !res.OK() {
			res.Err.Document = document
			n.logger.WithFields(logrus.Fields{
				"document": document,
				"record":   rec.Index,
				"trade_id": res.Err.TradeID,
				"kind":     string(res.Err.Kind),
				"field":    res.Err.Field,
			}).Warn("Skipping invalid trade record")
			rejected = append(rejected, res.Err)
			continue
		}
		for _, de := range res.DateErrors {
			n.logger.WithFields(logrus.Fields{
				"document": document,
				"trade_id": de.TradeID,
				"kind":     "date_parse",
				"field":    de.Field,
				"value":    de.Value,
			}).Warn("Unparseable date, substituting ingestion time")
		}
		fallbacks = append(fallbacks, res.DateErrors...)
		res.Trade.Document = document
		trades = append(trades, *res.Trade)
	}
	return trades, rejected, fallbacks
}

// Normalize validates one record and builds a trade from it.
func (n *Normalizer) Normalize(rec Record) Result {
	b := recordBuilder{rec: rec, now: n.now, logger: n.logger}
	return b.build()
}

type recordBuilder struct {
	rec        Record
	now        func() time.Time
	logger     logrus.FieldLogger
	tradeID    string
	dateErrors []*DateParseError
	fellBack   bool
}

func (b *recordBuilder) fail(kind ValidationErrorKind, field, value string) Result {
	return Result{Err: &ValidationError{
		Kind:        kind,
		Field:       field,
		Value:       value,
		RecordIndex: b.rec.Index,
		TradeID:     b.tradeID,
	}}
}

func (b *recordBuilder) build() Result {
	id, ok := b.rec.Get("tradeID", "id")
	if !ok {
		return b.fail(KindMissingField, "tradeID", "")
	}
	b.tradeID = id

	required := []string{"symbol", "assetCategory", "quantity", "price", "buySell", "tradeDate"}
	for _, field := range required {
		if _, ok := b.rec.Get(field); !ok {
			return b.fail(KindMissingField, field, "")
		}
	}

	symbol, _ := b.rec.Get("symbol")
	rawCategory, _ := b.rec.Get("assetCategory")
	category := models.AssetCategory(strings.ToUpper(rawCategory))
	if !category.Valid() {
		return b.fail(KindInvalidValue, "assetCategory", rawCategory)
	}

	rawSide, _ := b.rec.Get("buySell")
	side := models.Side(strings.ToUpper(rawSide))
	if side != models.SideBuy && side != models.SideSell {
		return b.fail(KindInvalidValue, "buySell", rawSide)
	}

	quantity, res, ok := b.number("quantity", true)
	if !ok {
		return res
	}
	price, res, ok := b.number("price", true)
	if !ok {
		return res
	}

	// Sign follows the side regardless of how the export encoded it.
	if side == models.SideSell {
		quantity = -math.Abs(quantity)
	} else {
		quantity = math.Abs(quantity)
	}

	trade := &models.Trade{
		ID:             id,
		TradeID:        id,
		Symbol:         symbol,
		AssetCategory:  category,
		Quantity:       quantity,
		Price:          price,
		BuySell:        side,
		Currency:       b.optionalString("currency"),
		TransactionID:  b.optionalString("transactionID"),
		OrderReference: b.optionalString("orderReference"),
		Exchange:       b.optionalString("exchange"),
	}

	if res, ok := b.applyOptionFields(trade); !ok {
		return res
	}
	if res, ok := b.applyCashFields(trade); !ok {
		return res
	}
	b.applyDates(trade)
	trade.DateFallback = b.fellBack

	return Result{Trade: trade, DateErrors: b.dateErrors}
}

// applyOptionFields fills underlying, right, strike, expiry and multiplier.
// Explicit attributes win over values decoded from the option symbol.
func (b *recordBuilder) applyOptionFields(t *models.Trade) (Result, bool) {
	mult, res, ok := b.number("multiplier", false)
	if !ok {
		return res, false
	}

	if !t.AssetCategory.IsOption() {
		t.UnderlyingSymbol = b.optionalString("underlyingSymbol")
		if t.UnderlyingSymbol == "" {
			t.UnderlyingSymbol = strings.TrimSpace(t.Symbol)
		}
		if mult == 0 {
			mult = 1
		}
		t.Multiplier = mult
		return Result{}, true
	}

	decoded, decodedOK := DecodeOptionSymbol(t.Symbol)

	t.UnderlyingSymbol = b.optionalString("underlyingSymbol")
	if t.UnderlyingSymbol == "" && decodedOK {
		t.UnderlyingSymbol = decoded.Underlying
	}
	if t.UnderlyingSymbol == "" {
		t.UnderlyingSymbol = strings.TrimSpace(t.Symbol)
	}

	if raw, ok := b.rec.Get("putCall"); ok {
		switch strings.ToUpper(raw) {
		case "P", "PUT":
			t.PutCall = models.Put
		case "C", "CALL":
			t.PutCall = models.Call
		default:
			return b.fail(KindInvalidValue, "putCall", raw), false
		}
	} else if decodedOK {
		t.PutCall = decoded.PutCall
	} else {
		return b.fail(KindMissingField, "putCall", ""), false
	}

	strike, res, ok := b.number("strike", false)
	if !ok {
		return res, false
	}
	if strike == 0 && decodedOK {
		strike = decoded.Strike
	}
	t.Strike = strike

	if raw, ok := b.rec.Get("expiry"); ok {
		// A bad expiry is replaced from the option symbol, never by the
		// ingestion instant, so it is not a date fallback.
		if exp, err := ParseDate(raw); err == nil {
			t.Expiry = &exp
		} else {
			b.logger.WithFields(logrus.Fields{
				"trade_id": b.tradeID,
				"kind":     "date_parse",
				"field":    "expiry",
				"value":    raw,
				"decoded":  decodedOK,
			}).Warn("Unparseable expiry, using the option symbol")
		}
	}
	if t.Expiry == nil && decodedOK {
		exp := decoded.Expiry
		t.Expiry = &exp
	}

	if mult == 0 {
		mult = models.DefaultOptionMultiplier
	}
	t.Multiplier = mult
	return Result{}, true
}

func (b *recordBuilder) applyCashFields(t *models.Trade) (Result, bool) {
	proceeds, res, ok := b.number("proceeds", false)
	if !ok {
		return res, false
	}
	if proceeds == 0 {
		if proceeds, res, ok = b.number("amount", false); !ok {
			return res, false
		}
	}
	if proceeds == 0 {
		proceeds = -t.Quantity * t.Price * t.Multiplier
	}
	t.Proceeds = proceeds

	commission, res, ok := b.number("commission", false)
	if !ok {
		return res, false
	}
	if commission == 0 {
		if commission, res, ok = b.number("ibCommission", false); !ok {
			return res, false
		}
	}
	tax, res, ok := b.number("tax", false)
	if !ok {
		return res, false
	}
	if tax == 0 {
		if tax, res, ok = b.number("taxes", false); !ok {
			return res, false
		}
	}
	t.CommissionAndTax = -(math.Abs(commission) + math.Abs(tax))

	netCash, res, ok := b.number("netCash", false)
	if !ok {
		return res, false
	}
	if netCash == 0 {
		netCash = t.Proceeds + t.CommissionAndTax
	}
	t.NetCash = netCash
	return Result{}, true
}

// applyDates parses every date attribute. Unparseable values fall back to the
// ingestion instant and flag the trade; they never reject the record.
func (b *recordBuilder) applyDates(t *models.Trade) {
	t.TradeDate = b.date("tradeDate")
	t.OrderTime = b.optionalDate("orderTime", t.TradeDate)
	t.DateTime = b.optionalDate("dateTime", t.OrderTime)
	t.ReportDate = b.optionalDate("reportDate", t.TradeDate)
}

func (b *recordBuilder) date(field string) time.Time {
	raw, _ := b.rec.Get(field)
	ts, err := ParseDate(raw)
	if err != nil {
		b.dateErrors = append(b.dateErrors, &DateParseError{Field: field, Value: raw, TradeID: b.tradeID})
		b.fellBack = true
		return b.now().UTC()
	}
	return ts
}

func (b *recordBuilder) optionalDate(field string, fallback time.Time) time.Time {
	if _, ok := b.rec.Get(field); !ok {
		return fallback
	}
	return b.date(field)
}

// number parses a numeric attribute. Absent optional fields return 0.
func (b *recordBuilder) number(field string, required bool) (float64, Result, bool) {
	raw, ok := b.rec.Get(field)
	if !ok {
		if required {
			return 0, b.fail(KindMissingField, field, ""), false
		}
		return 0, Result{}, true
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, b.fail(KindInvalidNumber, field, raw), false
	}
	return v, Result{}, true
}

func (b *recordBuilder) optionalString(field string) string {
	v, _ := b.rec.Get(field)
	return v
}
