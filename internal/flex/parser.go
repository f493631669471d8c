// Package flex parses broker flex/trade-confirmation export documents and
// normalizes their trade records into canonical models.Trade values.
package flex

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoRootElement is returned when a document contains text but no XML element.
var ErrNoRootElement = errors.New("document has no root element")

// tradeElements are the element names carrying one trade confirmation each.
var tradeElements = map[string]bool{
	"Trade":        true,
	"TradeConfirm": true,
}

// Record is the flat attribute bag of one trade confirmation element.
type Record struct {
	Index   int
	Element string
	Attrs   map[string]string
}

// Get returns the first non-empty attribute value among names.
func (r Record) Get(names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := r.Attrs[name]; ok {
			v = strings.TrimSpace(v)
			if v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// ParseDocument walks an export document and returns one Record per trade
// element found at any depth. A document without a trade list yields no
// records and no error.
func ParseDocument(r io.Reader) ([]Record, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = passthroughCharset

	var records []Record
	sawElement := false
	sawText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding export document: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			sawElement = true
			if !tradeElements[el.Name.Local] {
				continue
			}
			attrs := make(map[string]string, len(el.Attr))
			for _, a := range el.Attr {
				attrs[a.Name.Local] = a.Value
			}
			records = append(records, Record{
				Index:   len(records),
				Element: el.Name.Local,
				Attrs:   attrs,
			})
		case xml.CharData:
			if !sawElement && strings.TrimSpace(string(el)) != "" {
				sawText = true
			}
		}
	}

	if !sawElement && sawText {
		return nil, ErrNoRootElement
	}
	return records, nil
}

// passthroughCharset accepts the single-byte declarations brokers emit.
// Flex exports are ASCII in practice, so bytes are passed through unchanged.
func passthroughCharset(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "latin1", "us-ascii", "ascii", "windows-1252":
		return input, nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
}
