package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ResultKind is the discriminator carried in the worker's result payload.
type ResultKind string

const (
	KindDeposit      ResultKind = "deposit"
	KindCertificate  ResultKind = "certificate"
	KindUndetermined ResultKind = "undefined"
)

// Result is the recognised content of an image. Exactly one of the concrete
// types below implements it per discriminator value.
type Result interface {
	Kind() ResultKind
}

// DepositResult is a bank deposit slip.
type DepositResult struct {
	Amount     *float64
	Currency   string
	Confidence *float64
}

func (DepositResult) Kind() ResultKind { return KindDeposit }

// CertificateResult is a fund certificate purchase confirmation.
type CertificateResult struct {
	MatchedPrice    *float64
	MatchedQuantity *float64
	Confidence      *float64
}

func (CertificateResult) Kind() ResultKind { return KindCertificate }

// UndeterminedResult covers the "undefined" tag, unknown tags and payloads
// that are not JSON objects at all.
type UndeterminedResult struct {
	RawType string
}

func (UndeterminedResult) Kind() ResultKind { return KindUndetermined }

// DecodeResult never fails: anything it cannot classify becomes an
// UndeterminedResult, and numeric fields it cannot parse are left nil.
func DecodeResult(raw json.RawMessage) Result {
	var fields map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil || fields == nil {
		return UndeterminedResult{}
	}
	rawType := strings.ToLower(safeString(fields["type"]))
	switch ResultKind(rawType) {
	case KindDeposit:
		amount := ParseNumber(fields["amount"])
		if amount == nil {
			amount = ParseNumber(fields["capital"])
		}
		return DepositResult{
			Amount:     amount,
			Currency:   safeString(fields["currency"]),
			Confidence: ParseNumber(fields["confidence"]),
		}
	case KindCertificate:
		return CertificateResult{
			MatchedPrice:    ParseNumber(fields["matched_price"]),
			MatchedQuantity: ParseNumber(fields["matched_quantity"]),
			Confidence:      ParseNumber(fields["confidence"]),
		}
	default:
		return UndeterminedResult{RawType: rawType}
	}
}

// ParseNumber accepts JSON numbers and numeric strings with thousands
// separators or spaces ("1,500,000"). Empty, NaN and infinite values yield nil.
func ParseNumber(v any) *float64 {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return &t
	case json.Number:
		return ParseNumber(string(t))
	case string:
		normalized := strings.Map(func(r rune) rune {
			if r == ',' || r == ' ' || r == '\t' || r == '\n' {
				return -1
			}
			return r
		}, t)
		if normalized == "" {
			return nil
		}
		f, err := strconv.ParseFloat(normalized, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return &f
	}
	return nil
}

func safeString(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
