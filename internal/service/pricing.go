package service

import (
	"math"
	"sort"

	"drivehub/internal/db"
	apperr "drivehub/internal/errors"
)

// FeeRates are percentages expressed in basis points (1000 = 10%).
type FeeRates struct {
	ServiceFeeBps   int64
	InsuranceFeeBps int64
}

// OptionCatalog maps an option code to its per-day fee.
type OptionCatalog map[string]int64

// Pricing is the read-only pricing table handed to the orchestrator.
type Pricing struct {
	Currency string
	Rates    FeeRates
	Catalog  OptionCatalog
}

// Quote computes a price breakdown. It has no side effects.
// Each fee is rounded half-up on its own so the breakdown always adds up to Total.
func Quote(baseDailyRate int64, dayCount int, optionCodes []string, catalog OptionCatalog, depositAmount int64, rates FeeRates) (db.PriceBreakdown, error) {
	if dayCount < 1 {
		return db.PriceBreakdown{}, apperr.Newf(apperr.KindInvalidInput, "dayCount must be at least 1, got %d", dayCount)
	}
	if baseDailyRate < 0 {
		return db.PriceBreakdown{}, apperr.New(apperr.KindInvalidInput, "daily rate must not be negative")
	}
	if depositAmount < 0 {
		return db.PriceBreakdown{}, apperr.New(apperr.KindInvalidInput, "deposit must not be negative")
	}
	if rates.ServiceFeeBps < 0 || rates.InsuranceFeeBps < 0 {
		return db.PriceBreakdown{}, apperr.New(apperr.KindInvalidInput, "fee rates must not be negative")
	}

	days := int64(dayCount)
	basePrice, ok := mul(baseDailyRate, days)
	if !ok {
		return db.PriceBreakdown{}, apperr.New(apperr.KindInvalidInput, "price out of range")
	}

	var optionsPrice int64
	for _, code := range NormalizeOptions(optionCodes) {
		fee, found := catalog[code]
		if !found {
			return db.PriceBreakdown{}, apperr.Newf(apperr.KindInvalidInput, "unknown option code %q", code)
		}
		line, ok := mul(fee, days)
		if !ok || optionsPrice > math.MaxInt64-line {
			return db.PriceBreakdown{}, apperr.New(apperr.KindInvalidInput, "price out of range")
		}
		optionsPrice += line
	}

	if basePrice > math.MaxInt64-optionsPrice {
		return db.PriceBreakdown{}, apperr.New(apperr.KindInvalidInput, "price out of range")
	}
	subtotal := basePrice + optionsPrice
	serviceFee, ok1 := percent(subtotal, rates.ServiceFeeBps)
	insuranceFee, ok2 := percent(subtotal, rates.InsuranceFeeBps)
	if !ok1 || !ok2 || subtotal > math.MaxInt64-serviceFee-insuranceFee {
		return db.PriceBreakdown{}, apperr.New(apperr.KindInvalidInput, "price out of range")
	}

	return db.PriceBreakdown{
		BasePrice:     basePrice,
		OptionsPrice:  optionsPrice,
		ServiceFee:    serviceFee,
		InsuranceFee:  insuranceFee,
		Total:         subtotal + serviceFee + insuranceFee,
		DepositAmount: depositAmount,
	}, nil
}

// NormalizeOptions returns the option codes as a sorted set.
func NormalizeOptions(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// percent returns amount*bps/10000 rounded half-up.
func percent(amount, bps int64) (int64, bool) {
	p, ok := mul(amount, bps)
	if !ok || p > math.MaxInt64-5000 {
		return 0, false
	}
	return (p + 5000) / 10000, true
}

func mul(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}
