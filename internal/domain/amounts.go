package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type amountField struct {
	name  string
	value func(*Transaction) decimal.NullDecimal
	asset func(*Transaction) string
}

var amountFields = []amountField{
	{"amount_in", func(t *Transaction) decimal.NullDecimal { return t.AmountIn }, func(t *Transaction) string { return t.AmountInAsset }},
	{"amount_out", func(t *Transaction) decimal.NullDecimal { return t.AmountOut }, func(t *Transaction) string { return t.AmountOutAsset }},
	{"amount_fee", func(t *Transaction) decimal.NullDecimal { return t.AmountFee }, func(t *Transaction) string { return t.AmountFeeAsset }},
}

// CheckAmounts validates the monetary invariants of after, given the state it was derived from.
// Untouched amount fields are not re-checked so pre-existing data never blocks unrelated actions.
func CheckAmounts(before, after *Transaction, allowDecrease bool) error {
	changed := false
	for _, f := range amountFields {
		b, a := f.value(before), f.value(after)
		if !sameAmount(b, a) || f.asset(before) != f.asset(after) {
			changed = true
		}
		if a.Valid && a.Decimal.IsNegative() {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		if !allowDecrease && b.Valid && a.Valid && a.Decimal.LessThan(b.Decimal) {
			return fmt.Errorf("%s cannot be decreased from %s to %s", f.name, b.Decimal, a.Decimal)
		}
		if !allowDecrease && b.Valid && !a.Valid {
			return fmt.Errorf("%s cannot be cleared", f.name)
		}
	}
	if !changed {
		return nil
	}

	if after.Quote != nil {
		return checkQuote(after)
	}

	if after.AmountIn.Valid && after.AmountOut.Valid && after.AmountFee.Valid {
		sum := after.AmountOut.Decimal.Add(after.AmountFee.Decimal)
		if !after.AmountIn.Decimal.Equal(sum) {
			return fmt.Errorf("amount_in[%s] must equal amount_out[%s] + amount_fee[%s]",
				after.AmountIn.Decimal, after.AmountOut.Decimal, after.AmountFee.Decimal)
		}
	}
	return nil
}

func checkQuote(t *Transaction) error {
	q := t.Quote
	pairs := []struct {
		name       string
		value      decimal.NullDecimal
		asset      string
		quoteValue decimal.Decimal
		quoteAsset string
	}{
		{"amount_in", t.AmountIn, t.AmountInAsset, q.SellAmount, q.SellAsset},
		{"amount_out", t.AmountOut, t.AmountOutAsset, q.BuyAmount, q.BuyAsset},
		{"amount_fee", t.AmountFee, t.AmountFeeAsset, q.Fee, q.FeeAsset},
	}
	for _, p := range pairs {
		if !p.value.Valid {
			continue
		}
		if !p.value.Decimal.Equal(p.quoteValue) {
			return fmt.Errorf("%s[%s] does not match quote[%s] value %s", p.name, p.value.Decimal, q.ID, p.quoteValue)
		}
		if p.asset != "" && p.asset != p.quoteAsset {
			return fmt.Errorf("%s asset[%s] does not match quote[%s] asset %s", p.name, p.asset, q.ID, p.quoteAsset)
		}
	}
	return nil
}

func sameAmount(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}
