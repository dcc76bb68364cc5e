package action

import (
	"github.com/shopspring/decimal"

	"anchor-platform/internal/asset"
	"anchor-platform/internal/domain"
)

type AmountAsset struct {
	Amount string `json:"amount" validate:"required,decimal"`
	Asset  string `json:"asset,omitempty"`
}

type FeeDetail struct {
	Name        string `json:"name" validate:"required"`
	Amount      string `json:"amount" validate:"required,decimal"`
	Description string `json:"description,omitempty"`
}

type FeeDetails struct {
	Total   string      `json:"total" validate:"required,decimal"`
	Asset   string      `json:"asset" validate:"required"`
	Details []FeeDetail `json:"details,omitempty" validate:"dive"`
}

// Amounts is the optional amount block shared by the funding actions.
type Amounts struct {
	AmountIn       *AmountAsset `json:"amount_in,omitempty"`
	AmountOut      *AmountAsset `json:"amount_out,omitempty"`
	AmountFee      *AmountAsset `json:"amount_fee,omitempty"`
	FeeDetails     *FeeDetails  `json:"fee_details,omitempty"`
	AmountExpected *AmountAsset `json:"amount_expected,omitempty"`
}

func (a *Amounts) empty() bool {
	return a.AmountIn == nil && a.AmountOut == nil && a.AmountFee == nil && a.FeeDetails == nil && a.AmountExpected == nil
}

func (a *Amounts) hasFee() bool {
	return a.AmountFee != nil || a.FeeDetails != nil
}

// allOrNone accepts either no amounts at all, or amount_in together with a fee.
func (a *Amounts) allOrNone() error {
	if !a.empty() && !(a.AmountIn != nil && a.hasFee()) {
		return invalidParams("All (amount_out is optional) or none of the amount_in, amount_out, and (fee_details or amount_fee) should be set")
	}
	return nil
}

// assetRule constrains which side of the bridge an amount's asset must be on.
type assetRule int

const (
	anyAsset assetRule = iota
	stellarAsset
	offchainAsset
)

func (r assetRule) check(field, assetID string) error {
	switch {
	case assetID == "":
		return nil
	case r == stellarAsset && !asset.IsStellarAsset(assetID):
		return invalidParams("%s.asset should be stellar asset", field)
	case r == offchainAsset && asset.IsStellarAsset(assetID):
		return invalidParams("%s.asset should be non-stellar asset", field)
	}
	return nil
}

type amountRules struct {
	in, out, fee assetRule
}

// validateAmounts checks every amount present in a against the asset catalog. Missing
// assets default to the ones already stored on txn.
func (p *Processor) validateAmounts(txn *domain.Transaction, a *Amounts, rules amountRules) error {
	if a.AmountFee != nil && a.FeeDetails != nil {
		return invalidParams("Either fee_details or amount_fee should be set")
	}
	if a.AmountIn != nil {
		if err := p.checkAmount("amount_in", a.AmountIn, txn.AmountInAsset, false, rules.in); err != nil {
			return err
		}
	}
	if a.AmountOut != nil {
		if err := p.checkAmount("amount_out", a.AmountOut, txn.AmountOutAsset, false, rules.out); err != nil {
			return err
		}
	}
	if a.AmountFee != nil {
		if err := p.checkAmount("amount_fee", a.AmountFee, txn.AmountFeeAsset, true, rules.fee); err != nil {
			return err
		}
	}
	if a.FeeDetails != nil {
		if err := rules.fee.check("fee_details", a.FeeDetails.Asset); err != nil {
			return err
		}
		if _, _, err := p.feeDetails(a.FeeDetails); err != nil {
			return err
		}
	}
	if a.AmountExpected != nil {
		inAsset := txn.AmountInAsset
		if a.AmountIn != nil && a.AmountIn.Asset != "" {
			inAsset = a.AmountIn.Asset
		}
		if err := p.checkAmount("amount_expected", a.AmountExpected, inAsset, false, anyAsset); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) checkAmount(field string, a *AmountAsset, defaultAsset string, allowZero bool, rule assetRule) error {
	assetID := a.Asset
	if assetID == "" {
		assetID = defaultAsset
	}
	if err := rule.check(field, assetID); err != nil {
		return err
	}
	if _, err := p.assets.ValidateAmount(field, a.Amount, assetID, allowZero); err != nil {
		return invalidParams("%s", err.Error())
	}
	return nil
}

// feeDetails validates a fee breakdown and returns its total and entries.
func (p *Processor) feeDetails(fd *FeeDetails) (decimal.Decimal, []domain.FeeDetail, error) {
	total, err := p.assets.ValidateAmount("fee_details.total", fd.Total, fd.Asset, true)
	if err != nil {
		return decimal.Zero, nil, invalidParams("%s", err.Error())
	}
	if len(fd.Details) == 0 {
		return total, nil, nil
	}
	sum := decimal.Zero
	details := make([]domain.FeeDetail, 0, len(fd.Details))
	for _, d := range fd.Details {
		amt, err := p.assets.ValidateAmount("fee_details.details.amount", d.Amount, fd.Asset, true)
		if err != nil {
			return decimal.Zero, nil, invalidParams("%s", err.Error())
		}
		sum = sum.Add(amt)
		details = append(details, domain.FeeDetail{Name: d.Name, Amount: amt, Description: d.Description})
	}
	if !sum.Equal(total) {
		return decimal.Zero, nil, invalidParams("fee_details.total[%s] does not match sum of fee_details.details[%s]", total, sum)
	}
	return total, details, nil
}

// applyAmounts writes the amounts present in a; amounts must have passed validateAmounts.
func (p *Processor) applyAmounts(txn *domain.Transaction, a *Amounts) {
	set := func(dst *decimal.NullDecimal, dstAsset *string, src *AmountAsset) {
		if src == nil {
			return
		}
		*dst = decimal.NewNullDecimal(decimal.RequireFromString(src.Amount))
		if src.Asset != "" {
			*dstAsset = src.Asset
		}
	}
	set(&txn.AmountIn, &txn.AmountInAsset, a.AmountIn)
	set(&txn.AmountOut, &txn.AmountOutAsset, a.AmountOut)
	set(&txn.AmountFee, &txn.AmountFeeAsset, a.AmountFee)
	if a.AmountExpected != nil {
		txn.AmountExpected = decimal.NewNullDecimal(decimal.RequireFromString(a.AmountExpected.Amount))
	}
	if a.FeeDetails != nil {
		total, details, _ := p.feeDetails(a.FeeDetails)
		txn.AmountFee = decimal.NewNullDecimal(total)
		txn.AmountFeeAsset = a.FeeDetails.Asset
		txn.FeeDetails = details
	}
}
