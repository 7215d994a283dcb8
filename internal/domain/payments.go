package domain

import "github.com/shopspring/decimal"

const (
	CommissionPercent = 30
	PercentBase       = 100
)

var (
	commissionRate = decimal.NewFromInt(CommissionPercent)
	percentBase    = decimal.NewFromInt(PercentBase)
)

// SplitResale divides a resale price into the organizer commission,
// floor(price*30/100), and the seller's remainder. The parts always sum to price.
func SplitResale(price int64) (organizerFee, sellerAmount int64) {
	fee := decimal.NewFromInt(price).
		Mul(commissionRate).
		Div(percentBase).
		Floor()

	organizerFee = fee.IntPart()
	sellerAmount = price - organizerFee

	return organizerFee, sellerAmount
}

// PlanPayments returns the transfers buyer must make to purchase t.
// A resale pays the organizer commission first and the current owner second;
// a primary sale pays the organizer the full price.
func PlanPayments(t Ticket, organizer, buyer Identity) []Transfer {
	if !t.IsResale {
		return []Transfer{{
			Kind:   TransferPrimary,
			From:   buyer,
			To:     organizer,
			Amount: t.Price,
		}}
	}

	fee, rest := SplitResale(t.Price)

	return []Transfer{
		{Kind: TransferCommission, From: buyer, To: organizer, Amount: fee},
		{Kind: TransferSeller, From: buyer, To: t.Owner, Amount: rest},
	}
}
