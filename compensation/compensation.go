package compensation

import (
	"errors"
	"fmt"
)

// Scheme enumerates how the collaborator is rewarded.
type Scheme string

const (
	SchemePercentage  Scheme = "percentage"
	SchemeFixedAmount Scheme = "fixed_amount"
	SchemeGiftVoucher Scheme = "gift_vouchers"
)

// Party identifies which side of the collaboration a share is computed for.
type Party string

const (
	PartyOwner        Party = "owner"
	PartyCollaborator Party = "collaborator"
)

// OwnerKind mirrors users.kind for the post owner. Lead providers
// (apporteurs) are capped at a sub-50% split.
type OwnerKind string

const (
	OwnerKindAgent     OwnerKind = "agent"
	OwnerKindApporteur OwnerKind = "apporteur"
)

// Unit qualifies the numeric value carried by a Share.
type Unit string

const (
	UnitPercent  Unit = "percent"
	UnitAmount   Unit = "amount"
	UnitVouchers Unit = "vouchers"
)

var (
	// ErrUnknownScheme signals a plan with a scheme outside the enumeration.
	ErrUnknownScheme = errors.New("compensation: unknown scheme")
	// ErrUnknownParty signals a share request for neither owner nor collaborator.
	ErrUnknownParty = errors.New("compensation: unknown party")
)

// Plan is the immutable compensation agreement fixed at proposal time.
// Percentage is set for SchemePercentage, Amount for the other two schemes
// (a flat payout or a voucher count).
type Plan struct {
	Scheme     Scheme
	Percentage *float64
	Amount     *float64
}

// Share is the display/settlement value owed to one party. Defined is false
// when the scheme attributes nothing to that party (flat payouts and voucher
// grants belong entirely to the collaborator).
type Share struct {
	Party   Party
	Unit    Unit
	Value   float64
	Defined bool
}

// Validate checks a plan against the scheme rules. The percentage bound
// depends on the owner kind: an apporteur may concede strictly less than
// half, a fellow agent anything below 100%.
func Validate(plan Plan, ownerKind OwnerKind) error {
	switch plan.Scheme {
	case SchemePercentage:
		if plan.Percentage == nil {
			return fmt.Errorf("compensation: percentage scheme requires a percentage")
		}
		limit := 100.0
		if ownerKind == OwnerKindApporteur {
			limit = 50.0
		}
		if *plan.Percentage <= 0 || *plan.Percentage >= limit {
			return fmt.Errorf("compensation: percentage %.2f out of range (0, %.0f)", *plan.Percentage, limit)
		}
	case SchemeFixedAmount:
		if plan.Amount == nil || *plan.Amount <= 0 {
			return fmt.Errorf("compensation: fixed amount scheme requires a positive amount")
		}
	case SchemeGiftVoucher:
		if plan.Amount == nil || *plan.Amount <= 0 || *plan.Amount != float64(int64(*plan.Amount)) {
			return fmt.Errorf("compensation: gift voucher scheme requires a positive whole count")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScheme, plan.Scheme)
	}
	return nil
}

// ShareFor computes the share owed to one party under the plan. It is pure:
// no state is read or written beyond the arguments.
func ShareFor(plan Plan, party Party) (Share, error) {
	if party != PartyOwner && party != PartyCollaborator {
		return Share{}, fmt.Errorf("%w: %q", ErrUnknownParty, party)
	}

	switch plan.Scheme {
	case SchemePercentage:
		if plan.Percentage == nil {
			return Share{}, fmt.Errorf("compensation: percentage plan missing percentage")
		}
		value := *plan.Percentage
		if party == PartyOwner {
			value = 100 - value
		}
		return Share{Party: party, Unit: UnitPercent, Value: value, Defined: true}, nil
	case SchemeFixedAmount:
		if plan.Amount == nil {
			return Share{}, fmt.Errorf("compensation: fixed amount plan missing amount")
		}
		if party == PartyOwner {
			return Share{Party: party, Unit: UnitAmount}, nil
		}
		return Share{Party: party, Unit: UnitAmount, Value: *plan.Amount, Defined: true}, nil
	case SchemeGiftVoucher:
		if plan.Amount == nil {
			return Share{}, fmt.Errorf("compensation: gift voucher plan missing count")
		}
		if party == PartyOwner {
			return Share{Party: party, Unit: UnitVouchers}, nil
		}
		return Share{Party: party, Unit: UnitVouchers, Value: *plan.Amount, Defined: true}, nil
	default:
		return Share{}, fmt.Errorf("%w: %q", ErrUnknownScheme, plan.Scheme)
	}
}

// AmountOf projects a percentage share onto a transaction value, for display
// when the listing collaborator knows the final price. Non-percentage shares
// are returned unchanged.
func AmountOf(share Share, transactionValue float64) Share {
	if share.Unit != UnitPercent || !share.Defined {
		return share
	}
	return Share{
		Party:   share.Party,
		Unit:    UnitAmount,
		Value:   transactionValue * share.Value / 100,
		Defined: true,
	}
}
