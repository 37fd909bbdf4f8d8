package compensation

import (
	"errors"
	"testing"
)

func fp(v float64) *float64 { return &v }

func TestShareFor_PercentageSumsToHundred(t *testing.T) {
	for _, pct := range []float64{0.5, 10, 30, 49.9, 50, 75, 99.5} {
		plan := Plan{Scheme: SchemePercentage, Percentage: fp(pct)}

		owner, err := ShareFor(plan, PartyOwner)
		if err != nil {
			t.Fatalf("owner share for %.1f: %v", pct, err)
		}
		collab, err := ShareFor(plan, PartyCollaborator)
		if err != nil {
			t.Fatalf("collaborator share for %.1f: %v", pct, err)
		}

		if !owner.Defined || !collab.Defined {
			t.Fatalf("percentage shares must both be defined, got %+v / %+v", owner, collab)
		}
		if owner.Unit != UnitPercent || collab.Unit != UnitPercent {
			t.Fatalf("expected percent units, got %s / %s", owner.Unit, collab.Unit)
		}
		if owner.Value+collab.Value != 100 {
			t.Errorf("shares for %.1f sum to %.2f, want 100", pct, owner.Value+collab.Value)
		}
		if collab.Value != pct {
			t.Errorf("collaborator share = %.2f, want %.2f", collab.Value, pct)
		}
	}
}

func TestShareFor_FixedAmountBelongsToCollaborator(t *testing.T) {
	plan := Plan{Scheme: SchemeFixedAmount, Amount: fp(1500)}

	collab, err := ShareFor(plan, PartyCollaborator)
	if err != nil {
		t.Fatalf("collaborator share: %v", err)
	}
	if !collab.Defined || collab.Value != 1500 || collab.Unit != UnitAmount {
		t.Fatalf("unexpected collaborator share: %+v", collab)
	}

	owner, err := ShareFor(plan, PartyOwner)
	if err != nil {
		t.Fatalf("owner share: %v", err)
	}
	if owner.Defined {
		t.Fatalf("owner share of a flat payout must be undefined, got %+v", owner)
	}
}

func TestShareFor_GiftVouchersCount(t *testing.T) {
	plan := Plan{Scheme: SchemeGiftVoucher, Amount: fp(4)}

	collab, err := ShareFor(plan, PartyCollaborator)
	if err != nil {
		t.Fatalf("collaborator share: %v", err)
	}
	if !collab.Defined || collab.Value != 4 || collab.Unit != UnitVouchers {
		t.Fatalf("unexpected voucher share: %+v", collab)
	}

	owner, err := ShareFor(plan, PartyOwner)
	if err != nil {
		t.Fatalf("owner share: %v", err)
	}
	if owner.Defined {
		t.Fatalf("owner share of vouchers must be undefined, got %+v", owner)
	}
}

func TestShareFor_UnknownSchemeAndParty(t *testing.T) {
	if _, err := ShareFor(Plan{Scheme: "barter"}, PartyOwner); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("expected ErrUnknownScheme, got %v", err)
	}
	if _, err := ShareFor(Plan{Scheme: SchemePercentage, Percentage: fp(30)}, "notary"); !errors.Is(err, ErrUnknownParty) {
		t.Fatalf("expected ErrUnknownParty, got %v", err)
	}
}

func TestValidate_PercentageBounds(t *testing.T) {
	cases := []struct {
		pct     float64
		kind    OwnerKind
		wantErr bool
	}{
		{30, OwnerKindAgent, false},
		{99, OwnerKindAgent, false},
		{100, OwnerKindAgent, true},
		{0, OwnerKindAgent, true},
		{-5, OwnerKindAgent, true},
		{30, OwnerKindApporteur, false},
		{49.9, OwnerKindApporteur, false},
		{50, OwnerKindApporteur, true},
		{60, OwnerKindApporteur, true},
	}

	for _, tc := range cases {
		err := Validate(Plan{Scheme: SchemePercentage, Percentage: fp(tc.pct)}, tc.kind)
		if tc.wantErr && err == nil {
			t.Errorf("Validate(%.1f, %s): expected error", tc.pct, tc.kind)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("Validate(%.1f, %s): unexpected error %v", tc.pct, tc.kind, err)
		}
	}
}

func TestValidate_AmountSchemes(t *testing.T) {
	if err := Validate(Plan{Scheme: SchemeFixedAmount, Amount: fp(500)}, OwnerKindAgent); err != nil {
		t.Fatalf("fixed amount: %v", err)
	}
	if err := Validate(Plan{Scheme: SchemeFixedAmount}, OwnerKindAgent); err == nil {
		t.Fatal("fixed amount without amount must fail")
	}
	if err := Validate(Plan{Scheme: SchemeGiftVoucher, Amount: fp(2)}, OwnerKindAgent); err != nil {
		t.Fatalf("gift vouchers: %v", err)
	}
	if err := Validate(Plan{Scheme: SchemeGiftVoucher, Amount: fp(2.5)}, OwnerKindAgent); err == nil {
		t.Fatal("fractional voucher count must fail")
	}
}

func TestAmountOf_ProjectsPercentage(t *testing.T) {
	share := Share{Party: PartyCollaborator, Unit: UnitPercent, Value: 30, Defined: true}
	projected := AmountOf(share, 250000)
	if projected.Unit != UnitAmount || projected.Value != 75000 {
		t.Fatalf("unexpected projection: %+v", projected)
	}

	flat := Share{Party: PartyCollaborator, Unit: UnitAmount, Value: 1500, Defined: true}
	if got := AmountOf(flat, 250000); got != flat {
		t.Fatalf("non-percentage share must pass through, got %+v", got)
	}
}
