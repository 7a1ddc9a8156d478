package access

import (
	"context"
	"testing"
)

func TestStaticRedeemSpendsInvite(t *testing.T) {
	ctx := context.Background()
	v := NewStatic([]string{"alpha", " beta "})

	ok, err := v.Redeem(ctx, "alpha", 1)
	if err != nil || !ok {
		t.Fatalf("redeem = %v, %v", ok, err)
	}
	if ok, _ := v.Verified(ctx, 1); !ok {
		t.Fatal("user not activated after redeem")
	}

	// Spent invites are gone for everyone else.
	if ok, _ := v.Redeem(ctx, "alpha", 2); ok {
		t.Fatal("spent invite redeemed twice")
	}
	if ok, _ := v.Verified(ctx, 2); ok {
		t.Fatal("failed redeem must not activate")
	}
}

func TestStaticRedeemIdempotentForActiveUser(t *testing.T) {
	ctx := context.Background()
	v := NewStatic([]string{"alpha"})

	if ok, _ := v.Redeem(ctx, "alpha", 1); !ok {
		t.Fatal("first redeem failed")
	}
	// A second /start from the same user succeeds without needing an invite.
	if ok, _ := v.Redeem(ctx, "whatever", 1); !ok {
		t.Fatal("active user must stay active")
	}
}

func TestStaticUnknownInviteRejected(t *testing.T) {
	ctx := context.Background()
	v := NewStatic([]string{"alpha"})

	if ok, _ := v.Redeem(ctx, "bogus", 1); ok {
		t.Fatal("unknown invite accepted")
	}
	if ok, _ := v.Redeem(ctx, "beta", 1); ok {
		t.Fatal("token whitespace handling leaked")
	}
	if ok, _ := v.Redeem(ctx, " alpha ", 1); !ok {
		t.Fatal("surrounding whitespace must be tolerated")
	}
}
