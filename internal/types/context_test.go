package types

import (
	"context"
	"testing"
)

func TestActorContextRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{ID: "usr_1", Role: RoleAdmin})

	actor, ok := GetActor(ctx)
	if !ok {
		t.Fatal("GetActor returned ok=false")
	}
	if actor.ID != "usr_1" || !actor.IsAdmin() {
		t.Errorf("actor = %+v", actor)
	}
}

func TestGetActorMissing(t *testing.T) {
	if _, ok := GetActor(context.Background()); ok {
		t.Error("GetActor on empty context returned ok=true")
	}
}

func TestRequestIDContext(t *testing.T) {
	if GetRequestID(context.Background()) != "" {
		t.Error("empty context should yield empty request id")
	}
	ctx := WithRequestID(context.Background(), "req-1")
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID = %q", got)
	}
}

func TestOrderHelpers(t *testing.T) {
	o := &Order{UserID: "usr_1"}
	if o.Reference() != "" {
		t.Errorf("Reference() = %q, want empty", o.Reference())
	}
	ref := "pi_1"
	o.PaymentReference = &ref
	if o.Reference() != "pi_1" {
		t.Errorf("Reference() = %q", o.Reference())
	}
	if !o.OwnedBy("usr_1") || o.OwnedBy("usr_2") {
		t.Error("OwnedBy mismatch")
	}
}
