package app

import (
	"context"
	"testing"
	"time"

	"github.com/saas2guys/fingate/adapters/clock"
	"github.com/saas2guys/fingate/adapters/memory"
	"github.com/saas2guys/fingate/adapters/metrics"
	"github.com/saas2guys/fingate/domain/principal"
	"github.com/saas2guys/fingate/domain/quota"
	"github.com/saas2guys/fingate/ports"
)

func activePrincipal(plan principal.PlanSnapshot) principal.Principal {
	return principal.Principal{
		ID:                "u-1",
		Plan:              plan,
		SubscriptionState: principal.SubActive,
		RestrictionLevel:  principal.RestrictionNone,
	}
}

func TestAdmitChargesEveryWindow(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	counters := memory.NewCounterStore(0)
	svc := NewQuotaService(QuotaDeps{Counters: counters, Clock: fc, Metrics: metrics.Nop{}})
	ctx := context.Background()
	pr := activePrincipal(proPlan())

	d, err := svc.Admit(ctx, pr)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatalf("decision = %+v", d)
	}

	keys := make([]ports.CounterKey, len(allWindows))
	for i, w := range allWindows {
		keys[i] = ports.CounterKey{Identifier: "u-1", Window: w, WindowStart: quota.Floor(fc.Now(), w)}
	}
	counts, err := counters.Get(ctx, keys)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range keys {
		if counts[k] != 1 {
			t.Errorf("%s counter = %d, want 1", k.Window, counts[k])
		}
	}
}

func TestAdmitRejectWithoutIncrement(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	counters := memory.NewCounterStore(0)
	svc := NewQuotaService(QuotaDeps{Counters: counters, Clock: fc, Metrics: metrics.Nop{}})
	ctx := context.Background()

	plan := starterPlan() // burst 2
	pr := activePrincipal(plan)

	for i := 0; i < 2; i++ {
		if d, _ := svc.Admit(ctx, pr); !d.Allowed {
			t.Fatalf("call %d rejected", i)
		}
	}
	d, _ := svc.Admit(ctx, pr)
	if d.Allowed || d.Reason != quota.ReasonQuotaExceeded || d.ExceededWindow != quota.WindowMinute {
		t.Fatalf("decision = %+v", d)
	}

	minuteKey := []ports.CounterKey{{Identifier: "u-1", Window: quota.WindowMinute, WindowStart: quota.Floor(fc.Now(), quota.WindowMinute)}}
	counts, _ := counters.Get(ctx, minuteKey)
	if counts[minuteKey[0]] != 2 {
		t.Errorf("minute counter = %d, rejection must not increment", counts[minuteKey[0]])
	}
}

func TestAdmitWindowRollsOver(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	svc := NewQuotaService(QuotaDeps{Counters: memory.NewCounterStore(0), Clock: fc, Metrics: metrics.Nop{}})
	ctx := context.Background()
	pr := activePrincipal(starterPlan())

	svc.Admit(ctx, pr)
	svc.Admit(ctx, pr)
	if d, _ := svc.Admit(ctx, pr); d.Allowed {
		t.Fatal("burst should be exhausted")
	}

	fc.Advance(time.Minute)
	if d, _ := svc.Admit(ctx, pr); !d.Allowed {
		t.Error("new minute window should admit")
	}
}

func TestAdmitIdentifiersIsolated(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	svc := NewQuotaService(QuotaDeps{Counters: memory.NewCounterStore(0), Clock: fc, Metrics: metrics.Nop{}})
	ctx := context.Background()

	a := activePrincipal(starterPlan())
	b := activePrincipal(starterPlan())
	b.ID = "u-2"

	svc.Admit(ctx, a)
	svc.Admit(ctx, a)
	if d, _ := svc.Admit(ctx, a); d.Allowed {
		t.Fatal("a should be exhausted")
	}
	if d, _ := svc.Admit(ctx, b); !d.Allowed {
		t.Error("b must not share a's counters")
	}
}
