package observability_test

import (
	"testing"
	"time"

	"github.com/busybeaver/lp-libs/umsgen/observability"
)

type countingObserver struct {
	observability.GenObserver
	modules int
}

func (c *countingObserver) Module(string, observability.ModuleResult, string, time.Duration) {
	c.modules++
}

func TestOrNoop(t *testing.T) {
	if observability.OrNoop(nil) != observability.NoopGenObserver {
		t.Fatalf("expected noop observer for nil")
	}
	observability.NoopGenObserver.Module("m", observability.ModuleResultOK, "", time.Second)

	c := &countingObserver{GenObserver: observability.NoopGenObserver}
	obs := observability.OrNoop(c)
	obs.Module("m", observability.ModuleResultOK, "", time.Millisecond)
	obs.Variants("m", 3)
	if c.modules != 1 {
		t.Fatalf("unexpected module count: %d", c.modules)
	}
}
