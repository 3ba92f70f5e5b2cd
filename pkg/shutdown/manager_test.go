package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"subrelay/pkg/log"
)

func TestCleanupLIFOOrder(t *testing.T) {
	m := NewManager(log.Nop(), time.Second)
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		m.RegisterCleanup(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	m.RunCleanups(time.Second)
	if len(order) != 3 || order[0] != "c" || order[1] != "b" || order[2] != "a" {
		t.Errorf("cleanup order not LIFO: %v", order)
	}
}

func TestCleanupErrorDoesNotStrandOthers(t *testing.T) {
	m := NewManager(log.Nop(), time.Second)
	ran := false
	m.RegisterCleanup("first", func(ctx context.Context) error {
		ran = true
		return nil
	})
	m.RegisterCleanup("failing", func(ctx context.Context) error {
		return errors.New("boom")
	})
	m.RegisterCleanup("panicking", func(ctx context.Context) error {
		panic("boom")
	})
	m.RunCleanups(time.Second)
	if !ran {
		t.Error("cleanup after a failing one should still run")
	}
}

func TestTriggerSetsFlagAndClosesDone(t *testing.T) {
	m := NewManager(log.Nop(), time.Second)
	if m.Requested() {
		t.Fatal("fresh manager should not be in shutdown")
	}
	m.Trigger()
	if !m.Requested() {
		t.Error("Requested after Trigger")
	}
	select {
	case <-m.Done():
	default:
		t.Error("Done channel should be closed after Trigger")
	}
	// Trigger 幂等
	m.Trigger()
}

func TestRunCleanupsClearsList(t *testing.T) {
	m := NewManager(log.Nop(), time.Second)
	count := 0
	m.RegisterCleanup("once", func(ctx context.Context) error {
		count++
		return nil
	})
	m.RunCleanups(time.Second)
	m.RunCleanups(time.Second)
	if count != 1 {
		t.Errorf("cleanup should run exactly once, got %d", count)
	}
}
