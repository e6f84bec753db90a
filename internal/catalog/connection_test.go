package catalog

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"sql-advisor/internal/model"
)

func TestAcquire_FailsFastWhenBusy(t *testing.T) {
	m := NewConnManager(ConnConfig{}, nil)

	// An idle handle stands in for an acquired connection; sql.Open does
	// not dial, so no live instance is needed.
	held, err := sql.Open("mysql", "advisor:secret@tcp(127.0.0.1:3306)/shop")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	m.active = held

	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background(), "10.0.0.1", "shop")
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, model.ErrConnectionBusy) {
			t.Errorf("Acquire() error = %v, want ErrConnectionBusy", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second Acquire blocked instead of failing fast")
	}

	m.Release()
	if m.active != nil {
		t.Error("Release must clear the active handle")
	}
}

func TestRelease_SafeWhenIdle(t *testing.T) {
	m := NewConnManager(ConnConfig{}, nil)
	// Releasing with no connection held must be a no-op, repeatedly.
	m.Release()
	m.Release()
	if m.active != nil {
		t.Errorf("active = %v, want nil", m.active)
	}
}

func TestConnConfig_Defaults(t *testing.T) {
	c := ConnConfig{}.withDefaults()
	if c.Host != "127.0.0.1" || c.Port != 3306 || c.TopologyDB != "t" {
		t.Errorf("defaults = %+v", c)
	}
	if c.ConnectTimeout != 5 || c.MaxActiveSessions != 10 {
		t.Errorf("defaults = %+v", c)
	}
	if c.timeout() != 5*time.Second {
		t.Errorf("timeout() = %v, want 5s", c.timeout())
	}

	c = ConnConfig{Host: "db.internal", ConnectTimeout: 2}.withDefaults()
	if c.Host != "db.internal" || c.timeout() != 2*time.Second {
		t.Errorf("explicit values overridden: %+v", c)
	}
}
