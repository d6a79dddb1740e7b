package outputs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zitlem/DMXX-sub001/internal/dmx"
	"github.com/zitlem/DMXX-sub001/internal/logger"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewLogger("error")
	if err != nil {
		t.Fatal(err)
	}
	return log
}

func dummyCfg(id string) Config {
	return Config{ID: id, Type: dmx.DeviceDummy, Interval: 2 * time.Millisecond}
}

func staticSource(v uint8) Source {
	return func() dmx.Frame {
		var f dmx.Frame
		for i := range f {
			f[i] = v
		}
		return f
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestDummyDriverTicks(t *testing.T) {
	d := New(testLogger(t), dummyCfg("sim"), staticSource(42))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return d.Status().Sent > 0 }, "dummy never ticked")

	f, ok := d.(*dummyOutput).LastFrame()
	if !ok || f[0] != 42 || f[511] != 42 {
		t.Fatalf("last frame = %v %v", f[0], ok)
	}

	d.Stop()
	sent := d.Status().Sent
	time.Sleep(20 * time.Millisecond)
	if d.Status().Sent != sent {
		t.Error("ticks continued after Stop returned")
	}
	if d.Status().Running {
		t.Error("driver still reports running")
	}
}

func TestSetIndependentOutputs(t *testing.T) {
	s := NewSet(testLogger(t), "main", staticSource(7))
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Add(dummyCfg(id), true); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, func() bool {
		for _, st := range s.Statuses() {
			if st.Sent == 0 {
				return false
			}
		}
		return true
	}, "not all outputs ticked")

	// Disabling one output stops it; the siblings keep going.
	if err := s.SetEnabled("b", false); err != nil {
		t.Fatal(err)
	}
	var aSent uint64
	for _, st := range s.Statuses() {
		switch st.ID {
		case "a":
			aSent = st.Sent
		case "b":
			if st.Running {
				t.Error("disabled output still running")
			}
		}
	}
	waitFor(t, func() bool {
		for _, st := range s.Statuses() {
			if st.ID == "a" {
				return st.Sent > aSent
			}
		}
		return false
	}, "sibling output stalled after disable")
}

func TestSetReEnableStartsFresh(t *testing.T) {
	s := NewSet(testLogger(t), "main", staticSource(1))
	if err := s.Add(dummyCfg("o"), true); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return s.Statuses()[0].Sent > 5 }, "output never ticked")

	if err := s.SetEnabled("o", false); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEnabled("o", true); err != nil {
		t.Fatal(err)
	}

	// A fresh driver starts over: counters (and protocol sequence) reset.
	st := s.Statuses()[0]
	if st.Sent > 5 {
		t.Errorf("re-enabled output kept old counters: %+v", st)
	}
	waitFor(t, func() bool { return s.Statuses()[0].Sent > 0 }, "re-enabled output never ticked")
}

func TestSetAddUpdateRemove(t *testing.T) {
	s := NewSet(testLogger(t), "main", staticSource(0))
	if err := s.Add(dummyCfg("o"), false); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(dummyCfg("o"), false); err == nil {
		t.Error("duplicate id accepted")
	}
	if err := s.Update(dummyCfg("missing")); err == nil {
		t.Error("update of unknown output accepted")
	}
	if err := s.Remove("o"); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("o"); err == nil {
		t.Error("double remove accepted")
	}
	if err := s.SetEnabled("o", true); err == nil {
		t.Error("toggle of removed output accepted")
	}
}

func TestRunnerFailureIsolation(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	r := &runner{
		log:    testLogger(t),
		cfg:    Config{ID: "flaky", Type: dmx.DeviceDummy, Interval: 2 * time.Millisecond},
		source: staticSource(0),
	}
	r.send = func(dmx.Frame, uint8) error {
		if fail.Load() {
			return context.DeadlineExceeded
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.start(ctx)
	defer r.halt()

	waitFor(t, func() bool { return r.status().Errors > 1 }, "errors not counted")
	st := r.status()
	if !st.Degraded || st.LastError == "" {
		t.Errorf("degraded state not reported: %+v", st)
	}

	// Next ticks retry and recover.
	fail.Store(false)
	waitFor(t, func() bool { return r.status().Sent > 0 }, "runner never recovered")
	waitFor(t, func() bool { return !r.status().Degraded }, "degraded flag stuck")
}
