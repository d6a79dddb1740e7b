package engine

import (
	"testing"

	"github.com/zitlem/DMXX-sub001/internal/config"
	"github.com/zitlem/DMXX-sub001/internal/dmx"
	"github.com/zitlem/DMXX-sub001/internal/logger"
	"github.com/zitlem/DMXX-sub001/internal/monitor"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewLogger("error")
	if err != nil {
		t.Fatal(err)
	}
	return log
}

func uniConf(id string) config.UniverseConf {
	return config.UniverseConf{
		ID:          id,
		Grandmaster: dmx.MaxValue,
		Passthrough: dmx.PassthroughFadersOutput,
		Merge:       dmx.MergeHTP,
		Input: config.InputConf{
			Kind:       dmx.InputArtNet,
			Enabled:    true,
			RangeStart: 1,
			RangeEnd:   512,
		},
	}
}

func testEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := New(testLogger(t), cfg, monitor.NewBus())
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func engineWith(t *testing.T, universes ...config.UniverseConf) *Engine {
	t.Helper()
	return testEngine(t, &config.Config{
		Global:    config.GlobalConf{Grandmaster: dmx.MaxValue, HighlightOverridesPark: true},
		Universes: universes,
	})
}

// show reads the output-side pre-scaling value of one channel.
func show(t *testing.T, e *Engine, universe string, ch int) uint8 {
	t.Helper()
	u, err := e.universe(universe)
	if err != nil {
		t.Fatal(err)
	}
	return e.resolveChannels(u, true)[ch-1]
}

// display reads the display-side pre-scaling value of one channel.
func display(t *testing.T, e *Engine, universe string, ch int) uint8 {
	t.Helper()
	f, err := e.ShowSnapshot(universe)
	if err != nil {
		t.Fatal(err)
	}
	return f[ch-1]
}

func TestMergeHTP(t *testing.T) {
	e := engineWith(t, uniConf("main"))
	u := e.universes["main"]

	if err := e.SetFader("main", 1, 100); err != nil {
		t.Fatal(err)
	}
	u.table.SetExternal(1, 200)
	if got := show(t, e, "main", 1); got != 200 {
		t.Errorf("HTP with higher external = %d, want 200", got)
	}

	u.table.SetExternal(1, 50)
	if got := show(t, e, "main", 1); got != 100 {
		t.Errorf("HTP with lower external = %d, want 100", got)
	}
}

func TestMergeLTP(t *testing.T) {
	cfg := uniConf("main")
	cfg.Merge = dmx.MergeLTP
	e := engineWith(t, cfg)
	u := e.universes["main"]

	if err := e.SetFader("main", 1, 100); err != nil {
		t.Fatal(err)
	}
	u.table.SetExternal(1, 60)
	if got := show(t, e, "main", 1); got != 60 {
		t.Errorf("later external write lost: %d", got)
	}

	if err := e.SetFader("main", 1, 80); err != nil {
		t.Fatal(err)
	}
	if got := show(t, e, "main", 1); got != 80 {
		t.Errorf("later fader write lost: %d", got)
	}
}

func TestMergeIgnoredOutsideGatedRange(t *testing.T) {
	cfg := uniConf("main")
	cfg.Input.RangeStart = 1
	cfg.Input.RangeEnd = 10
	e := engineWith(t, cfg)
	u := e.universes["main"]

	// A stray table write beyond the gate must not reach the output.
	u.table.SetExternal(11, 255)
	if err := e.SetFader("main", 11, 40); err != nil {
		t.Fatal(err)
	}
	if got := show(t, e, "main", 11); got != 40 {
		t.Errorf("out-of-range external merged: %d", got)
	}
}

func TestMergeInputDisabled(t *testing.T) {
	cfg := uniConf("main")
	cfg.Input.Enabled = false
	e := engineWith(t, cfg)
	u := e.universes["main"]

	u.table.SetExternal(1, 255)
	if err := e.SetFader("main", 1, 30); err != nil {
		t.Fatal(err)
	}
	if got := show(t, e, "main", 1); got != 30 {
		t.Errorf("disabled input still merged: %d", got)
	}
}

func TestBypassIgnoresExternalForOutput(t *testing.T) {
	e := engineWith(t, uniConf("main"))
	u := e.universes["main"]

	e.SetBypass(true)
	if err := e.SetFader("main", 1, 200); err != nil {
		t.Fatal(err)
	}
	// External keeps arriving while bypassed; it is recorded, not applied.
	u.table.SetExternal(1, 50)
	u.table.SetExternal(1, 50)

	if got := show(t, e, "main", 1); got != 200 {
		t.Errorf("bypassed show value = %d, want 200", got)
	}
	ext, present, err := e.InputSnapshot("main")
	if err != nil {
		t.Fatal(err)
	}
	if !present[0] || ext[0] != 50 {
		t.Error("bypass must not stop external recording")
	}

	e.SetBypass(false)
	if got := show(t, e, "main", 1); got != 200 {
		t.Errorf("HTP after bypass = %d, want 200", got)
	}
}

func TestPassthroughModes(t *testing.T) {
	cases := []struct {
		mode        dmx.PassthroughMode
		wantOutput  uint8
		wantDisplay uint8
	}{
		{dmx.PassthroughOff, 100, 100},
		{dmx.PassthroughViewOnly, 100, 200},
		{dmx.PassthroughOutputOnly, 200, 100},
		{dmx.PassthroughFadersOutput, 200, 200},
	}
	for _, c := range cases {
		t.Run(string(c.mode), func(t *testing.T) {
			cfg := uniConf("main")
			cfg.Passthrough = c.mode
			e := engineWith(t, cfg)
			u := e.universes["main"]

			if err := e.SetFader("main", 1, 100); err != nil {
				t.Fatal(err)
			}
			u.table.SetExternal(1, 200)

			if got := show(t, e, "main", 1); got != c.wantOutput {
				t.Errorf("output side = %d, want %d", got, c.wantOutput)
			}
			if got := display(t, e, "main", 1); got != c.wantDisplay {
				t.Errorf("display side = %d, want %d", got, c.wantDisplay)
			}
		})
	}
}

func TestGrandmasterScaling(t *testing.T) {
	e := engineWith(t, uniConf("main"))

	if err := e.SetFader("main", 1, 200); err != nil {
		t.Fatal(err)
	}
	e.SetGrandmaster(128)

	f, global, universe, err := e.OutputSnapshot("main")
	if err != nil {
		t.Fatal(err)
	}
	if global != 128 || universe != 255 {
		t.Errorf("levels = %d/%d", global, universe)
	}
	// round(200 * 128/255 * 255/255) = round(100.39) = 100
	if f[0] != 100 {
		t.Errorf("final value = %d, want 100", f[0])
	}

	// The display side stays pre-scaling.
	if got := display(t, e, "main", 1); got != 200 {
		t.Errorf("display scaled: %d", got)
	}

	if err := e.SetUniverseGrandmaster("main", 0); err != nil {
		t.Fatal(err)
	}
	f, _, _, _ = e.OutputSnapshot("main")
	if f[0] != 0 {
		t.Errorf("zero universe master leaked: %d", f[0])
	}
}

func TestParkFreezesChannel(t *testing.T) {
	e := engineWith(t, uniConf("main"))
	u := e.universes["main"]

	if err := e.Park("main", 3, 77); err != nil {
		t.Fatal(err)
	}
	if err := e.SetFader("main", 3, 250); err != nil {
		t.Fatal(err)
	}
	u.table.SetExternal(3, 251)

	if got := show(t, e, "main", 3); got != 77 {
		t.Errorf("parked channel = %d, want 77", got)
	}
	if got := display(t, e, "main", 3); got != 77 {
		t.Errorf("parked display = %d, want 77", got)
	}

	if err := e.Unpark("main", 3); err != nil {
		t.Fatal(err)
	}
	if got := show(t, e, "main", 3); got != 251 {
		t.Errorf("unparked channel = %d, want 251", got)
	}
}

func TestHighlightSolo(t *testing.T) {
	e := engineWith(t, uniConf("main"))

	if err := e.SetFader("main", 1, 10); err != nil {
		t.Fatal(err)
	}
	if err := e.SetFader("main", 5, 20); err != nil {
		t.Fatal(err)
	}
	if err := e.SetHighlight("main", []int{5}); err != nil {
		t.Fatal(err)
	}

	if got := show(t, e, "main", 5); got != 255 {
		t.Errorf("highlighted channel = %d, want 255", got)
	}
	if got := show(t, e, "main", 1); got != 0 {
		t.Errorf("non-highlighted channel = %d, want 0", got)
	}

	e.ClearHighlight()
	if got := show(t, e, "main", 1); got != 10 {
		t.Errorf("highlight did not clear: %d", got)
	}
}

func TestHighlightScopedToUniverse(t *testing.T) {
	e := engineWith(t, uniConf("a"), uniConf("b"))

	if err := e.SetFader("b", 1, 40); err != nil {
		t.Fatal(err)
	}
	if err := e.SetHighlight("a", []int{1}); err != nil {
		t.Fatal(err)
	}

	if got := show(t, e, "a", 1); got != 255 {
		t.Errorf("in-scope channel = %d", got)
	}
	if got := show(t, e, "b", 1); got != 40 {
		t.Errorf("out-of-scope universe affected: %d", got)
	}
}

func TestHighlightParkPrecedence(t *testing.T) {
	// Default: highlight wins over park.
	e := engineWith(t, uniConf("main"))
	if err := e.Park("main", 2, 77); err != nil {
		t.Fatal(err)
	}
	if err := e.SetHighlight("main", []int{2}); err != nil {
		t.Fatal(err)
	}
	if got := show(t, e, "main", 2); got != 255 {
		t.Errorf("highlight should override park: %d", got)
	}

	// Configured the other way round: the parked value survives.
	e = testEngine(t, &config.Config{
		Global:    config.GlobalConf{Grandmaster: dmx.MaxValue, HighlightOverridesPark: false},
		Universes: []config.UniverseConf{uniConf("main")},
	})
	if err := e.Park("main", 2, 77); err != nil {
		t.Fatal(err)
	}
	if err := e.SetHighlight("main", []int{2}); err != nil {
		t.Fatal(err)
	}
	if got := show(t, e, "main", 2); got != 77 {
		t.Errorf("park should override highlight: %d", got)
	}
	// Non-parked channels still follow the highlight.
	if got := show(t, e, "main", 9); got != 0 {
		t.Errorf("non-parked channel under highlight = %d, want 0", got)
	}
}
