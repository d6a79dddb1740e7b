package dmx

import "testing"

func TestScaleMIDI(t *testing.T) {
	cases := []struct {
		in   uint8
		want uint8
	}{
		{0, 0},
		{1, 2},
		{64, 129}, // 64*255/127 = 128.5, rounds up
		{127, 255},
		{200, 255}, // out-of-spec values clamp to full
	}
	for _, c := range cases {
		if got := ScaleMIDI(c.in); got != c.want {
			t.Errorf("ScaleMIDI(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestPassthroughVisibility(t *testing.T) {
	cases := []struct {
		mode    PassthroughMode
		output  bool
		display bool
	}{
		{PassthroughOff, false, false},
		{PassthroughViewOnly, false, true},
		{PassthroughOutputOnly, true, false},
		{PassthroughFadersOutput, true, true},
	}
	for _, c := range cases {
		if got := c.mode.FeedsOutput(); got != c.output {
			t.Errorf("%s FeedsOutput = %v, want %v", c.mode, got, c.output)
		}
		if got := c.mode.FeedsDisplay(); got != c.display {
			t.Errorf("%s FeedsDisplay = %v, want %v", c.mode, got, c.display)
		}
	}
}

func TestEnumValidity(t *testing.T) {
	if !MergeHTP.Valid() || !MergeLTP.Valid() || MergePolicy("max").Valid() {
		t.Error("merge policy validity wrong")
	}
	if !InputArtNet.Valid() || !InputNone.Valid() || InputKind("osc_input").Valid() {
		t.Error("input kind validity wrong")
	}
	if !DeviceSACN.Valid() || DeviceType("usb").Valid() {
		t.Error("device type validity wrong")
	}
	if !CastMulticast.Valid() || CastMode("anycast").Valid() {
		t.Error("cast mode validity wrong")
	}
	if !PassthroughOff.Valid() || PassthroughMode("all").Valid() {
		t.Error("passthrough validity wrong")
	}
}
