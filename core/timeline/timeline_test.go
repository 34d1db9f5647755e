package timeline

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
)

func mustClip(t *testing.T, locator string, duration float64) Clip {
	t.Helper()
	c, err := NewClip(locator, duration)
	if err != nil {
		t.Fatalf("NewClip(%q, %v) error = %v", locator, duration, err)
	}
	return c
}

func startTimes(clips []Clip) []float64 {
	out := make([]float64, len(clips))
	for i, c := range clips {
		out[i] = c.StartTime()
	}
	return out
}

func locators(clips []Clip) []string {
	out := make([]string, len(clips))
	for i, c := range clips {
		out[i] = c.MediaLocator
	}
	return out
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// assertContiguous 每个片段从上一个结束处开始
func assertContiguous(t *testing.T, tl *Timeline) {
	t.Helper()
	clips := tl.Snapshot()
	var want, sum float64
	for i, c := range clips {
		if math.Abs(c.StartTime()-want) > 1e-9 {
			t.Fatalf("clip %d starts at %v, want %v", i, c.StartTime(), want)
		}
		want += c.EffectiveDuration()
		sum += c.EffectiveDuration()
	}
	if math.Abs(tl.TotalDuration()-sum) > 1e-9 {
		t.Fatalf("TotalDuration() = %v, want %v", tl.TotalDuration(), sum)
	}
}

func TestNewClipDefaults(t *testing.T) {
	c := mustClip(t, "a.mp4", 5)
	if c.Transition != TransitionFade {
		t.Errorf("default transition = %s, want fade", c.Transition)
	}
	if c.Source != SourceLocal {
		t.Errorf("default source = %s, want local", c.Source)
	}
	if c.ColorGrade != nil {
		t.Error("new clip should have no color grade")
	}
	if c.EffectiveDuration() != 5 {
		t.Errorf("EffectiveDuration() = %v, want 5", c.EffectiveDuration())
	}
}

func TestAppendDerivesStartTimes(t *testing.T) {
	tl, _ := New()
	for _, name := range []string{"a", "b", "c"} {
		if err := tl.Append(mustClip(t, name, 5)); err != nil {
			t.Fatalf("Append(%s) error = %v", name, err)
		}
	}

	if got := startTimes(tl.Snapshot()); !equalFloats(got, []float64{0, 5, 10}) {
		t.Fatalf("start times = %v, want [0 5 10]", got)
	}
	if tl.TotalDuration() != 15 {
		t.Fatalf("TotalDuration() = %v, want 15", tl.TotalDuration())
	}

	if !tl.RemoveAt(1) {
		t.Fatal("RemoveAt(1) reported no-op")
	}
	if got := startTimes(tl.Snapshot()); !equalFloats(got, []float64{0, 5}) {
		t.Fatalf("start times after remove = %v, want [0 5]", got)
	}
	if got := locators(tl.Snapshot()); !equalStrings(got, []string{"a", "c"}) {
		t.Fatalf("order after remove = %v", got)
	}
}

func TestTrimPolicy(t *testing.T) {
	tests := []struct {
		name      string
		trimStart float64
		trimEnd   float64
		wantErr   bool
		effective float64
	}{
		{name: "no trim", effective: 10},
		{name: "partial trim", trimStart: 2, trimEnd: 3, effective: 5},
		{name: "trims consume the whole clip", trimStart: 4, trimEnd: 6, effective: 0},
		{name: "trims exceed duration", trimStart: 6, trimEnd: 6, wantErr: true},
		{name: "negative trim start", trimStart: -1, wantErr: true},
		{name: "negative trim end", trimEnd: -0.5, wantErr: true},
		{name: "NaN trim", trimStart: math.NaN(), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tl, _ := New()
			c := mustClip(t, "a.mp4", 10)
			c.TrimStart, c.TrimEnd = tc.trimStart, tc.trimEnd

			err := tl.Append(c)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidTrim) {
					t.Fatalf("Append() error = %v, want ErrInvalidTrim", err)
				}
				if tl.Len() != 0 {
					t.Fatal("rejected clip was appended")
				}
				return
			}
			if err != nil {
				t.Fatalf("Append() error = %v", err)
			}
			if got := tl.TotalDuration(); math.Abs(got-tc.effective) > 1e-9 {
				t.Fatalf("TotalDuration() = %v, want %v", got, tc.effective)
			}
		})
	}
}

func TestNewClipValidation(t *testing.T) {
	if _, err := NewClip("", 5); !errors.Is(err, ErrMissingLocator) {
		t.Errorf("empty locator err = %v", err)
	}
	if _, err := NewClip("a.mp4", 0); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("zero duration err = %v", err)
	}
	if _, err := NewClip("a.mp4", math.Inf(1)); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("infinite duration err = %v", err)
	}
}

func TestValidateTransitionAndGrade(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Clip)
		wantErr error
	}{
		{name: "unknown transition", mutate: func(c *Clip) { c.Transition = "spin" }, wantErr: ErrInvalidTransition},
		{name: "empty transition", mutate: func(c *Clip) { c.Transition = "" }, wantErr: ErrInvalidTransition},
		{name: "brightness above range", mutate: func(c *Clip) { c.ColorGrade = &ColorGrade{Brightness: 1.5} }, wantErr: ErrInvalidGrade},
		{name: "temperature below range", mutate: func(c *Clip) { c.ColorGrade = &ColorGrade{Temperature: -2} }, wantErr: ErrInvalidGrade},
		{name: "nan saturation", mutate: func(c *Clip) { c.ColorGrade = &ColorGrade{Saturation: math.NaN()} }, wantErr: ErrInvalidGrade},
		{name: "bounds accepted", mutate: func(c *Clip) { c.ColorGrade = &ColorGrade{Brightness: -1, Contrast: 1} }},
		{name: "preset accepted", mutate: func(c *Clip) { g := PresetBlackAndWhite.Grade(); c.ColorGrade = &g }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := mustClip(t, "a.mp4", 5)
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tc.wantErr)
			}

			tl, _ := New()
			if err := tl.Append(c); !errors.Is(err, tc.wantErr) {
				t.Fatalf("Append() error = %v, want %v", err, tc.wantErr)
			}
			if tl.Len() != 0 {
				t.Fatalf("invalid clip was appended")
			}
		})
	}
}

func TestMoveClip(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		applied  bool
		want     []string
	}{
		{name: "forward", from: 0, to: 2, applied: true, want: []string{"b", "c", "a", "d"}},
		{name: "backward", from: 3, to: 0, applied: true, want: []string{"d", "a", "b", "c"}},
		{name: "to last index", from: 1, to: 3, applied: true, want: []string{"a", "c", "d", "b"}},
		{name: "same index", from: 2, to: 2, applied: true, want: []string{"a", "b", "c", "d"}},
		{name: "destination out of range", from: 0, to: 4, want: []string{"a", "b", "c", "d"}},
		{name: "source out of range", from: 9, to: 0, want: []string{"a", "b", "c", "d"}},
		{name: "negative index", from: -1, to: 0, want: []string{"a", "b", "c", "d"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tl, err := New(
				mustClip(t, "a", 1), mustClip(t, "b", 2),
				mustClip(t, "c", 3), mustClip(t, "d", 4),
			)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := tl.MoveClip(tc.from, tc.to); got != tc.applied {
				t.Fatalf("MoveClip(%d, %d) = %v, want %v", tc.from, tc.to, got, tc.applied)
			}
			if got := locators(tl.Snapshot()); !equalStrings(got, tc.want) {
				t.Fatalf("order = %v, want %v", got, tc.want)
			}
			assertContiguous(t, tl)
		})
	}
}

func TestOutOfRangeIsNoop(t *testing.T) {
	tl, _ := New(mustClip(t, "a", 5), mustClip(t, "b", 5))
	before := tl.Snapshot()

	if tl.RemoveAt(2) {
		t.Error("RemoveAt(2) reported applied")
	}
	if tl.RemoveAt(-1) {
		t.Error("RemoveAt(-1) reported applied")
	}
	applied, err := tl.UpdateAt(5, mustClip(t, "x", 1))
	if applied || err != nil {
		t.Errorf("UpdateAt(5) = %v, %v", applied, err)
	}

	after := tl.Snapshot()
	if !equalStrings(locators(before), locators(after)) || !equalFloats(startTimes(before), startTimes(after)) {
		t.Fatalf("timeline changed: %v -> %v", locators(before), locators(after))
	}
}

func TestUpdateAt(t *testing.T) {
	a := mustClip(t, "a", 5)
	tl, _ := New(a, mustClip(t, "b", 5))

	replacement := mustClip(t, "a2", 8)
	replacement.TrimStart = 2
	replacement.ID = [16]byte{}
	applied, err := tl.UpdateAt(0, replacement)
	if !applied || err != nil {
		t.Fatalf("UpdateAt(0) = %v, %v", applied, err)
	}

	clips := tl.Snapshot()
	if clips[0].ID != a.ID {
		t.Errorf("replacement without ID should keep %s, got %s", a.ID, clips[0].ID)
	}
	if got := startTimes(clips); !equalFloats(got, []float64{0, 6}) {
		t.Errorf("start times = %v, want [0 6]", got)
	}

	bad := replacement
	bad.TrimEnd = 7
	if _, err := tl.UpdateAt(0, bad); !errors.Is(err, ErrInvalidTrim) {
		t.Errorf("invalid update err = %v, want ErrInvalidTrim", err)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	c := mustClip(t, "a", 5)
	grade := PresetWarm.Grade()
	c.ColorGrade = &grade
	c.Tags = []string{"beach"}
	tl, _ := New(c)

	snap := tl.Snapshot()
	snap[0].ColorGrade.Brightness = 0.9
	snap[0].Tags[0] = "city"
	snap[0].TrimStart = 4

	again := tl.Snapshot()
	if again[0].ColorGrade.Brightness != 0.1 || again[0].Tags[0] != "beach" || again[0].TrimStart != 0 {
		t.Fatalf("snapshot mutation leaked into timeline: %+v", again[0])
	}
}

func TestRandomMutationsKeepTimesContiguous(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tl, _ := New()

	for step := 0; step < 500; step++ {
		n := tl.Len()
		switch rng.Intn(4) {
		case 0:
			c := mustClip(t, "clip", 1+rng.Float64()*9)
			c.TrimStart = rng.Float64() * c.Duration / 2
			if err := tl.Append(c); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		case 1:
			tl.RemoveAt(rng.Intn(n + 2))
		case 2:
			tl.MoveClip(rng.Intn(n+1), rng.Intn(n+1))
		case 3:
			c := mustClip(t, "upd", 1+rng.Float64()*5)
			c.TrimEnd = rng.Float64() * c.Duration
			if _, err := tl.UpdateAt(rng.Intn(n+1), c); err != nil {
				t.Fatalf("UpdateAt() error = %v", err)
			}
		}
		assertContiguous(t, tl)
	}
}

func TestConcurrentReaders(t *testing.T) {
	tl, _ := New()
	c := mustClip(t, "a", 1)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = tl.Append(c)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			clips := tl.Snapshot()
			for j, c := range clips {
				if c.StartTime() != float64(j) {
					t.Errorf("snapshot start %v at %d", c.StartTime(), j)
					return
				}
			}
		}
	}()
	wg.Wait()
}

func TestTransitionDurations(t *testing.T) {
	want := map[Transition]float64{
		TransitionNone:     0,
		TransitionFade:     0.5,
		TransitionDissolve: 0.8,
		TransitionWipe:     0.6,
		TransitionPush:     0.7,
	}
	for tr, d := range want {
		if tr.Duration() != d {
			t.Errorf("%s.Duration() = %v, want %v", tr, tr.Duration(), d)
		}
	}
	if Transition("spin").Duration() != 0 || Transition("spin").Valid() {
		t.Error("unknown transition should be invalid with zero duration")
	}
}

func TestApplyPreset(t *testing.T) {
	tests := []struct {
		preset ColorPreset
		want   [4]float64
	}{
		{PresetNone, [4]float64{0, 0, 0, 0}},
		{PresetVintage, [4]float64{-0.1, 0.2, -0.3, 0.3}},
		{PresetCinematic, [4]float64{-0.15, 0.3, -0.1, -0.1}},
		{PresetVibrant, [4]float64{0.1, 0.2, 0.5, 0}},
		{PresetBlackAndWhite, [4]float64{0, 0.3, -1, 0}},
		{PresetCool, [4]float64{0, 0.1, 0, -0.4}},
		{PresetWarm, [4]float64{0.1, 0, 0.2, 0.5}},
		{PresetDramatic, [4]float64{-0.2, 0.5, 0.2, -0.2}},
	}

	for _, tc := range tests {
		t.Run(string(tc.preset), func(t *testing.T) {
			g := ColorGrade{Brightness: 0.9, Contrast: -0.9, Saturation: 0.9, Temperature: -0.9}
			g.ApplyPreset(tc.preset)
			got := [4]float64{g.Brightness, g.Contrast, g.Saturation, g.Temperature}
			if got != tc.want {
				t.Fatalf("ApplyPreset(%s) = %v, want %v", tc.preset, got, tc.want)
			}
			if g.Preset == nil || *g.Preset != tc.preset {
				t.Fatalf("preset not recorded: %v", g.Preset)
			}
		})
	}

	g := ColorGrade{Brightness: 0.4}
	g.ApplyPreset("sepia")
	if g.Brightness != 0.4 || g.Preset != nil {
		t.Fatalf("unknown preset modified grade: %+v", g)
	}
}

func TestColorGradeClamp(t *testing.T) {
	g := ColorGrade{Brightness: 2, Contrast: -3, Saturation: math.NaN(), Temperature: 0.5}
	g.Clamp()
	if g.Brightness != 1 || g.Contrast != -1 || g.Saturation != 0 || g.Temperature != 0.5 {
		t.Fatalf("Clamp() = %+v", g)
	}
}

func TestTimelineJSON(t *testing.T) {
	tl, _ := New(mustClip(t, "a", 4), mustClip(t, "b", 6))
	raw, err := json.Marshal(tl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var generic []map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal generic: %v", err)
	}
	if generic[1]["startTime"].(float64) != 4 {
		t.Fatalf("second clip startTime = %v, want 4", generic[1]["startTime"])
	}

	// 起始时间在加载时重新推导，不信任输入
	tampered := []byte(`[{"mediaLocator":"x","duration":3,"startTime":99},{"mediaLocator":"y","duration":2}]`)
	var back Timeline
	if err := json.Unmarshal(tampered, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	clips := back.Snapshot()
	if !equalFloats(startTimes(clips), []float64{0, 3}) {
		t.Fatalf("start times = %v, want [0 3]", startTimes(clips))
	}
	if clips[0].Transition != TransitionFade {
		t.Fatalf("missing transition should default to fade, got %q", clips[0].Transition)
	}

	invalid := []byte(`[{"mediaLocator":"x","duration":3,"trimStart":2,"trimEnd":2}]`)
	if err := json.Unmarshal(invalid, &back); !errors.Is(err, ErrInvalidTrim) {
		t.Fatalf("invalid trim err = %v", err)
	}
}
