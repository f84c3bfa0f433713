package stepgen

import (
	"errors"
	"io"
	"testing"
	"time"

	"berryplc/pkg/hal"
	"berryplc/pkg/log"
	"berryplc/pkg/motion"
	"berryplc/pkg/plcerror"
)

func testAxis(t *testing.T) (*Axis, *hal.MemPulseSink, *hal.MemOutput) {
	t.Helper()
	sink := hal.NewMemPulseSink()
	dir := hal.NewMemOutput()
	logger := log.New("axis-test")
	logger.SetWriter(io.Discard)
	return NewAxis("x", sink, dir, logger), sink, dir
}

func TestMoveEmitsExactStepCount(t *testing.T) {
	a, sink, dir := testAxis(t)

	// Triangular, 50 steps in ~0.1 s.
	p, err := motion.Build(50, 2000, 20000)
	if err != nil {
		t.Fatal(err)
	}
	m, err := a.Move(p, true)
	if err != nil {
		t.Fatal(err)
	}
	res := m.Wait()

	if res.Err != nil {
		t.Fatalf("move failed: %v", res.Err)
	}
	if res.Steps != 50 || res.Total != 50 {
		t.Errorf("result = %d/%d, want 50/50", res.Steps, res.Total)
	}
	if sink.Pulses() != 50 {
		t.Errorf("sink saw %d pulses, want 50", sink.Pulses())
	}
	if a.Position() != 50 {
		t.Errorf("position = %d, want 50", a.Position())
	}
	if !dir.Value() {
		t.Error("direction output should be high for a forward move")
	}
	if a.Moving() {
		t.Error("axis still reports moving after Wait")
	}
}

func TestMoveSCurveEmitsExactStepCount(t *testing.T) {
	cases := []struct {
		name                   string
		dist, vmax, amax, jmax float64
	}{
		// Full seven-segment shape: acceleration plateau and cruise.
		{"full", 600, 5000, 100000, 10000000},
		// Short move sheds the plateau and the cruise.
		{"degraded", 40, 2000, 20000, 400000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, sink, _ := testAxis(t)
			p, err := motion.BuildSCurve(tc.dist, tc.vmax, tc.amax, tc.jmax)
			if err != nil {
				t.Fatal(err)
			}
			m, err := a.Move(p, true)
			if err != nil {
				t.Fatal(err)
			}
			res := m.Wait()

			want := int64(tc.dist)
			if res.Err != nil {
				t.Fatalf("move failed: %v", res.Err)
			}
			if res.Steps != want || sink.Pulses() != want {
				t.Errorf("emitted %d pulses, want %d", sink.Pulses(), want)
			}
			if a.Position() != want {
				t.Errorf("position = %d, want %d", a.Position(), want)
			}
		})
	}
}

func TestSnapshotPairsPositionWithIdleFlag(t *testing.T) {
	a, _, _ := testAxis(t)

	// Hammer short jogs: the first snapshot that reports the axis idle
	// must already include the finished move's pulse. Separate
	// Position/Moving calls can interleave with the move completing and
	// pair a stale position with moving=false.
	for i := int64(1); i <= 50; i++ {
		m, err := a.Jog(100000, 1, true)
		if err != nil {
			t.Fatal(err)
		}
		for {
			pos, moving := a.Snapshot()
			if !moving {
				if pos != i {
					t.Fatalf("idle snapshot position = %d, want %d", pos, i)
				}
				break
			}
		}
		m.Wait()
	}
}

func TestMoveBackwardDecrementsPosition(t *testing.T) {
	a, _, dir := testAxis(t)

	p, err := motion.Build(20, 2000, 20000)
	if err != nil {
		t.Fatal(err)
	}
	m, err := a.Move(p, false)
	if err != nil {
		t.Fatal(err)
	}
	m.Wait()

	if a.Position() != -20 {
		t.Errorf("position = %d, want -20", a.Position())
	}
	if dir.Value() {
		t.Error("direction output should be low for a backward move")
	}
}

func TestCancelLeavesPositionAtEmittedSteps(t *testing.T) {
	a, sink, _ := testAxis(t)

	// Slow move, several seconds long.
	p, err := motion.Build(5000, 500, 1000)
	if err != nil {
		t.Fatal(err)
	}
	m, err := a.Move(p, true)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	a.Cancel()
	res := m.Wait()

	if !errors.Is(res.Err, plcerror.ErrMoveCancelled) {
		t.Fatalf("result err = %v, want ErrMoveCancelled", res.Err)
	}
	if res.Steps >= res.Total {
		t.Errorf("cancelled move emitted all %d steps", res.Total)
	}
	if got := sink.Pulses(); got != res.Steps {
		t.Errorf("sink pulses %d != result steps %d", got, res.Steps)
	}
	if a.Position() != res.Steps {
		t.Errorf("position %d != emitted steps %d", a.Position(), res.Steps)
	}
	if a.Moving() {
		t.Error("axis reports moving after cancel acknowledged")
	}
}

func TestCancelIdleAxisIsNoop(t *testing.T) {
	a, _, _ := testAxis(t)
	a.Cancel()
	if a.Position() != 0 {
		t.Errorf("position = %d", a.Position())
	}
}

func TestMoveWhileBusyRejected(t *testing.T) {
	a, _, _ := testAxis(t)

	p, err := motion.Build(5000, 500, 1000)
	if err != nil {
		t.Fatal(err)
	}
	m, err := a.Move(p, true)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		a.Cancel()
		m.Wait()
	}()

	if _, err := a.Move(p, true); err == nil {
		t.Fatal("second move on a busy axis must fail")
	} else if code, _ := plcerror.CodeOf(err); code != plcerror.ErrAxisBusy {
		t.Errorf("code = %v, want AXIS_BUSY", code)
	}
}

func TestJogConstantSpeed(t *testing.T) {
	a, sink, _ := testAxis(t)

	m, err := a.Jog(1000, 30, true)
	if err != nil {
		t.Fatal(err)
	}
	res := m.Wait()

	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if res.Steps != 30 || sink.Pulses() != 30 {
		t.Errorf("emitted %d pulses, want 30", sink.Pulses())
	}
}

func TestJogRejectsBadArguments(t *testing.T) {
	a, _, _ := testAxis(t)
	if _, err := a.Jog(0, 10, true); err == nil {
		t.Error("zero speed must be rejected")
	}
	if _, err := a.Jog(100, 0, true); err == nil {
		t.Error("zero steps must be rejected")
	}
}

func TestMoveDurationTracksProfile(t *testing.T) {
	a, _, _ := testAxis(t)

	p, err := motion.Build(100, 1000, 10000)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	m, err := a.Move(p, true)
	if err != nil {
		t.Fatal(err)
	}
	m.Wait()
	elapsed := time.Since(start)

	want := time.Duration(p.Duration() * float64(time.Second))
	if elapsed < want {
		t.Errorf("move finished in %v, profile lasts %v", elapsed, want)
	}
	if elapsed > want+200*time.Millisecond {
		t.Errorf("move took %v, far beyond profile duration %v", elapsed, want)
	}
}
