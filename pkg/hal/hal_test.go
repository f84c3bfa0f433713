package hal

import "testing"

func TestMemInput(t *testing.T) {
	in := NewMemInput(false)
	if v, _ := in.Read(); v {
		t.Error("initial value should be false")
	}
	in.Set(true)
	if v, _ := in.Read(); !v {
		t.Error("Set(true) not reflected in Read")
	}
}

func TestMemOutput(t *testing.T) {
	out := NewMemOutput()
	if err := out.Write(true); err != nil {
		t.Fatal(err)
	}
	if err := out.Write(false); err != nil {
		t.Fatal(err)
	}
	if out.Value() {
		t.Error("last write was false")
	}
	if out.Writes() != 2 {
		t.Errorf("writes = %d, want 2", out.Writes())
	}
}

func TestMemPWMClampsDuty(t *testing.T) {
	p := NewMemPWM()
	if err := p.SetDuty(1.5); err != nil {
		t.Fatal(err)
	}
	if p.Duty() != 1 {
		t.Errorf("duty = %g, want 1", p.Duty())
	}
	if err := p.SetDuty(-0.2); err != nil {
		t.Fatal(err)
	}
	if p.Duty() != 0 {
		t.Errorf("duty = %g, want 0", p.Duty())
	}
	if err := p.SetDuty(0.25); err != nil {
		t.Fatal(err)
	}
	if p.Duty() != 0.25 {
		t.Errorf("duty = %g, want 0.25", p.Duty())
	}
}

func TestMemPulseSink(t *testing.T) {
	s := NewMemPulseSink()
	for i := 0; i < 7; i++ {
		if err := s.AssertPulse(); err != nil {
			t.Fatal(err)
		}
	}
	if s.Pulses() != 7 {
		t.Errorf("pulses = %d, want 7", s.Pulses())
	}
	if len(s.Times()) != 7 {
		t.Errorf("timestamps = %d, want 7", len(s.Times()))
	}
}
