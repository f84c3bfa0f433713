package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"berryplc/pkg/plcerror"
)

const sample = `
# machine configuration
[plc]
scan_period: 10ms
log_level: info

[stepper x]
step_pin = GPIO17
dir_pin = GPIO27
microstep: 8
max_velocity: 500.0
max_accel: 2000.0

[input start_button]
pin: GPIO5
pull_up: true
invert: no

[input stop_button]
pin: GPIO6
pull_up: true
invert: yes
`

func TestLoadStringSections(t *testing.T) {
	c, err := LoadString(sample)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"plc", "stepper x", "input start_button", "input stop_button"}
	if got := c.GetSectionNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("sections = %v, want %v", got, want)
	}
}

func TestTypedGetters(t *testing.T) {
	c, err := LoadString(sample)
	if err != nil {
		t.Fatal(err)
	}
	sec, err := c.GetSection("stepper x")
	if err != nil {
		t.Fatal(err)
	}

	if pin, _ := sec.Get("step_pin"); pin != "GPIO17" {
		t.Errorf("step_pin = %q", pin)
	}
	if ms, _ := sec.GetInt("microstep"); ms != 8 {
		t.Errorf("microstep = %d", ms)
	}
	if v, _ := sec.GetFloat("max_velocity"); v != 500.0 {
		t.Errorf("max_velocity = %g", v)
	}
	// Option names are case-insensitive.
	if v, _ := sec.GetFloat("Max_Accel"); v != 2000.0 {
		t.Errorf("max_accel = %g", v)
	}
	// Fallback for an absent option.
	if v, _ := sec.GetFloat("max_jerk", 20000); v != 20000 {
		t.Errorf("fallback = %g", v)
	}
	// Absent without fallback is an error.
	if _, err := sec.Get("enable_pin"); err == nil {
		t.Error("missing option without fallback should fail")
	}
}

func TestGetBool(t *testing.T) {
	c, _ := LoadString(sample)
	start, _ := c.GetSection("input start_button")
	stop, _ := c.GetSection("input stop_button")

	if up, _ := start.GetBool("pull_up"); !up {
		t.Error("pull_up: true parsed as false")
	}
	if inv, _ := start.GetBool("invert"); inv {
		t.Error("invert: no parsed as true")
	}
	if inv, _ := stop.GetBool("invert"); !inv {
		t.Error("invert: yes parsed as false")
	}
}

func TestGetDuration(t *testing.T) {
	c, err := LoadString("[plc]\nscan_period: 10ms\nwatchdog: 1.5\n")
	if err != nil {
		t.Fatal(err)
	}
	sec, _ := c.GetSection("plc")

	if d, _ := sec.GetDuration("scan_period"); d != 10*time.Millisecond {
		t.Errorf("scan_period = %v", d)
	}
	// Bare numbers are seconds.
	if d, _ := sec.GetDuration("watchdog"); d != 1500*time.Millisecond {
		t.Errorf("watchdog = %v", d)
	}
	if d, _ := sec.GetDuration("missing", 20*time.Millisecond); d != 20*time.Millisecond {
		t.Errorf("fallback = %v", d)
	}
}

func TestGetChoice(t *testing.T) {
	c, _ := LoadString("[stepper x]\ndriver: TMC2208\n")
	sec, _ := c.GetSection("stepper x")

	got, err := sec.GetChoice("driver", []string{"a4988", "tmc2208", "tmc2208_uart"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "tmc2208" {
		t.Errorf("choice = %q, want canonical spelling", got)
	}
	if _, err := sec.GetChoice("driver", []string{"a4988"}); err == nil {
		t.Error("out-of-set choice accepted")
	}
}

func TestGetFloatWithBounds(t *testing.T) {
	c, _ := LoadString("[stepper x]\nmax_velocity: -5\n")
	sec, _ := c.GetSection("stepper x")

	zero := 0.0
	_, err := sec.GetFloatWithBounds("max_velocity", FloatBounds{Above: &zero})
	if err == nil {
		t.Fatal("negative velocity passed Above bound")
	}
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Errorf("error type %T, want *ConfigError", err)
	}
}

func TestConfigErrorsCarryCodes(t *testing.T) {
	c, _ := LoadString("[plc]\nscan_period: fast\n")
	sec, _ := c.GetSection("plc")

	_, err := sec.GetDuration("scan_period")
	if code, ok := plcerror.CodeOf(err); !ok || code != plcerror.ErrConfigValidation {
		t.Errorf("parse failure code = %v, ok = %v", code, ok)
	}

	if _, err := sec.Get("missing"); err == nil {
		t.Error("missing option accepted")
	} else if code, _ := plcerror.CodeOf(err); code != plcerror.ErrConfigOption {
		t.Errorf("missing option code = %v", code)
	}

	if _, err := c.GetSection("nope"); err == nil {
		t.Error("missing section accepted")
	} else if code, _ := plcerror.CodeOf(err); code != plcerror.ErrConfigSection {
		t.Errorf("missing section code = %v", code)
	}
}

func TestPrefixSections(t *testing.T) {
	c, _ := LoadString(sample)
	inputs := c.GetPrefixSections("input ")
	if len(inputs) != 2 {
		t.Fatalf("prefix sections = %d, want 2", len(inputs))
	}
	if inputs[0].GetName() != "input start_button" {
		t.Errorf("first input = %q, want file order", inputs[0].GetName())
	}
}

func TestCheckUnused(t *testing.T) {
	c, _ := LoadString(sample)
	if err := c.CheckUnused(); err == nil {
		t.Fatal("nothing read yet, CheckUnused should fail")
	}

	c2, _ := LoadString("[plc]\nscan_period: 10ms\n")
	sec, _ := c2.GetSection("plc")
	if _, err := sec.GetDuration("scan_period"); err != nil {
		t.Fatal(err)
	}
	if err := c2.CheckUnused(); err != nil {
		t.Errorf("all options read, CheckUnused failed: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine.cfg")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !c.HasSection("plc") {
		t.Error("plc section missing after file load")
	}
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"option before section": "speed: 5\n[plc]\n",
		"malformed line":        "[plc]\njust some words\n",
		"empty header":          "[]\nx: 1\n",
	}
	for name, data := range cases {
		if _, err := LoadString(data); err == nil {
			t.Errorf("%s: expected parse error", name)
		}
	}
}

func TestDuplicateSectionsMerge(t *testing.T) {
	c, err := LoadString("[plc]\na: 1\n[plc]\nb: 2\n")
	if err != nil {
		t.Fatal(err)
	}
	sec, _ := c.GetSection("plc")
	if v, _ := sec.GetInt("a"); v != 1 {
		t.Errorf("a = %d", v)
	}
	if v, _ := sec.GetInt("b"); v != 2 {
		t.Errorf("b = %d", v)
	}
}
