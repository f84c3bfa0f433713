package serial

import (
	"runtime"
	"testing"

	"golang.org/x/sys/unix"
)

func TestBaudRateToSpeedStandardRates(t *testing.T) {
	cases := map[int]uint32{
		9600:   unix.B9600,
		115200: unix.B115200,
		230400: unix.B230400,
	}
	for baud, want := range cases {
		got, err := baudRateToSpeed(baud)
		if err != nil {
			t.Fatalf("baud %d: %v", baud, err)
		}
		if got != want {
			t.Errorf("baud %d: speed 0x%x, want 0x%x", baud, got, want)
		}
	}
}

func TestBaudRateToSpeedArbitraryRate(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("arbitrary rates are linux-only")
	}
	got, err := baudRateToSpeed(250000)
	if err != nil {
		t.Fatal(err)
	}
	if got&0x1000 == 0 {
		t.Errorf("speed 0x%x missing BOTHER flag", got)
	}
}

func TestOpenRequiresDevice(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("empty device path accepted")
	}
}

func TestIsDeviceAvailableMissing(t *testing.T) {
	if IsDeviceAvailable("/dev/does-not-exist-ttyZZ9") {
		t.Error("missing device reported available")
	}
}
