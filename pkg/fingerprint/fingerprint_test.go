package fingerprint

import (
	"strings"
	"testing"
)

func TestCRC24Empty(t *testing.T) {
	if got := CRC24(nil); got != 0xB704CE {
		t.Errorf("CRC24(nil) = %06X, expected B704CE", got)
	}
	if got := CRC24([]byte{}); got != 0xB704CE {
		t.Errorf("CRC24([]) = %06X, expected B704CE", got)
	}
}

func TestCRC24Deterministic(t *testing.T) {
	seed := []byte("structure.12ab34cd")
	first := CRC24(seed)
	for i := 0; i < 10; i++ {
		if got := CRC24(seed); got != first {
			t.Fatalf("CRC24 not deterministic: %06X != %06X", got, first)
		}
	}
	if first > 0xFFFFFF {
		t.Errorf("CRC24 exceeds 24 bits: %X", first)
	}
	if CRC24([]byte("structure.12ab34ce")) == first {
		t.Error("CRC24 identical for distinct inputs")
	}
}

func TestSerialAndMAC(t *testing.T) {
	serial := Serial("structure.abc")
	if !strings.HasPrefix(serial, "18B430") {
		t.Errorf("serial %q missing OUI prefix", serial)
	}
	if len(serial) != 12 {
		t.Errorf("serial %q not 12 hex digits", serial)
	}
	if serial != strings.ToUpper(serial) {
		t.Errorf("serial %q not uppercase", serial)
	}

	mac := PseudoMAC("structure.abc")
	if len(mac) != 17 || strings.Count(mac, ":") != 5 {
		t.Errorf("pseudo MAC %q not in XX:XX:XX:XX:XX:XX form", mac)
	}
	if !strings.HasPrefix(mac, "18:B4:30:") {
		t.Errorf("pseudo MAC %q missing OUI", mac)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "Living Room", "Living Room"},
		{"symbols stripped", "Front Door (2)", "Front Door 2"},
		{"separators become spaces", "back-yard_cam", "back yard cam"},
		{"collapsed whitespace", "Hall   Way", "Hall Way"},
		{"leading trailing trimmed", "  Porch! ", "Porch"},
		{"apostrophe kept", "Ethan's Office", "Ethan's Office"},
		{"trailing apostrophe trimmed", "Cam'", "Cam"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeName(tt.input); got != tt.expected {
				t.Errorf("SanitizeName(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

// Converting to the other unit and back with rounding must be stable once
// the value is already on the rounded grid.
func TestTemperatureRoundTripIdempotent(t *testing.T) {
	for c := -20.0; c <= 40.0; c += 0.5 {
		f := CToF(c, true)
		back := FToC(f, true)
		f2 := CToF(back, true)
		back2 := FToC(f2, true)
		if back2 != back {
			t.Fatalf("round trip not idempotent at %.1fC: %.2f then %.2f", c, back, back2)
		}
		if f2 != f {
			t.Fatalf("F round trip not idempotent at %.1fC: %.1f then %.1f", c, f, f2)
		}
	}
}

func TestScale(t *testing.T) {
	tests := []struct {
		name     string
		v        float64
		expected float64
	}{
		{"below window clamps", 3.5, 0},
		{"window floor", 3.6, 0},
		{"midpoint", 3.75, 50},
		{"window ceiling", 3.9, 100},
		{"above window clamps", 4.2, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Scale(tt.v, 3.6, 3.9, 0, 100); got != tt.expected {
				t.Errorf("Scale(%v) = %v, expected %v", tt.v, got, tt.expected)
			}
		})
	}
}
