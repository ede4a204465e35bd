// Package fingerprint derives stable device identities and normalizes
// vendor values: CRC-24 pseudo-MAC suffixes, HomeKit-safe names,
// temperature conversion and linear value scaling.
package fingerprint

import (
	"fmt"
	"math"
	"strings"
)

const (
	crc24Poly = 0x864CFB
	crc24Init = 0xB704CE

	// macPrefix is the fixed OUI prepended to CRC-24 suffixes
	macPrefix = "18B430"
)

var crc24Table [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 16
		for bit := 0; bit < 8; bit++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= crc24Poly
			}
		}
		crc24Table[i] = crc & 0xFFFFFF
	}
}

// CRC24 computes the CRC-24 checksum (poly 0x864CFB, init 0xB704CE) of data.
// The empty input yields the initial value 0xB704CE.
func CRC24(data []byte) uint32 {
	crc := uint32(crc24Init)
	for _, b := range data {
		crc = ((crc << 8) ^ crc24Table[byte(crc>>16)^b]) & 0xFFFFFF
	}
	return crc
}

// Serial derives a 12-hex-digit serial from the seed: the fixed OUI plus
// the uppercase CRC-24 of the seed.
func Serial(seed string) string {
	return fmt.Sprintf("%s%06X", macPrefix, CRC24([]byte(seed)))
}

// PseudoMAC formats the derived serial as a colon-separated MAC address,
// used as the pairing username.
func PseudoMAC(seed string) string {
	return FormatMAC(Serial(seed))
}

// FormatMAC formats a 12-hex-digit serial as XX:XX:XX:XX:XX:XX.
func FormatMAC(serial string) string {
	serial = strings.ToUpper(serial)
	if len(serial) != 12 {
		return serial
	}
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, serial[i:i+2])
	}
	return strings.Join(parts, ":")
}

// SanitizeName makes a device description safe for HomeKit: only letters,
// digits, spaces and apostrophes survive, runs of whitespace collapse, and
// the result starts and ends with an alphanumeric character.
func SanitizeName(s string) string {
	var b strings.Builder
	lastSpace := true // Suppress leading whitespace
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r == '\'':
			if !lastSpace {
				b.WriteRune(r)
			}
		case r == ' ', r == '\t', r == '-', r == '_', r == '.':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(strings.TrimRight(b.String(), " "), "'")
}

// CToF converts Celsius to Fahrenheit. With round, the result snaps to
// whole degrees Fahrenheit.
func CToF(c float64, round bool) float64 {
	f := c*9.0/5.0 + 32.0
	if round {
		return math.Round(f)
	}
	return f
}

// FToC converts Fahrenheit to Celsius. With round, the result snaps to
// 0.5 degree Celsius steps.
func FToC(f float64, round bool) float64 {
	c := (f - 32.0) * 5.0 / 9.0
	if round {
		return math.Round(c*2.0) / 2.0
	}
	return c
}

// RoundC snaps a Celsius value to 0.5 degree steps.
func RoundC(c float64) float64 {
	return math.Round(c*2.0) / 2.0
}

// Scale maps v from [inMin, inMax] to [outMin, outMax], clamping to the
// output range. Battery voltage windows use this.
func Scale(v, inMin, inMax, outMin, outMax float64) float64 {
	if inMax == inMin {
		return outMin
	}
	if v <= inMin {
		return outMin
	}
	if v >= inMax {
		return outMax
	}
	return (v-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}
