// Package hw talks to light sensors and LEDs exposed as sysfs-style files.
package hw

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// LightFile reads a light level from a text file holding one number, such as a
// Linux IIO illuminance node (/sys/bus/iio/devices/iio:device0/in_illuminance_raw).
// Values are scaled by Scale and clamped to 0..65535.
type LightFile struct {
	Path  string
	Scale float64
}

func NewLightFile(path string) *LightFile {
	return &LightFile{Path: path, Scale: 1}
}

func (f *LightFile) ReadLight() (uint16, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return 0, fmt.Errorf("read light sensor: %w", err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse light level %q: %w", strings.TrimSpace(string(raw)), err)
	}
	scale := f.Scale
	if scale == 0 {
		scale = 1
	}
	v *= scale
	switch {
	case math.IsNaN(v) || v < 0:
		return 0, nil
	case v > math.MaxUint16:
		return math.MaxUint16, nil
	}
	return uint16(v), nil
}
