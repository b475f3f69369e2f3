package validation

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/mmeshcher/fairmatch/internal/model"
)

func TestCoordinates(t *testing.T) {
	tests := []struct {
		name  string
		lat   float64
		lon   float64
		valid bool
	}{
		{name: "tunis", lat: 36.8, lon: 10.18, valid: true},
		{name: "north pole", lat: 90, lon: 0, valid: true},
		{name: "antimeridian", lat: 0, lon: -180, valid: true},
		{name: "latitude too high", lat: 90.0001, lon: 0, valid: false},
		{name: "longitude too low", lat: 0, lon: -180.5, valid: false},
		{name: "nan latitude", lat: math.NaN(), lon: 0, valid: false},
		{name: "infinite longitude", lat: 0, lon: math.Inf(1), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Coordinates(tt.lat, tt.lon)
			if (err == nil) != tt.valid {
				t.Fatalf("Coordinates(%v, %v) error = %v, want valid=%v", tt.lat, tt.lon, err, tt.valid)
			}
			if err != nil && !errors.Is(err, model.ErrValidation) {
				t.Fatalf("error %v must wrap ErrValidation", err)
			}
		})
	}
}

func TestRadius(t *testing.T) {
	if err := Radius(5000); err != nil {
		t.Fatalf("Radius(5000) = %v", err)
	}
	for _, r := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := Radius(r); err == nil {
			t.Fatalf("Radius(%v) expected error", r)
		}
	}
}

func TestAmount(t *testing.T) {
	if err := Amount("budget", model.MinAmount); err != nil {
		t.Fatalf("minimum amount must pass: %v", err)
	}
	if err := Amount("budget", model.MinAmount-1); err == nil {
		t.Fatalf("0.99 must be rejected")
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		name  string
		value string
		min   int
		max   int
		valid bool
	}{
		{name: "within bounds", value: "Fix sink", min: 3, max: 100, valid: true},
		{name: "too short", value: "ab", min: 3, max: 100, valid: false},
		{name: "blank required", value: "   ", min: 1, max: 100, valid: false},
		{name: "optional empty", value: "", min: 0, max: 500, valid: true},
		{name: "multibyte counts runes", value: strings.Repeat("é", 100), min: 3, max: 100, valid: true},
		{name: "too long", value: strings.Repeat("a", 101), min: 3, max: 100, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Text("title", tt.value, tt.min, tt.max)
			if (err == nil) != tt.valid {
				t.Fatalf("Text(%q) error = %v, want valid=%v", tt.value, err, tt.valid)
			}
		})
	}
}
