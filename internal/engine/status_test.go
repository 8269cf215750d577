package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampProgress(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"zero", 0, 0},
		{"half", 0.5, 0.5},
		{"exactly one", 1.0, 1},
		{"negative", -0.1, 0},
		{"above one", 1.5, 1},
		{"nan", math.NaN(), 0},
		{"rounds up within precision", 0.9999996, 1},
		{"below rounding threshold", 0.999999, 0.999999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampProgress(tt.in))
		})
	}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.0, Ratio(0, 0))
	assert.Equal(t, 0.5, Ratio(1000, 2000))
	assert.Equal(t, 2.0, Ratio(4000, 2000))
	// A fresh seed has uploaded without downloading anything this run.
	assert.Equal(t, 500.0, Ratio(500, 0))
}

func TestETA(t *testing.T) {
	tests := []struct {
		name                        string
		totalSize, downloaded, rate int64
		want                        int64
	}{
		{"steady download", 1000, 400, 100, 6},
		{"complete", 1000, 1000, 100, 0},
		{"over complete", 1000, 1200, 100, 0},
		{"stalled", 1000, 400, 0, -1},
		{"unknown size", 0, 0, 100, -1},
		{"complete and stalled", 1000, 1000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ETA(tt.totalSize, tt.downloaded, tt.rate))
		})
	}
}
