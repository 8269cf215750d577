package engine

import "math"

// progressPrecision bounds float error before completion comparisons;
// byte-ratio progress is rounded half up to six decimal places.
const progressPrecision = 1e6

// ClampProgress normalizes a raw progress ratio into [0, 1] at fixed
// precision. NaN collapses to zero.
func ClampProgress(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	p = math.Round(p*progressPrecision) / progressPrecision
	if p > 1 {
		return 1
	}
	return p
}

// Ratio reports uploaded bytes over downloaded bytes. A zero download
// counter is treated as one byte so fresh seeds still report a ratio.
func Ratio(uploaded, downloaded int64) float64 {
	if downloaded < 1 {
		downloaded = 1
	}
	return float64(uploaded) / float64(downloaded)
}

// ETA estimates seconds until completion from the current download rate,
// or -1 when no estimate is possible.
func ETA(totalSize, downloaded, downloadRate int64) int64 {
	if totalSize <= 0 {
		return -1
	}
	remaining := totalSize - downloaded
	if remaining <= 0 {
		return 0
	}
	if downloadRate <= 0 {
		return -1
	}
	return remaining / downloadRate
}
