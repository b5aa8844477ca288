package adaptive

import (
	"math"
	"testing"
)

func TestIsUserCalibratedBoundary(t *testing.T) {
	cases := []struct {
		attempted  int
		calibrated int
		want       bool
	}{
		{8, 3, true},  // exact boundary
		{7, 5, false}, // many calibrated but not enough attempted
		{8, 2, false},
		{20, 3, true},
		{0, 0, false},
	}
	for _, tc := range cases {
		got := IsUserCalibrated(tc.attempted, tc.calibrated, 8, 3)
		if got != tc.want {
			t.Errorf("IsUserCalibrated(%d, %d) = %v, want %v", tc.attempted, tc.calibrated, got, tc.want)
		}
	}
}

func TestProgressPercentage(t *testing.T) {
	if got := ProgressPercentage(8, 3, 8, 3); got != 100.0 {
		t.Fatalf("progress at thresholds = %.1f, want 100", got)
	}
	if got := ProgressPercentage(0, 0, 8, 3); got != 0.0 {
		t.Fatalf("progress with no records = %.1f, want 0", got)
	}
	if got := ProgressPercentage(4, 0, 8, 3); got != 25.0 {
		t.Fatalf("half attempts, no calibrated = %.1f, want 25", got)
	}
	// Overshooting thresholds must not push progress past 100.
	if got := ProgressPercentage(100, 50, 8, 3); got != 100.0 {
		t.Fatalf("overshoot progress = %.1f, want 100", got)
	}
}

func TestProgressPercentageZeroThresholds(t *testing.T) {
	// Thresholds tuned down to zero count as met; the result must stay a
	// finite percentage, never NaN or Inf.
	cases := []struct {
		attempted, calibrated, reqAttempted, reqCalibrated int
		want                                               float64
	}{
		{0, 0, 0, 0, 100.0},
		{5, 0, 0, 3, 50.0},
		{0, 2, 8, 0, 50.0},
	}
	for _, tc := range cases {
		got := ProgressPercentage(tc.attempted, tc.calibrated, tc.reqAttempted, tc.reqCalibrated)
		if math.IsNaN(got) || math.IsInf(got, 0) {
			t.Fatalf("ProgressPercentage(%d, %d, %d, %d) is not finite: %v",
				tc.attempted, tc.calibrated, tc.reqAttempted, tc.reqCalibrated, got)
		}
		if got != tc.want {
			t.Errorf("ProgressPercentage(%d, %d, %d, %d) = %.1f, want %.1f",
				tc.attempted, tc.calibrated, tc.reqAttempted, tc.reqCalibrated, got, tc.want)
		}
	}
}

func TestStatusLabel(t *testing.T) {
	if got := StatusLabel(0, false); got != "not_started" {
		t.Errorf("no attempts label = %s", got)
	}
	if got := StatusLabel(5, false); got != "calibrating" {
		t.Errorf("partial label = %s", got)
	}
	if got := StatusLabel(10, true); got != "calibrated" {
		t.Errorf("calibrated label = %s", got)
	}
}

func TestBuildStatusCounts(t *testing.T) {
	s := buildStatus(10, 4, 8, 3)
	if !s.IsCalibrated {
		t.Fatalf("10 attempted / 4 calibrated should be calibrated")
	}
	if s.CalibratingCount != 6 {
		t.Fatalf("calibrating count = %d, want 6", s.CalibratingCount)
	}
}
