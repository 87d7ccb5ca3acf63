//go:build linux || darwin

package eventloop

import (
	"testing"
	"time"
)

func TestPercentileIndex(t *testing.T) {
	for _, tc := range []struct {
		n, p, want int
	}{
		{1, 50, 0},
		{1, 99, 0},
		{10, 0, 0},
		{10, 50, 5},
		{10, 99, 9},
		{10, 100, 9},
		{1000, 99, 990},
	} {
		if got := percentileIndex(tc.n, tc.p); got != tc.want {
			t.Errorf("percentileIndex(%d, %d) = %d, want %d", tc.n, tc.p, got, tc.want)
		}
	}
}

func TestLatencyMetrics_empty(t *testing.T) {
	var m LatencyMetrics
	if s := m.Sample(); s != (LatencySnapshot{}) {
		t.Errorf("expected a zero snapshot, got %+v", s)
	}
}

func TestLatencyMetrics_sample(t *testing.T) {
	var m LatencyMetrics
	for i := 100; i >= 1; i-- {
		m.Record(time.Duration(i) * time.Millisecond)
	}
	s := m.Sample()
	if s.Count != 100 {
		t.Errorf("expected 100 samples, got %d", s.Count)
	}
	if s.P50 != 51*time.Millisecond || s.P99 != 100*time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("unexpected percentiles: %+v", s)
	}
	if want := 50500 * time.Microsecond; s.Mean != want {
		t.Errorf("expected mean %v, got %v", want, s.Mean)
	}
}

func TestLatencyMetrics_rollingWindow(t *testing.T) {
	var m LatencyMetrics
	for range sampleSize {
		m.Record(time.Hour)
	}
	for range sampleSize {
		m.Record(time.Millisecond)
	}
	s := m.Sample()
	if s.Count != sampleSize {
		t.Errorf("expected %d samples, got %d", sampleSize, s.Count)
	}
	if s.Max != time.Millisecond || s.Mean != time.Millisecond {
		t.Errorf("old samples should have been evicted: %+v", s)
	}
}
