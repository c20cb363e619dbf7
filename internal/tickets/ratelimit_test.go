package tickets

import (
	"testing"
	"time"
)

func TestCheckWindowFirstRequestStartsWindow(t *testing.T) {
	now := time.Now()
	d := CheckWindow(WindowState{}, now, time.Minute, 2)
	if !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if !d.Start.Equal(now) || d.Count != 1 {
		t.Errorf("decision = %+v, want start=now count=1", d)
	}
}

func TestCheckWindowDeniesAtLimit(t *testing.T) {
	window := time.Minute
	start := time.Now()
	state := WindowState{}

	d1 := CheckWindow(state, start, window, 2)
	state = WindowState{Start: &d1.Start, Count: d1.Count}
	d2 := CheckWindow(state, start.Add(10*time.Second), window, 2)
	if !d1.Allowed || !d2.Allowed {
		t.Fatal("first two requests should be allowed")
	}
	if d2.Count != 2 || !d2.Start.Equal(start) {
		t.Errorf("second decision = %+v, want count=2 start unchanged", d2)
	}

	state = WindowState{Start: &d2.Start, Count: d2.Count}
	d3 := CheckWindow(state, start.Add(20*time.Second), window, 2)
	if d3.Allowed {
		t.Fatal("third request within window should be denied")
	}
	if d3.RetryAfter != 40*time.Second {
		t.Errorf("retry after = %v, want 40s", d3.RetryAfter)
	}
	// Denial does not mutate the persisted state.
	if d3.Count != 2 || !d3.Start.Equal(start) {
		t.Errorf("denied decision = %+v, want state unchanged", d3)
	}
}

func TestCheckWindowResetsAfterExpiry(t *testing.T) {
	window := time.Minute
	start := time.Now()
	state := WindowState{Start: &start, Count: 2}

	later := start.Add(window + time.Second)
	d := CheckWindow(state, later, window, 2)
	if !d.Allowed {
		t.Fatal("request after window expiry should be allowed")
	}
	if !d.Start.Equal(later) || d.Count != 1 {
		t.Errorf("decision = %+v, want fresh window", d)
	}
}
