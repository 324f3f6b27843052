package ratelimit

import "time"

// WindowState is the serializable form of one host/IP window. Times are
// millisecond Unix epochs; zero means unset.
type WindowState struct {
	Timestamps   []int64 `json:"timestamps"`
	LastRequest  int64   `json:"lastRequestTime"`
	BackoffUntil int64   `json:"backoffUntil"`
}

// Snapshot captures the full limiter state for checkpointing.
type Snapshot struct {
	Hosts map[string]WindowState `json:"hosts"`
	IPs   map[string]WindowState `json:"ips"`
}

// Snapshot returns a deep copy of the limiter state.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Hosts: exportWindows(l.hosts),
		IPs:   exportWindows(l.ips),
	}
}

// Restore replaces the limiter state with a previously captured snapshot.
func (l *Limiter) Restore(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hosts = importWindows(s.Hosts)
	l.ips = importWindows(s.IPs)
}

func exportWindows(m map[string]*window) map[string]WindowState {
	out := make(map[string]WindowState, len(m))
	for key, w := range m {
		st := WindowState{
			Timestamps:   make([]int64, 0, len(w.timestamps)),
			LastRequest:  toMillis(w.lastRequest),
			BackoffUntil: toMillis(w.backoffUntil),
		}
		for _, ts := range w.timestamps {
			st.Timestamps = append(st.Timestamps, ts.UnixMilli())
		}
		out[key] = st
	}
	return out
}

func importWindows(m map[string]WindowState) map[string]*window {
	out := make(map[string]*window, len(m))
	for key, st := range m {
		w := &window{
			lastRequest:  fromMillis(st.LastRequest),
			backoffUntil: fromMillis(st.BackoffUntil),
		}
		for _, ms := range st.Timestamps {
			w.timestamps = append(w.timestamps, time.UnixMilli(ms).UTC())
		}
		out[key] = w
	}
	return out
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
