package proxy

// Snapshot captures the assignment state for checkpointing. The proxy pool
// itself comes from configuration and is not part of the snapshot.
type Snapshot struct {
	HostToProxy map[string]string `json:"hostToProxy"`
	Cursor      int               `json:"cursor"`
}

// Snapshot returns a copy of the current host assignments and cursor.
func (a *Assignor) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	byHost := make(map[string]string, len(a.byHost))
	for host, p := range a.byHost {
		byHost[host] = p
	}
	return Snapshot{HostToProxy: byHost, Cursor: a.cursor}
}

// Restore replaces the assignment state. Mappings that reference proxies no
// longer in the pool are dropped so a config change cannot resurrect a dead
// proxy.
func (a *Assignor) Restore(s Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	valid := make(map[string]struct{}, len(a.proxies))
	for _, p := range a.proxies {
		valid[p] = struct{}{}
	}

	a.avoid = make(map[string]string)
	a.byHost = make(map[string]string, len(s.HostToProxy))
	for host, p := range s.HostToProxy {
		if _, ok := valid[p]; ok {
			a.byHost[host] = p
		}
	}
	if len(a.proxies) > 0 {
		a.cursor = s.Cursor % len(a.proxies)
		if a.cursor < 0 {
			a.cursor = 0
		}
	} else {
		a.cursor = 0
	}
}
