// Package checkpoint persists resumable job state as a single JSON file per
// job, complete enough on its own to resume from scratch.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/bulk-harvester/internal/proxy"
	"github.com/JakeFAU/bulk-harvester/internal/ratelimit"
)

// CurrentVersion is the only checkpoint format this build reads or writes.
// Anything else on disk is discarded and the job starts fresh.
const CurrentVersion = "1.0"

// QueueItem is one pending URL in the discovery frontier.
type QueueItem struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// FailedDetail records one terminal per-URL failure.
type FailedDetail struct {
	URL        string    `json:"url"`
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failedAt"`
	RetryCount int       `json:"retryCount"`
}

// State is the on-disk checkpoint document. Discovery jobs populate the
// frontier fields, batch jobs the list fields; both carry the limiter and
// assignor snapshots.
type State struct {
	Version      string         `json:"version"`
	Timestamp    time.Time      `json:"timestamp"`
	OriginalArgs map[string]any `json:"originalArgs,omitempty"`

	// Discovery mode.
	DiscoveredURLs []string    `json:"discoveredUrls,omitempty"`
	VisitedURLs    []string    `json:"visitedUrls,omitempty"`
	CrawlQueue     []QueueItem `json:"crawlQueue,omitempty"`
	FailedURLs     []string    `json:"failedUrls,omitempty"`

	// Batch mode.
	URLsToProcess     []string       `json:"urlsToProcess,omitempty"`
	ProcessedURLCount int            `json:"processedUrlCount,omitempty"`
	FailedURLDetails  []FailedDetail `json:"failedUrlDetails,omitempty"`

	RateLimiter RateLimiterState `json:"rateLimiterState"`
	Proxy       ProxyState       `json:"staticProxyManagerState"`
}

// RateLimiterState serializes the limiter windows as ordered [key, window]
// pairs so the file layout is stable across saves.
type RateLimiterState struct {
	HostRequestLog []WindowEntry `json:"hostRequestLog"`
	IPRequestLog   []WindowEntry `json:"ipRequestLog"`
}

// WindowEntry is one [key, window] pair.
type WindowEntry struct {
	Key    string
	Window ratelimit.WindowState
}

// MarshalJSON renders the entry as a two-element array.
func (e WindowEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Key, e.Window})
}

// UnmarshalJSON parses a two-element [key, window] array.
func (e *WindowEntry) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("window entry shape: %w", err)
	}
	if err := json.Unmarshal(raw[0], &e.Key); err != nil {
		return fmt.Errorf("window entry key: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Window); err != nil {
		return fmt.Errorf("window entry value: %w", err)
	}
	return nil
}

// ProxyState serializes the assignor as ordered [host, proxyURL] pairs plus
// the rotation cursor.
type ProxyState struct {
	HostToIPMap    [][2]string `json:"hostToIpMap"`
	CurrentIPIndex int         `json:"currentIpIndex"`
}

// EncodeRateLimiter converts a limiter snapshot into its wire form.
func EncodeRateLimiter(s ratelimit.Snapshot) RateLimiterState {
	return RateLimiterState{
		HostRequestLog: encodeWindows(s.Hosts),
		IPRequestLog:   encodeWindows(s.IPs),
	}
}

// DecodeRateLimiter converts the wire form back into a limiter snapshot.
func DecodeRateLimiter(st RateLimiterState) ratelimit.Snapshot {
	return ratelimit.Snapshot{
		Hosts: decodeWindows(st.HostRequestLog),
		IPs:   decodeWindows(st.IPRequestLog),
	}
}

// EncodeProxy converts an assignor snapshot into its wire form.
func EncodeProxy(s proxy.Snapshot) ProxyState {
	pairs := make([][2]string, 0, len(s.HostToProxy))
	for host, p := range s.HostToProxy {
		pairs = append(pairs, [2]string{host, p})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	return ProxyState{HostToIPMap: pairs, CurrentIPIndex: s.Cursor}
}

// DecodeProxy converts the wire form back into an assignor snapshot.
func DecodeProxy(st ProxyState) proxy.Snapshot {
	byHost := make(map[string]string, len(st.HostToIPMap))
	for _, pair := range st.HostToIPMap {
		byHost[pair[0]] = pair[1]
	}
	return proxy.Snapshot{HostToProxy: byHost, Cursor: st.CurrentIPIndex}
}

func encodeWindows(m map[string]ratelimit.WindowState) []WindowEntry {
	entries := make([]WindowEntry, 0, len(m))
	for key, w := range m {
		entries = append(entries, WindowEntry{Key: key, Window: w})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

func decodeWindows(entries []WindowEntry) map[string]ratelimit.WindowState {
	out := make(map[string]ratelimit.WindowState, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Window
	}
	return out
}
