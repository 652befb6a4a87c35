package telemetry

import (
	"os"
	"runtime"
	"time"
)

// EventType classifies an analytics event.
type EventType string

const (
	EventPageView    EventType = "page_view"
	EventUserAction  EventType = "user_action"
	EventPerformance EventType = "performance"
	EventError       EventType = "error"
	EventEngagement  EventType = "engagement"
	EventConversion  EventType = "conversion"
	EventCustom      EventType = "custom"
)

// ActivitySignal is the kind of user activity that keeps a session alive.
type ActivitySignal string

const (
	SignalPointer  ActivitySignal = "pointer"
	SignalKeyboard ActivitySignal = "keyboard"
	SignalTouch    ActivitySignal = "touch"
	SignalScroll   ActivitySignal = "scroll"
)

// DeviceInfo describes the host the events were recorded on.
type DeviceInfo struct {
	Platform string `json:"platform"`
	Arch     string `json:"arch"`
	CPUs     int    `json:"cpus"`
	Runtime  string `json:"runtime"`
	Hostname string `json:"hostname,omitempty"`
	Timezone string `json:"timezone"`
}

// CurrentDevice snapshots the running process's host.
func CurrentDevice() DeviceInfo {
	host, _ := os.Hostname()
	zone, _ := time.Now().Zone()
	return DeviceInfo{
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUs:     runtime.NumCPU(),
		Runtime:  runtime.Version(),
		Hostname: host,
		Timezone: zone,
	}
}

type NetworkInfo struct {
	Online bool `json:"online"`
}

// PerformanceInfo is attached to page_view and performance events.
type PerformanceInfo struct {
	HeapAllocBytes uint64             `json:"heapAllocBytes"`
	HeapObjects    uint64             `json:"heapObjects"`
	NumGC          uint32             `json:"numGC"`
	Goroutines     int                `json:"goroutines"`
	Vitals         map[string]float64 `json:"vitals,omitempty"`
}

// Event is one analytics record.
type Event struct {
	ID          string           `json:"id"`
	Type        EventType        `json:"type"`
	Name        string           `json:"name"`
	Properties  map[string]any   `json:"properties,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	SessionID   string           `json:"sessionId"`
	UserID      string           `json:"userId,omitempty"`
	Device      DeviceInfo       `json:"deviceInfo"`
	Network     NetworkInfo      `json:"networkInfo"`
	Performance *PerformanceInfo `json:"performanceInfo,omitempty"`
	Synced      bool             `json:"synced"`
}

type SessionState string

const (
	SessionActive SessionState = "active"
	SessionIdle   SessionState = "idle"
	SessionEnded  SessionState = "ended"
)

// Attribution records where a session came from.
type Attribution struct {
	Referrer    string `json:"referrer,omitempty"`
	UTMSource   string `json:"utmSource,omitempty"`
	UTMMedium   string `json:"utmMedium,omitempty"`
	UTMCampaign string `json:"utmCampaign,omitempty"`
	UTMTerm     string `json:"utmTerm,omitempty"`
	UTMContent  string `json:"utmContent,omitempty"`
}

// Session is a snapshot of the collector's session.
type Session struct {
	ID           string       `json:"id"`
	StartTime    time.Time    `json:"startTime"`
	EndTime      *time.Time   `json:"endTime,omitempty"`
	PageViews    int          `json:"pageViews"`
	Events       int          `json:"events"`
	IsActive     bool         `json:"isActive"`
	State        SessionState `json:"state"`
	LastActivity time.Time    `json:"lastActivity"`
	Attribution
}

// Batch is a group of events cut from the queue.
type Batch struct {
	ID        string
	Events    []Event
	CreatedAt time.Time
}

// BatchOutcome is where a batch ended up.
type BatchOutcome string

const (
	BatchDelivered BatchOutcome = "delivered"
	BatchStored    BatchOutcome = "stored"
	BatchDropped   BatchOutcome = "dropped"
)

// BatchReport is passed to OnBatch callbacks.
type BatchReport struct {
	ID       string
	Events   int
	Attempts int
	Outcome  BatchOutcome
	Err      error
}

// Metrics holds delivery counters.
type Metrics struct {
	EventsTracked     int64
	EventsSampledOut  int64
	EventsQueued      int
	BatchesSent       int64
	BatchesFailed     int64
	BatchesStored     int64
	BatchesDropped    int64
	BatchesReconciled int64
	LastSync          time.Time
	// SuccessRate covers the most recent send attempts. It is zero before
	// the first attempt.
	SuccessRate float64
	Attempts    int
}

// ReconcileResult summarizes one pass over persisted batches.
type ReconcileResult struct {
	Synced  int
	Pending int
}
