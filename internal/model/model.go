package model

import "time"

// Record kinds. Each package gets one logical collection per kind.
const (
	KindEvent   = "events"
	KindUser    = "users"
	KindSession = "sessions"
	KindCrash   = "crashes"
)

// Event is a single analytics event reported by a client SDK. Immutable once written.
type Event struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	UserID     string         `json:"user_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Properties map[string]any `json:"properties"`
	SessionID  string         `json:"session_id,omitempty"`
	DeviceInfo map[string]any `json:"device_info"`
	CreatedAt  time.Time      `json:"created_at"`
}

// LocationMeta records how a user's country was determined at registration time.
type LocationMeta struct {
	DetectionMethod string `json:"detection_method"`
	Confidence      string `json:"confidence"`
	IPCountry       string `json:"ip_country,omitempty"`
	ClientCountry   string `json:"client_country,omitempty"`
}

// User is one registered app user, keyed by UserID within its package.
// Country and LocationMeta are captured once at creation and never refreshed.
type User struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	FirstSeen    time.Time      `json:"first_seen"`
	LastActive   time.Time      `json:"last_active"`
	Country      string         `json:"country"`
	LocationMeta LocationMeta   `json:"location_metadata"`
	DeviceInfo   map[string]any `json:"device_info"`
	Properties   map[string]any `json:"properties"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Session tracks one app session. A nil EndTime means the session is still open;
// EndTime and DurationSeconds are always set together when it closes.
type Session struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	UserID          string         `json:"user_id,omitempty"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	DurationSeconds *int64         `json:"duration_seconds,omitempty"`
	DeviceInfo      map[string]any `json:"device_info"`
	ClosedBy        string         `json:"closed_by,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Open reports whether the session has not yet been closed.
func (s *Session) Open() bool { return s.EndTime == nil }

// Occurrence is one observation of a crash signature.
type Occurrence struct {
	Timestamp  time.Time      `json:"timestamp"`
	UserID     string         `json:"user_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	DeviceInfo map[string]any `json:"device_info"`
}

// CrashGroup deduplicates crash reports sharing a signature
// (error_type + ":" + error_message). Count always equals len(Occurrences).
type CrashGroup struct {
	ID             string         `json:"id"`
	CrashSignature string         `json:"crash_signature"`
	ErrorType      string         `json:"error_type"`
	ErrorMessage   string         `json:"error_message"`
	StackTrace     string         `json:"stack_trace,omitempty"`
	Count          int64          `json:"count"`
	FirstSeen      time.Time      `json:"first_seen"`
	LastSeen       time.Time      `json:"last_seen"`
	DeviceInfo     map[string]any `json:"device_info"`
	Occurrences    []Occurrence   `json:"occurrences"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Signature builds the dedup key for a crash report. The concatenation is
// exact; differently formatted but equivalent messages form distinct groups.
func Signature(errorType, errorMessage string) string {
	return errorType + ":" + errorMessage
}
