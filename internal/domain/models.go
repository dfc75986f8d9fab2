// Package domain defines the persistence models for the telemetry store:
// detection attempts, user reports, chat sessions and their messages,
// upstream API errors, and the local caches the fallbacks read from. These
// types are mapped with GORM and are append-only from the gateway's point
// of view, except for the chat session counter and the scam URL table.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Report status values.
const (
	ReportPending = "PENDING"
)

// Detection sources.
const (
	SourceUpstream = "upstream"
	SourceFallback = "fallback"
)

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ScamURL is a known malicious URL. Seeded at startup and extended by user
// reports; the fallback URL analysis looks entries up by URLHash.
//
// Fields:
//   - URLHash: normalized hash (see utils.HashURL), unique.
//   - ThreatType: phishing|scam|malware|user_reported.
//   - Confidence: stored confidence reported by the fallback on a hit.
//   - ReportCount: number of seeds/reports that mentioned this URL.
type ScamURL struct {
	ID          uint           `json:"id"           gorm:"primaryKey"`
	URLHash     string         `json:"url_hash"     gorm:"type:varchar(64);not null;uniqueIndex"`
	OriginalURL string         `json:"original_url" gorm:"type:text;not null"`
	Domain      string         `json:"domain"       gorm:"type:varchar(255);not null;index"`
	ThreatType  string         `json:"threat_type"  gorm:"type:varchar(32);not null"`
	Confidence  float64        `json:"confidence"   gorm:"not null;default:0.8"`
	Source      string         `json:"source"       gorm:"type:varchar(64);not null;index"`
	Tags        datatypes.JSON `json:"tags,omitempty"`
	ReportCount int            `json:"report_count" gorm:"not null;default:1"`
	IsActive    bool           `json:"is_active"    gorm:"not null;default:true;index"`
	FirstSeen   time.Time      `json:"first_seen"`
	LastSeen    time.Time      `json:"last_seen"`
}

// TableName returns the database table name for ScamURL.
func (ScamURL) TableName() string { return "scam_urls" }

// Detection records one URL analysis attempt, authoritative or fallback.
type Detection struct {
	ID               string         `json:"id"                gorm:"type:char(36);primaryKey"`
	URLHash          string         `json:"url_hash"          gorm:"type:varchar(64);not null;index"`
	OriginalURL      string         `json:"original_url"      gorm:"type:text;not null"`
	ThreatLevel      string         `json:"threat_level"      gorm:"type:varchar(16);not null"`
	Confidence       float64        `json:"confidence"        gorm:"not null"`
	IsSuspicious     bool           `json:"is_suspicious"     gorm:"not null"`
	DetectionMethods datatypes.JSON `json:"detection_methods"`
	ResponseTimeMs   int64          `json:"response_time_ms"`
	Source           string         `json:"source"            gorm:"type:varchar(16);not null"`
	Character        string         `json:"character,omitempty" gorm:"type:varchar(32)"`
	UserID           string         `json:"user_id,omitempty" gorm:"type:varchar(64);index"`
	RawPayload       datatypes.JSON `json:"raw_payload,omitempty"`
	CreatedAt        time.Time      `json:"created_at"        gorm:"index"`
}

// TableName returns the database table name for Detection.
func (Detection) TableName() string { return "detection_history" }

// Report is a user-submitted scam report. Reports are stored locally even
// when the upstream service could not be reached.
type Report struct {
	ID               string    `json:"id"                 gorm:"type:char(36);primaryKey"`
	URLHash          string    `json:"url_hash"           gorm:"type:varchar(64);not null;index"`
	OriginalURL      string    `json:"original_url"       gorm:"type:text;not null"`
	Description      string    `json:"description"        gorm:"type:text;not null"`
	SubmitterID      string    `json:"submitter_id,omitempty" gorm:"type:varchar(64);index"`
	Status           string    `json:"status"             gorm:"type:varchar(16);not null;default:'PENDING';index"`
	UpstreamReportID string    `json:"upstream_report_id,omitempty" gorm:"type:varchar(64)"`
	SavedLocallyOnly bool      `json:"saved_locally_only" gorm:"not null;default:false"`
	CreatedAt        time.Time `json:"created_at"         gorm:"index"`
}

// TableName returns the database table name for Report.
func (Report) TableName() string { return "user_reports" }

// ChatSession groups the messages of one conversation. MessageCount is
// incremented atomically on every recorded message.
type ChatSession struct {
	ID           string    `json:"id"            gorm:"type:varchar(64);primaryKey"`
	UserID       string    `json:"user_id,omitempty" gorm:"type:varchar(64);index"`
	Character    string    `json:"character,omitempty" gorm:"type:varchar(32)"`
	MessageCount int64     `json:"message_count" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for ChatSession.
func (ChatSession) TableName() string { return "chat_sessions" }

// ChatMessage is a single utterance within a chat session.
type ChatMessage struct {
	ID             string    `json:"id"         gorm:"type:char(36);primaryKey"`
	SessionID      string    `json:"session_id" gorm:"type:varchar(64);not null;index:idx_session_msgs,priority:1"`
	Role           string    `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content        string    `json:"content"    gorm:"type:text;not null"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Fallback       bool      `json:"fallback"   gorm:"not null;default:false"`
	CreatedAt      time.Time `json:"created_at" gorm:"index:idx_session_msgs,priority:2"`

	Session ChatSession `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatMessage.
func (ChatMessage) TableName() string { return "chat_messages" }

// APIError records a failed upstream call for health dashboards.
type APIError struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Service    string    `json:"service"     gorm:"type:varchar(64);not null;index"`
	Capability string    `json:"capability"  gorm:"type:varchar(64);not null"`
	Message    string    `json:"message"     gorm:"type:text;not null"`
	StatusCode int       `json:"status_code"`
	CreatedAt  time.Time `json:"created_at"  gorm:"index"`
}

// TableName returns the database table name for APIError.
func (APIError) TableName() string { return "api_errors" }

// SafetyTip caches tips last served by the upstream service.
type SafetyTip struct {
	ID        uint      `json:"id"       gorm:"primaryKey"`
	Category  string    `json:"category" gorm:"type:varchar(64);index"`
	Content   string    `json:"content"  gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName returns the database table name for SafetyTip.
func (SafetyTip) TableName() string { return "safety_tips" }

// ThreatIntel caches the last threat-intelligence summaries.
type ThreatIntel struct {
	ID        uint           `json:"id"      gorm:"primaryKey"`
	Summary   datatypes.JSON `json:"summary" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"index"`
}

// TableName returns the database table name for ThreatIntel.
func (ThreatIntel) TableName() string { return "threat_intel" }
