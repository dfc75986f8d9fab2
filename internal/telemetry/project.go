package telemetry

import (
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"gorm.io/datatypes"

	"github.com/tbourn/phishguard-gateway/internal/domain"
	"github.com/tbourn/phishguard-gateway/internal/utils"
)

// DetectionInput is what the proxy knows about one analysis attempt.
type DetectionInput struct {
	URL       string
	Payload   []byte
	Source    string
	Character string
	UserID    string
	Latency   time.Duration
}

// ProjectDetection maps an analysis payload onto a Detection row. The
// payload may be the AI service's answer or a fallback verdict; only the
// fields both share are read. Missing fields keep their zero value.
func ProjectDetection(in DetectionInput) domain.Detection {
	p := gjson.ParseBytes(in.Payload)

	level := firstString(p, "threat_level", "analysis.threat_level", "result.threat_level")
	if level == "" {
		level = "unknown"
	}
	d := domain.Detection{
		ID:             uuid.NewString(),
		URLHash:        utils.HashURL(in.URL),
		OriginalURL:    in.URL,
		ThreatLevel:    level,
		Confidence:     firstFloat(p, "confidence", "analysis.confidence", "result.confidence"),
		IsSuspicious:   firstBool(p, "is_suspicious", "analysis.is_suspicious", "result.is_suspicious"),
		ResponseTimeMs: in.Latency.Milliseconds(),
		Source:         in.Source,
		Character:      in.Character,
		UserID:         in.UserID,
		CreatedAt:      time.Now().UTC(),
	}
	if m := firstRaw(p, "detection_methods", "analysis.detection_methods", "result.detection_methods"); m != "" {
		d.DetectionMethods = datatypes.JSON(m)
	}
	if gjson.ValidBytes(in.Payload) {
		d.RawPayload = datatypes.JSON(in.Payload)
	}
	return d
}

// ProjectChatReply extracts the assistant text from a chat payload.
func ProjectChatReply(payload []byte) string {
	return firstString(gjson.ParseBytes(payload), "response", "reply", "message")
}

// ProjectTips extracts the tip list from a tips payload.
func ProjectTips(payload []byte) []string {
	var out []string
	gjson.GetBytes(payload, "tips").ForEach(func(_, v gjson.Result) bool {
		if s := v.String(); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

func firstFloat(r gjson.Result, paths ...string) float64 {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type == gjson.Number {
			return v.Float()
		}
	}
	return 0
}

func firstBool(r gjson.Result, paths ...string) bool {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.IsBool() {
			return v.Bool()
		}
	}
	return false
}

func firstRaw(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.IsArray() {
			return v.Raw
		}
	}
	return ""
}
