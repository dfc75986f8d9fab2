// Package services – AnimeService
//
// This file implements the persona endpoints of the anime variant: greetings,
// image and screenshot analysis, combined analysis, voice generation and
// voice file download. Uploaded files arrive as paths to temporary files the
// HTTP layer owns and removes; this service only streams them upstream.
package services

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/phishguard-gateway/internal/fallback"
	"github.com/tbourn/phishguard-gateway/internal/upstream"
)

// Anime capability names.
const (
	CapGreeting        = "greeting"
	CapVisionAnalyze   = "ai_chan_analyze"
	CapHaruHelp        = "haru_help"
	CapCombinedAnalyze = "combined_analyze"
	CapVoiceGenerate   = "voice_generate"
	CapVoiceFile       = "voice_file"
)

// VoiceFileExt is the only extension the voice download accepts.
const VoiceFileExt = ".wav"

const (
	maxIssueRunes    = 1000
	maxQuestionCount = 10
	maxVoiceRunes    = 1000
)

// Upload is a temporary file to forward as a multipart part.
type Upload struct {
	Path        string
	Filename    string
	ContentType string
}

// AnimeService implements the persona capabilities.
type AnimeService struct {
	PhishGuard *PhishGuardService
	Upstream   Upstream
	Sink       EventSink
	Now        func() time.Time
}

// NewAnimeService builds an AnimeService sharing pg's upstream, sink and store.
func NewAnimeService(pg *PhishGuardService) *AnimeService {
	return &AnimeService{PhishGuard: pg, Upstream: pg.Upstream, Sink: pg.Sink, Now: time.Now}
}

// Greeting proxies the persona greeting, falling back to a canned one.
func (s *AnimeService) Greeting(ctx context.Context, character, bearer string) (*Result, error) {
	ctx, span := otel.Tracer("services/AnimeService").Start(ctx, "Greeting",
		trace.WithAttributes(attribute.String("chat.character", character)))
	defer span.End()

	if !fallback.KnownCharacter(character) {
		return nil, &ValidationError{Fields: []FieldError{{Field: "character", Message: "character must be ai-chan or haru"}}}
	}
	resp, err := s.Upstream.Do(ctx, upstream.Call{
		Capability: CapGreeting,
		Method:     http.MethodGet,
		Path:       "/anime/" + character + "/greeting",
		Bearer:     bearer,
		Timeout:    upstream.TimeoutLookup,
	})
	if err != nil {
		recordFailure(s.Sink, CapGreeting, err)
		if !upstream.IsUnavailable(err) {
			return nil, err
		}
		g, _ := fallback.GreetingFor(character, s.Now())
		return nil, degrade(CapGreeting, err, g)
	}
	return s.PhishGuard.result(resp, character), nil
}

// VisionInput is AI-chan's analysis request. At least one of URL and Image is required.
type VisionInput struct {
	URL    string
	Image  *Upload
	UserID string
	Bearer string
}

// AnalyzeVision forwards a URL and/or an image to AI-chan. A URL-only
// request degrades to the local URL analysis.
func (s *AnimeService) AnalyzeVision(ctx context.Context, in VisionInput) (*Result, error) {
	ctx, span := otel.Tracer("services/AnimeService").Start(ctx, "AnalyzeVision",
		trace.WithAttributes(attribute.Bool("upload.present", in.Image != nil)))
	defer span.End()

	in.URL = strings.TrimSpace(in.URL)
	if in.URL == "" && in.Image == nil {
		return nil, &ValidationError{Fields: []FieldError{{Field: "url", Message: "either url or image is required"}}}
	}
	if err := validateURL(in.URL, false); err != nil {
		return nil, err
	}

	form := &upstream.Form{Fields: map[string]string{}}
	if in.URL != "" {
		form.Fields["url"] = in.URL
	}
	if in.UserID != "" {
		form.Fields["user_id"] = in.UserID
	}
	if in.Image != nil {
		form.Files = append(form.Files, formFile("image", in.Image))
	}
	resp, err := s.Upstream.Do(ctx, upstream.Call{
		Capability: CapVisionAnalyze,
		Method:     http.MethodPost,
		Path:       "/anime/ai-chan/analyze",
		Form:       form,
		Bearer:     in.Bearer,
		Timeout:    upstream.TimeoutVision,
	})
	if err != nil {
		recordFailure(s.Sink, CapVisionAnalyze, err)
		if upstream.IsUnavailable(err) && in.URL != "" && in.Image == nil {
			return nil, s.PhishGuard.analyzeFallback(ctx, CapVisionAnalyze, AnalyzeInput{
				URL:       in.URL,
				UserID:    in.UserID,
				Character: fallback.CharacterAIChan,
			}, err)
		}
		return nil, err
	}
	return s.PhishGuard.result(resp, fallback.CharacterAIChan), nil
}

// HelpInput is Haru's recovery-help request. At least one of
// IssueDescription and Screenshot is required.
type HelpInput struct {
	IssueDescription string
	QuestionCount    string
	Screenshot       *Upload
	UserID           string
	Bearer           string
}

// Help forwards an issue description and/or screenshot to Haru.
func (s *AnimeService) Help(ctx context.Context, in HelpInput) (*Result, error) {
	ctx, span := otel.Tracer("services/AnimeService").Start(ctx, "Help",
		trace.WithAttributes(attribute.Bool("upload.present", in.Screenshot != nil)))
	defer span.End()

	in.IssueDescription = strings.TrimSpace(in.IssueDescription)
	in.QuestionCount = strings.TrimSpace(in.QuestionCount)
	if in.QuestionCount == "" {
		in.QuestionCount = "1"
	}
	var v validator
	v.check(in.IssueDescription != "" || in.Screenshot != nil, "issue_description", "either issue_description or screenshot is required")
	v.check(utf8.RuneCountInString(in.IssueDescription) <= maxIssueRunes, "issue_description", "issue_description must be at most 1000 characters")
	if n, err := strconv.Atoi(in.QuestionCount); err != nil || n < 1 || n > maxQuestionCount {
		v.add("question_count", "question_count must be between 1 and 10")
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	form := &upstream.Form{Fields: map[string]string{"question_count": in.QuestionCount}}
	if in.IssueDescription != "" {
		form.Fields["issue_description"] = in.IssueDescription
	}
	if in.UserID != "" {
		form.Fields["user_id"] = in.UserID
	}
	if in.Screenshot != nil {
		form.Files = append(form.Files, formFile("screenshot", in.Screenshot))
	}
	resp, err := s.Upstream.Do(ctx, upstream.Call{
		Capability: CapHaruHelp,
		Method:     http.MethodPost,
		Path:       "/anime/haru/help",
		Form:       form,
		Bearer:     in.Bearer,
		Timeout:    upstream.TimeoutVision,
	})
	if err != nil {
		recordFailure(s.Sink, CapHaruHelp, err)
		return nil, err
	}
	return s.PhishGuard.result(resp, fallback.CharacterHaru), nil
}

// CombinedInput asks both personas at once. At least one field is required.
type CombinedInput struct {
	URL              string
	IssueDescription string
	Content          *Upload
	UserID           string
	Bearer           string
}

// CombinedAnalyze forwards to the combined analysis. A request carrying a
// URL degrades to the local URL analysis.
func (s *AnimeService) CombinedAnalyze(ctx context.Context, in CombinedInput) (*Result, error) {
	ctx, span := otel.Tracer("services/AnimeService").Start(ctx, "CombinedAnalyze",
		trace.WithAttributes(attribute.Bool("upload.present", in.Content != nil)))
	defer span.End()

	in.URL = strings.TrimSpace(in.URL)
	in.IssueDescription = strings.TrimSpace(in.IssueDescription)
	if in.URL == "" && in.IssueDescription == "" && in.Content == nil {
		return nil, &ValidationError{Fields: []FieldError{{Field: "url", Message: "one of url, issue_description or content is required"}}}
	}
	var v validator
	if err := validateURL(in.URL, false); err != nil {
		v.add("url", "url is not valid")
	}
	v.check(utf8.RuneCountInString(in.IssueDescription) <= maxIssueRunes, "issue_description", "issue_description must be at most 1000 characters")
	if err := v.err(); err != nil {
		return nil, err
	}

	form := &upstream.Form{Fields: map[string]string{}}
	if in.URL != "" {
		form.Fields["url"] = in.URL
	}
	if in.IssueDescription != "" {
		form.Fields["issue_description"] = in.IssueDescription
	}
	if in.UserID != "" {
		form.Fields["user_id"] = in.UserID
	}
	if in.Content != nil {
		form.Files = append(form.Files, formFile("content", in.Content))
	}
	resp, err := s.Upstream.Do(ctx, upstream.Call{
		Capability: CapCombinedAnalyze,
		Method:     http.MethodPost,
		Path:       "/anime/combined/analyze",
		Form:       form,
		Bearer:     in.Bearer,
		Timeout:    upstream.TimeoutCombined,
	})
	if err != nil {
		recordFailure(s.Sink, CapCombinedAnalyze, err)
		if upstream.IsUnavailable(err) && in.URL != "" {
			return nil, s.PhishGuard.analyzeFallback(ctx, CapCombinedAnalyze, AnalyzeInput{
				URL:    in.URL,
				UserID: in.UserID,
			}, err)
		}
		return nil, err
	}
	return s.PhishGuard.result(resp, "combined"), nil
}

// VoiceInput asks a persona to speak text.
type VoiceInput struct {
	Character string
	Text      string
	VoiceType string
	Bearer    string
}

// GenerateVoice proxies text-to-speech. The answer names a file to fetch
// through VoiceFile.
func (s *AnimeService) GenerateVoice(ctx context.Context, in VoiceInput) (*Result, error) {
	ctx, span := otel.Tracer("services/AnimeService").Start(ctx, "GenerateVoice",
		trace.WithAttributes(attribute.String("chat.character", in.Character)))
	defer span.End()

	in.Character = strings.TrimSpace(in.Character)
	in.Text = strings.TrimSpace(in.Text)
	var v validator
	v.check(fallback.KnownCharacter(in.Character), "character", "character must be ai-chan or haru")
	n := utf8.RuneCountInString(in.Text)
	v.check(n >= 1 && n <= maxVoiceRunes, "text", "text must be 1-1000 characters")
	if err := v.err(); err != nil {
		return nil, err
	}

	fields := map[string]string{"character": in.Character, "text": in.Text}
	if vt := strings.TrimSpace(in.VoiceType); vt != "" {
		fields["voice_type"] = vt
	}
	resp, err := s.Upstream.Do(ctx, upstream.Call{
		Capability: CapVoiceGenerate,
		Method:     http.MethodPost,
		Path:       "/anime/voice/generate",
		Form:       &upstream.Form{Fields: fields},
		Bearer:     in.Bearer,
		Timeout:    upstream.TimeoutStandard,
	})
	if err != nil {
		recordFailure(s.Sink, CapVoiceGenerate, err)
		return nil, err
	}
	return s.PhishGuard.result(resp, in.Character), nil
}

// ValidateVoiceFilename rejects anything but a plain "<name>.wav".
func ValidateVoiceFilename(name string) error {
	bad := name == "" ||
		!strings.HasSuffix(name, VoiceFileExt) ||
		len(name) == len(VoiceFileExt) ||
		strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\?#%`) ||
		strings.ContainsRune(name, 0)
	if bad {
		return &ValidationError{Fields: []FieldError{{Field: "filename", Message: "invalid voice file name"}}}
	}
	return nil
}

// VoiceFile streams a generated voice file. The caller must close the body.
func (s *AnimeService) VoiceFile(ctx context.Context, filename, bearer string) (*upstream.Stream, error) {
	ctx, span := otel.Tracer("services/AnimeService").Start(ctx, "VoiceFile")
	defer span.End()

	if err := ValidateVoiceFilename(filename); err != nil {
		return nil, err
	}
	st, err := s.Upstream.Stream(ctx, upstream.Call{
		Capability: CapVoiceFile,
		Method:     http.MethodGet,
		Path:       "/anime/voice/" + url.PathEscape(filename),
		Bearer:     bearer,
		Timeout:    upstream.TimeoutStandard,
	})
	if err != nil {
		recordFailure(s.Sink, CapVoiceFile, err)
		return nil, err
	}
	return st, nil
}

func formFile(field string, u *Upload) upstream.FormFile {
	return upstream.FormFile{Field: field, Path: u.Path, Filename: u.Filename, ContentType: u.ContentType}
}
