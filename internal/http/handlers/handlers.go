// Handler wiring.
//
// Handlers groups every HTTP endpoint of the gateway. It depends on the
// service contracts below rather than on concrete services, so tests can
// substitute stubs.
package handlers

import (
	"context"
	"time"

	"github.com/tbourn/phishguard-gateway/internal/domain"
	"github.com/tbourn/phishguard-gateway/internal/repo"
	"github.com/tbourn/phishguard-gateway/internal/services"
	"github.com/tbourn/phishguard-gateway/internal/upstream"
	"github.com/tbourn/phishguard-gateway/internal/users"
	"github.com/tbourn/phishguard-gateway/internal/utils"
)

//
// Service contracts (context-aware)
//

// AuthService registers users, checks credentials and reads the current user.
type AuthService interface {
	Register(ctx context.Context, in services.RegisterInput) (*services.AuthResult, error)
	Login(ctx context.Context, email, password string) (*services.AuthResult, error)
	Me(ctx context.Context, userID string) (*users.User, error)
}

// PhishGuardService proxies the PhishGuard capabilities of the AI service.
//
// Implementations return *services.DegradedError when a fallback answer is
// available and *upstream.Error for relayed upstream failures.
type PhishGuardService interface {
	Analyze(ctx context.Context, in services.AnalyzeInput) (*services.Result, error)
	Report(ctx context.Context, in services.ReportInput) (*services.ReportResult, error)
	Tips(ctx context.Context, category, bearer string) (*services.Result, error)
	Chat(ctx context.Context, in services.ChatInput) (*services.Result, error)
	Intelligence(ctx context.Context, bearer string) (*services.Result, error)
	Health(ctx context.Context) services.UpstreamHealth
	Stats(ctx context.Context) (*repo.Stats, error)
	ReportsPage(ctx context.Context, p utils.Page) ([]domain.Report, int64, error)
}

// AnimeService proxies the character capabilities of the AI service.
type AnimeService interface {
	Greeting(ctx context.Context, character, bearer string) (*services.Result, error)
	AnalyzeVision(ctx context.Context, in services.VisionInput) (*services.Result, error)
	Help(ctx context.Context, in services.HelpInput) (*services.Result, error)
	CombinedAnalyze(ctx context.Context, in services.CombinedInput) (*services.Result, error)
	GenerateVoice(ctx context.Context, in services.VoiceInput) (*services.Result, error)
	VoiceFile(ctx context.Context, filename, bearer string) (*upstream.Stream, error)
}

// Options tune handler behaviour that does not belong to a service.
type Options struct {
	// Production hides unexpected error details from clients.
	Production bool
	// UploadDir receives multipart files while they are forwarded.
	UploadDir string
	// UploadMaxBytes caps a single uploaded file.
	UploadMaxBytes int64
	// StartedAt anchors the reported uptime.
	StartedAt time.Time
}

// Handlers groups HTTP endpoints for auth, the PhishGuard proxy and the
// anime character proxy.
type Handlers struct {
	auth  AuthService
	pg    PhishGuardService
	anime AnimeService

	production bool
	uploadDir  string
	uploadMax  int64
	startedAt  time.Time
}

// New constructs and returns a Handlers instance bound to the given services.
func New(authSvc AuthService, pgSvc PhishGuardService, animeSvc AnimeService, opts Options) *Handlers {
	if opts.UploadMaxBytes <= 0 {
		opts.UploadMaxBytes = 10 << 20
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	return &Handlers{
		auth:       authSvc,
		pg:         pgSvc,
		anime:      animeSvc,
		production: opts.Production,
		uploadDir:  opts.UploadDir,
		uploadMax:  opts.UploadMaxBytes,
		startedAt:  opts.StartedAt,
	}
}
