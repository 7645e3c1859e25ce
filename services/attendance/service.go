package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"attendance-backend/lib/scrapers/pesu"

	"github.com/ilyakaznacheev/cleanenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/attendance")

// Settings are the environment-tunable knobs of the service. The
// branch mappings live in mappings.json5 instead, they are data, not
// deployment configuration.
type Settings struct {
	PortalBaseUrl      string        `env:"PORTAL_BASE_URL" env-default:"https://www.pesuacademy.com/Academy"`
	BunkableThreshold  int           `env:"BUNKABLE_THRESHOLD" env-default:"75"`
	RequestExpiry      time.Duration `env:"REQUEST_EXPIRY" env-default:"5m"`
	ConnectionIdlePing time.Duration `env:"CONNECTION_IDLE_PING" env-default:"15s"`
	// permissive branch resolution defers unknown cohorts to runtime
	// batch discovery instead of rejecting them outright
	PermissiveBranches bool `env:"PERMISSIVE_BRANCHES" env-default:"true"`
}

func LoadSettings() (Settings, error) {
	var settings Settings
	err := cleanenv.ReadEnv(&settings)
	if err != nil {
		return settings, fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, nil
}

// Service orchestrates the whole scrape pipeline: branch resolution,
// portal login, batch id resolution, report fetching and formatting.
// Every request gets its own portal session; nothing is shared between
// concurrent scrapes except the registry.
type Service struct {
	settings Settings
	mappings Mappings
	registry *Registry
}

func NewService(settings Settings, mappings Mappings) *Service {
	return &Service{
		settings: settings,
		mappings: mappings,
		registry: NewRegistry(settings.RequestExpiry),
	}
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Settings() Settings {
	return s.settings
}

// FetchAttendance performs one complete synchronous scrape.
func (s *Service) FetchAttendance(ctx context.Context, srn, password string) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "service:FetchAttendance")
	defer span.End()

	branch, err := s.mappings.Resolve(srn, s.settings.PermissiveBranches)
	if err != nil {
		span.SetStatus(codes.Error, "branch resolution failed")
		return nil, err
	}
	slog.InfoContext(ctx, "starting attendance scrape", "branch", branch.BranchPrefix)

	client, err := pesu.NewClient(ctx, pesu.ClientOptions{
		BaseUrl: s.settings.PortalBaseUrl,
		Report:  branch.Report,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to construct portal client")
		return nil, &ConfigurationError{cause: err}
	}

	err = client.Login(ctx, srn, password)
	if err != nil {
		span.SetStatus(codes.Error, "login failed")
		return nil, err
	}
	// logout failures must never mask a scrape that already succeeded
	defer client.Logout(ctx)

	batchIds, err := client.ResolveBatchIds(ctx, branch.BatchClassIds)
	if err != nil {
		span.SetStatus(codes.Error, "batch id resolution failed")
		return nil, &ScrapeError{cause: err}
	}

	rows, err := client.FetchAttendance(ctx, batchIds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attendance fetch failed")
		return nil, &ScrapeError{cause: err}
	}
	if suggestion := client.DiscoverySuggestion; suggestion != "" {
		slog.InfoContext(ctx, "batch discovery suggestion", "suggestion", suggestion)
	}
	if rows == nil {
		return nil, &ScrapeError{
			cause:  fmt.Errorf("no attendance data retrieved"),
			NoData: true,
		}
	}

	slog.InfoContext(ctx, "formatting attendance data", "rows", len(rows))
	return FormatRows(rows, branch.SubjectNames, s.settings.BunkableThreshold), nil
}

// StartScrape registers a request context and spawns the scrape on its
// own goroutine, returning the request id immediately. Progress is
// observable through the registry and, when conn is non-nil, streamed
// to it. The connection is attached before the goroutine starts so no
// event can slip past it.
func (s *Service) StartScrape(srn, password string, conn Connection) string {
	id := s.registry.CreateRequest()
	if conn != nil {
		s.registry.SetConnection(id, conn)
	}
	go s.processScrapeTask(id, srn, password)
	return id
}

func (s *Service) processScrapeTask(id, srn, password string) {
	ctx := WithRequestId(context.Background(), id)
	ctx, span := tracer.Start(ctx, "service:processScrapeTask")
	defer span.End()

	// opportunistic cleanup of anything past the expiry window,
	// including this request if it somehow took that long
	defer s.registry.Sweep()

	slog.InfoContext(ctx, "starting attendance processing", "srn", logSafeSrn(srn))

	records, err := s.FetchAttendance(ctx, srn, password)
	if err != nil {
		detail := fmt.Sprintf("Attendance processing error: %s", err)
		slog.ErrorContext(ctx, "attendance processing failed", "err", err)
		s.registry.Fail(id, detail)
		s.registry.Forward(id, Event{Type: "error", Data: detail})
		return
	}

	s.registry.Complete(id, records)
	s.registry.Forward(id, Event{Type: "result", Data: map[string]any{
		"status":     StatusComplete,
		"attendance": records,
	}})
	slog.InfoContext(ctx, "attendance processing completed successfully")
}
