package server

import (
	"context"
	"net/http"

	"github.com/xela07ax/freedom-sandbox/internal/audit"
	"github.com/xela07ax/freedom-sandbox/internal/infra"
	"github.com/xela07ax/freedom-sandbox/internal/infra/auth"
	"github.com/xela07ax/freedom-sandbox/internal/sandbox"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditArchive — долговременная выборка записей (Postgres). Опционально:
// без базы роут архива просто не монтируется.
type AuditArchive interface {
	FetchEntries(ctx context.Context, scope, kind string, limit int) ([]audit.Entry, error)
}

// Server — HTTP-адаптер над фасадом sandbox.
type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	facade  *sandbox.Facade
	archive AuditArchive

	// Интерфейс для проверки токенов (RS256); nil — периметр открыт (dev)
	validator auth.TokenValidator
}

// New инициализирует адаптер со всеми зависимостями.
func New(cfg *infra.Config, facade *sandbox.Facade, archive AuditArchive, validator auth.TokenValidator, logger *zap.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.Named("sandbox-api"),
		cfg:       cfg,
		facade:    facade,
		archive:   archive,
		validator: validator,
	}
	s.routes()
	return s
}

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const traceIDKey ctxKey = "trace_id"

// tracingMiddleware инициализирует Trace-ID для каждого запроса
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Пытаемся достать ID из заголовка (если пришел от агента/прокси)
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), traceIDKey, traceID)

		// Добавляем в ответ, чтобы клиент тоже знал ID своего запроса
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractTraceID помогает безопасно достать ID в любом месте кода
func extractTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(tracingMiddleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен, если ключ сконфигурирован) ---
	r.Group(func(r chi.Router) {
		if s.validator != nil {
			r.Use(auth.NewMiddleware(s.validator, s.logger))
		}

		// Конвейер действий
		r.Post("/v1/act", s.handleAct)

		// Установка активной capability (подпись проверяется фасадом)
		r.Put("/v1/capability", s.handleSetCapability)

		// Human-in-the-loop (Decision Queue)
		r.Route("/v1/approvals", func(r chi.Router) {
			r.Get("/", s.handlePendingApprovals)
			r.Post("/{id}/decide", s.handleDecide) // Approve/Deny
			r.Get("/{id}/wait", s.handleAwait)     // Long-poll для синхронных агентов
		})

		// Аудит и целостность цепочки
		r.Route("/v1/audit", func(r chi.Router) {
			r.Get("/", s.handleAudit)
			r.Get("/verify", s.handleAuditVerify)
			if s.archive != nil {
				r.Get("/archive", s.handleAuditArchive)
			}
		})

		// Состояние бюджета и общий снапшот
		r.Get("/v1/budget", s.handleBudget)
		r.Get("/v1/status", s.handleStatus)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
