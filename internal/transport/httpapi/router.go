package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kislikjeka/booksync/internal/transport/httpapi/handler"
	"github.com/kislikjeka/booksync/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/booksync/pkg/logger"
)

// Config holds router configuration
type Config struct {
	Logger             *logger.Logger
	AllowedOrigins     []string
	ConnectionHandler  *handler.ConnectionHandler
	TransactionHandler *handler.TransactionHandler
	ReferenceHandler   *handler.ReferenceHandler
	RuleHandler        *handler.RuleHandler
	AuditHandler       *handler.AuditHandler
	JobHandler         *handler.JobHandler
	HealthHandler      *handler.HealthHandler
	JWTMiddleware      func(http.Handler) http.Handler
	RateLimit          func(http.Handler) http.Handler
}

// NewRouter creates a new HTTP router
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	if cfg.RateLimit != nil {
		r.Use(cfg.RateLimit)
	} else {
		r.Use(middleware.RateLimit())
	}

	// Health check endpoints (no authentication required)
	r.Get("/health", handler.GetHealth)
	r.Get("/health/live", handler.GetLiveness)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
		r.Get("/health/detailed", cfg.HealthHandler.GetHealthDetailed)
	}

	if cfg.JWTMiddleware == nil {
		return r
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cfg.JWTMiddleware)

		if cfg.ConnectionHandler != nil {
			r.Get("/connections", cfg.ConnectionHandler.ListConnections)
			r.Post("/connections", cfg.ConnectionHandler.RegisterConnection)
		}

		r.Route("/connections/{"+middleware.ConnectionParam+"}", func(r chi.Router) {
			r.Use(middleware.ConnectionScope)

			if cfg.ConnectionHandler != nil {
				r.Get("/", cfg.ConnectionHandler.GetConnection)
				r.Delete("/", cfg.ConnectionHandler.DeleteConnection)
				r.Post("/reevaluate", cfg.ConnectionHandler.Reevaluate)
				r.Get("/balance", cfg.ConnectionHandler.GetBalance)
			}

			// Long-running operations are queued and observed via jobs and the audit log
			if cfg.JobHandler != nil {
				r.Post("/sync", cfg.JobHandler.TriggerSync)
				r.Post("/classify", cfg.JobHandler.TriggerClassify)
				r.Post("/approve", cfg.JobHandler.BulkApprove)
				r.Get("/jobs/{jobID}", cfg.JobHandler.GetJob)
			}

			r.Route("/transactions", func(r chi.Router) {
				if cfg.TransactionHandler != nil {
					r.Get("/", cfg.TransactionHandler.ListTransactions)
					r.Get("/{txID}", cfg.TransactionHandler.GetTransaction)
					r.Patch("/{txID}", cfg.TransactionHandler.EditTransaction)
					r.Put("/{txID}/splits", cfg.TransactionHandler.SplitTransaction)
					r.Post("/{txID}/exclude", cfg.TransactionHandler.Exclude)
					r.Delete("/{txID}/exclude", cfg.TransactionHandler.Include)
					r.Post("/{txID}/review", cfg.TransactionHandler.ForceReview)
					r.Delete("/{txID}/review", cfg.TransactionHandler.ClearReview)
					r.Post("/{txID}/attachments", cfg.TransactionHandler.AttachDocument)
				}
				if cfg.JobHandler != nil {
					r.Post("/{txID}/classify", cfg.JobHandler.ClassifyTransaction)
					r.Post("/{txID}/approve", cfg.JobHandler.ApproveTransaction)
				}
			})

			if cfg.ReferenceHandler != nil {
				r.Get("/accounts", cfg.ReferenceHandler.ListAccounts)
				r.Put("/accounts/{accountID}/active", cfg.ReferenceHandler.SetAccountActive)
				r.Get("/categories", cfg.ReferenceHandler.ListCategories)
			}

			if cfg.RuleHandler != nil {
				r.Get("/rules", cfg.RuleHandler.ListRules)
				r.Post("/rules", cfg.RuleHandler.CreateRule)
				r.Delete("/rules/{ruleID}", cfg.RuleHandler.DeleteRule)
				r.Get("/aliases", cfg.RuleHandler.ListAliases)
				r.Post("/aliases", cfg.RuleHandler.CreateAlias)
			}

			if cfg.AuditHandler != nil {
				r.Get("/audit", cfg.AuditHandler.ListAudit)
			}
		})
	})

	return r
}
