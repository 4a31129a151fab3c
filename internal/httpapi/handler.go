// Package httpapi exposes the session over a JSON HTTP API.
package httpapi

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"ghgrag/internal/domain"
	"ghgrag/internal/log"
	"ghgrag/internal/session"
	"ghgrag/internal/tabular"
)

// MaxUploadBytes bounds the request body, and so multipart dataset uploads.
const MaxUploadBytes = 64 << 20

// SessionPort is the subset of the session served over HTTP.
type SessionPort interface {
	Upload(ctx context.Context, name string, r io.Reader) (session.Dataset, error)
	Loaded() (session.Dataset, bool)
	Mode() string
	Ask(ctx context.Context, question string, k int) []string
	Similar(ctx context.Context, question string, k int) []domain.DocumentResult
	Search(query string) []domain.CodeTitle
	Factors(code string) []map[string]string
	Trends(code string) (tabular.Trends, bool)
	Summary() tabular.Summary
}

// Handler serves the dataset, question and lookup endpoints.
type Handler struct {
	session SessionPort
	logger  *log.Logger
}

func NewHandler(s SessionPort, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return &Handler{session: s, logger: logger.With("component", "http")}
}

// NewApp builds the fiber application with middleware and routes.
func NewApp(s SessionPort, logger *log.Logger) *fiber.App {
	h := NewHandler(s, logger)
	app := fiber.New(fiber.Config{
		AppName:      "ghgrag",
		BodyLimit:    MaxUploadBytes,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
	})
	app.Use(recover.New())
	app.Use(h.accessLog)
	h.Register(app)
	return app
}

// Register sets up the API routes.
func (h *Handler) Register(router fiber.Router) {
	api := router.Group("/api/v1")
	api.Get("/health", h.Health)
	api.Post("/datasets", h.Upload)
	api.Post("/ask", h.Ask)
	api.Get("/naics", h.Search)
	api.Get("/naics/:code/factors", h.Factors)
	api.Get("/naics/:code/trends", h.Trends)
	api.Get("/summary", h.Summary)
}

func (h *Handler) accessLog(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	h.logger.Info("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return err
}

// Health reports liveness plus the loaded dataset, if any.
func (h *Handler) Health(c fiber.Ctx) error {
	body := fiber.Map{"status": "healthy", "mode": h.session.Mode()}
	if ds, ok := h.session.Loaded(); ok {
		body["dataset"] = ds
	}
	return c.JSON(body)
}

// Upload replaces the dataset with the multipart "file" field.
func (h *Handler) Upload(c fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "multipart field \"file\" is required"})
	}
	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	defer f.Close()

	ds, err := h.session.Upload(c.Context(), fh.Filename, f)
	if err != nil {
		var le *domain.LoadError
		if errors.As(err, &le) {
			body := fiber.Map{"error": le.Error()}
			if len(le.Missing) > 0 {
				body["missing"] = le.Missing
			}
			return c.Status(fiber.StatusUnprocessableEntity).JSON(body)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"dataset": ds,
		"summary": h.session.Summary(),
	})
}

type askRequest struct {
	Question string `json:"question"`
	K        int    `json:"k"`
}

// Ask answers a question and returns the documents it was grounded on.
func (h *Handler) Ask(c fiber.Ctx) error {
	var body askRequest
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	q := strings.TrimSpace(body.Question)
	if q == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "question is required"})
	}
	if _, ok := h.session.Loaded(); !ok {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": domain.ErrNoTable.Error()})
	}
	return c.JSON(fiber.Map{
		"mode":    h.session.Mode(),
		"answers": h.session.Ask(c.Context(), q, body.K),
		"sources": h.session.Similar(c.Context(), q, body.K),
	})
}

// Search lists (code, title) pairs matching ?q=.
func (h *Handler) Search(c fiber.Ctx) error {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "query parameter q is required"})
	}
	results := h.session.Search(q)
	if results == nil {
		results = []domain.CodeTitle{}
	}
	return c.JSON(fiber.Map{"query": q, "results": results})
}

// Factors lists the raw rows of one NAICS code.
func (h *Handler) Factors(c fiber.Ctx) error {
	code := c.Params("code")
	rows := h.session.Factors(code)
	if len(rows) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No data found for NAICS code " + code})
	}
	return c.JSON(fiber.Map{"naics_code": code, "rows": rows})
}

// Trends averages the numeric columns of one NAICS code.
func (h *Handler) Trends(c fiber.Ctx) error {
	code := c.Params("code")
	tr, ok := h.session.Trends(code)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No data found for NAICS code " + code})
	}
	return c.JSON(tr)
}

// Summary returns dataset-wide statistics.
func (h *Handler) Summary(c fiber.Ctx) error {
	return c.JSON(h.session.Summary())
}
