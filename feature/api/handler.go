package api

import (
	"context"
	"errors"
	"io"
	"path"
	"strconv"
	"strings"

	"pgmerge/core/convert"
	"pgmerge/core/identity"
	"pgmerge/core/logger"
	"pgmerge/core/reconcile"
	"pgmerge/core/schema"
	"pgmerge/feature/csvsource"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// FormField is the multipart field carrying uploaded CSV files.
const FormField = "files"

// Handler handles HTTP requests for schema inspection and merges.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	app.Get("/health", h.HandleHealth)

	group := app.Group("/api")
	group.Get("/schema", h.HandleSchema)
	group.Post("/plan", h.HandlePlan)
	group.Post("/merge", h.HandleMerge)
}

// TableSummary is the per-table part of a plan response.
type TableSummary struct {
	Table    string   `json:"table"`
	Inserts  int      `json:"inserts"`
	Updates  int      `json:"updates"`
	Deletes  int      `json:"deletes"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Failed   bool     `json:"failed"`
}

// PlanResponse is the body returned by the plan and merge endpoints.
type PlanResponse struct {
	RunID    string                `json:"run_id"`
	Summary  reconcile.PlanSummary `json:"summary"`
	Tables   []TableSummary        `json:"tables"`
	Warnings []string              `json:"warnings,omitempty"`
	// Plan carries every operation when requested with ?ops=true.
	Plan   *reconcile.ImportPlan `json:"plan,omitempty"`
	Report *reconcile.Report     `json:"report,omitempty"`
	Error  string                `json:"error,omitempty"`
}

func newPlanResponse(plan *reconcile.ImportPlan, withOps bool) *PlanResponse {
	resp := &PlanResponse{RunID: plan.RunID, Summary: plan.Summary(), Warnings: plan.Warnings}
	for _, tp := range plan.Tables {
		ts := TableSummary{
			Table:    tp.Table,
			Inserts:  tp.Count(reconcile.OpInsert),
			Updates:  tp.Count(reconcile.OpUpdate),
			Deletes:  tp.Count(reconcile.OpDelete),
			Skipped:  tp.Skipped,
			Warnings: tp.Warnings,
			Failed:   tp.Failed || len(tp.Errors) > 0,
		}
		for _, e := range tp.Errors {
			ts.Errors = append(ts.Errors, e.Error())
		}
		if tp.Err != nil {
			ts.Errors = append(ts.Errors, tp.Err.Error())
		}
		resp.Tables = append(resp.Tables, ts)
	}
	if withOps {
		resp.Plan = plan
	}
	return resp
}

// HandleHealth reports whether the database is reachable.
func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	if err := h.service.Health(c.UserContext()); err != nil {
		logger.WithRayID(h.service.logger, c).Warn("Health check failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// HandleSchema returns tables, foreign keys and the insertion order. With
// ?table=a,b the result is limited to those tables and their dependencies;
// ?refresh=true introspects again.
func (h *Handler) HandleSchema(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)
	if c.QueryBool("refresh") {
		h.service.Refresh()
	}

	info, err := h.service.Schema(c.UserContext(), splitList(c.Query("table"))...)
	if err != nil {
		l.Error("Schema inspection failed", zap.Error(err))
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(info)
}

// HandlePlan computes a plan for the uploaded files (or the CSV objects
// under ?prefix=) and returns it without applying anything.
func (h *Handler) HandlePlan(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)

	opts, err := h.options(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	inputs, err := h.inputs(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	plan, err := h.service.Plan(c.UserContext(), inputs, opts)
	if err != nil {
		l.Error("Planning failed", zap.Error(err))
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}

	resp := newPlanResponse(plan, c.QueryBool("ops"))
	l.Info("Plan computed",
		zap.String("run_id", plan.RunID),
		zap.Int("inserts", resp.Summary.Inserts),
		zap.Int("updates", resp.Summary.Updates),
		zap.Int("deletes", resp.Summary.Deletes),
	)
	return c.JSON(resp)
}

// HandleMerge plans and applies the uploaded files. Query parameters
// override the configured options: strategy, lookup, dry_run and
// continue_on_error.
func (h *Handler) HandleMerge(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)

	opts, err := h.options(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	inputs, err := h.inputs(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	plan, report, err := h.service.Merge(c.UserContext(), inputs, opts)
	if plan == nil {
		l.Error("Planning failed", zap.Error(err))
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}

	resp := newPlanResponse(plan, c.QueryBool("ops"))
	resp.Report = report
	if err != nil {
		l.Error("Merge failed", zap.String("run_id", plan.RunID), zap.Error(err))
		resp.Error = err.Error()
		return c.Status(fiber.StatusConflict).JSON(resp)
	}

	l.Info("Merge applied", zap.String("run_id", plan.RunID), zap.String("status", string(report.Status)))
	return c.JSON(resp)
}

// options applies the request's query overrides to the service options.
func (h *Handler) options(c *fiber.Ctx) (reconcile.Options, error) {
	opts := h.service.Options()
	if v := c.Query("strategy"); v != "" {
		switch s := reconcile.Strategy(v); s {
		case reconcile.StrategyBulk, reconcile.StrategyIncremental:
			opts.Strategy = s
		default:
			return opts, errors.New("strategy must be bulk or incremental")
		}
	}
	if v := c.Query("lookup"); v != "" {
		switch m := reconcile.LookupMode(v); m {
		case reconcile.LookupMemory, reconcile.LookupCursor:
			opts.Lookup = m
		default:
			return opts, errors.New("lookup must be memory or cursor")
		}
	}
	for name, dst := range map[string]*bool{
		"dry_run":           &opts.DryRun,
		"continue_on_error": &opts.ContinueOnError,
	} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.New(name + " must be a boolean")
		}
		*dst = b
	}
	return opts, nil
}

// inputs collects the CSV inputs of a request: uploaded multipart files, or
// the objects under ?prefix= in the configured bucket.
func (h *Handler) inputs(c *fiber.Ctx) ([]csvsource.Input, error) {
	if prefix, ok := c.Queries()["prefix"]; ok {
		return h.service.BucketInputs(c.UserContext(), prefix)
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, errors.New("expected multipart form with CSV files")
	}
	files := form.File[FormField]
	if len(files) == 0 {
		return nil, errors.New("no CSV files uploaded in field " + FormField)
	}

	inputs := make([]csvsource.Input, 0, len(files))
	for _, fh := range files {
		name := path.Base(strings.ReplaceAll(fh.Filename, "\\", "/"))
		if !strings.EqualFold(path.Ext(name), csvsource.Extension) {
			return nil, errors.New("not a CSV file: " + name)
		}
		inputs = append(inputs, csvsource.NewInput(name, func(context.Context) (io.ReadCloser, error) {
			return fh.Open()
		}))
	}
	return inputs, nil
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var (
		schemaErr *schema.SchemaError
		cycleErr  *schema.CyclicDependencyError
		rowCycle  *schema.RowCycleError
		convErr   *convert.ConversionError
		trErr     *convert.TransformError
		idErr     *identity.IdentityConflictError
	)
	switch {
	case errors.As(err, &schemaErr), errors.As(err, &cycleErr), errors.As(err, &rowCycle),
		errors.As(err, &convErr), errors.As(err, &trErr), errors.As(err, &idErr):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), reconcile.IsLockTimeout(err):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
