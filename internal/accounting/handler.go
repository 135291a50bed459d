package accounting

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/dimensions"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reconcile"
	gl "github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/audit"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// Handler wires the general ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	engine    *posting.Engine
	reconcile *reconcile.Service
	accounts  *accounts.Handler
	tracker   *audit.Tracker
	validator *validator.Validate

	// ReconcileRate caps live reconciliation reads per client IP and minute.
	ReconcileRate int
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, engine *posting.Engine, reconcileSvc *reconcile.Service, accountsHandler *accounts.Handler, tracker *audit.Tracker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:        logger,
		engine:        engine,
		reconcile:     reconcileSvc,
		accounts:      accountsHandler,
		tracker:       tracker,
		validator:     validator.New(),
		ReconcileRate: 30,
	}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	if h.accounts != nil {
		r.Get("/accounts", h.accounts.List)
	}
	r.Post("/postings/{sourceID}", h.handlePost)
	r.Get("/postings/{sourceID}/preview", h.handlePreview)
	r.Get("/postings/{sourceID}/history", h.handleHistory)
	r.Get("/batches/{batchID}", h.handleBatch)
	r.Post("/batches/{batchID}/reverse", h.handleReverse)
	r.With(httprate.Limit(h.ReconcileRate, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).
		Get("/reconciliation", h.handleCurrent)
	r.Post("/reconciliation/runs", h.handleRun)
	r.Get("/reconciliation/runs", h.handleListRuns)
	r.Get("/reconciliation/runs/{reportID}", h.handleGetRun)
	r.Get("/audit/timeline", h.handleTimeline)
}

type entryView struct {
	LineNo      int                    `json:"line_no"`
	AccountID   int64                  `json:"account_id"`
	AccountCode string                 `json:"account_code"`
	Role        gl.Role                `json:"role"`
	Debit       decimal.Decimal        `json:"debit"`
	Credit      decimal.Decimal        `json:"credit"`
	Date        string                 `json:"date"`
	Description string                 `json:"description,omitempty"`
	Dimensions  []dimensions.Reference `json:"dimensions"`
}

type batchView struct {
	ID           uuid.UUID       `json:"id"`
	SourceID     uuid.UUID       `json:"source_id"`
	SourceModule gl.ModuleType   `json:"source_module"`
	Date         string          `json:"date"`
	PostedBy     int64           `json:"posted_by"`
	PostedAt     time.Time       `json:"posted_at"`
	Debit        decimal.Decimal `json:"debit"`
	Credit       decimal.Decimal `json:"credit"`
	Entries      []entryView     `json:"entries"`
}

func entryViews(entries []posting.Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{
			LineNo:      e.LineNo,
			AccountID:   e.AccountID,
			AccountCode: e.AccountCode,
			Role:        e.Role,
			Debit:       e.Debit,
			Credit:      e.Credit,
			Date:        e.Date.Format(time.DateOnly),
			Description: e.Description,
			Dimensions:  e.Dimensions,
		})
	}
	return out
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
	Date   string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type runRequest struct {
	Period  string   `json:"period" validate:"required,datetime=2006-01"`
	Axis    string   `json:"axis" validate:"required,max=64"`
	Modules []string `json:"modules" validate:"omitempty,dive,required"`
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := h.pathUUID(w, r, "sourceID")
	if !ok {
		return
	}
	result, err := h.engine.Post(r.Context(), sourceID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, "post source", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := h.pathUUID(w, r, "sourceID")
	if !ok {
		return
	}
	preview, err := h.engine.Preview(r.Context(), sourceID)
	if err != nil {
		h.respondError(w, r, "preview source", err)
		return
	}
	httpx.JSON(w, http.StatusOK, struct {
		SourceID    uuid.UUID              `json:"source_id"`
		Module      gl.ModuleType          `json:"module"`
		Lines       []entryView            `json:"lines"`
		TotalAmount decimal.Decimal        `json:"total_amount"`
		Dimensions  []dimensions.Reference `json:"dimensions"`
	}{preview.SourceID, preview.Module, entryViews(preview.Lines), preview.TotalAmount, preview.Dimensions})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := h.pathUUID(w, r, "sourceID")
	if !ok {
		return
	}
	history, err := h.tracker.History(r.Context(), sourceID)
	if err != nil {
		h.respondError(w, r, "posting history", err)
		return
	}
	if history == nil {
		history = []audit.StatusEvent{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"source_id": sourceID, "events": history})
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := h.pathUUID(w, r, "batchID")
	if !ok {
		return
	}
	batch, err := h.engine.Batch(r.Context(), batchID)
	if err != nil {
		h.respondError(w, r, "get batch", err)
		return
	}
	debit, credit := batch.Totals()
	httpx.JSON(w, http.StatusOK, batchView{
		ID:           batch.ID,
		SourceID:     batch.SourceID,
		SourceModule: batch.SourceModule,
		Date:         batch.Date.Format(time.DateOnly),
		PostedBy:     batch.PostedBy,
		PostedAt:     batch.PostedAt,
		Debit:        debit,
		Credit:       credit,
		Entries:      entryViews(batch.Entries),
	})
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	batchID, ok := h.pathUUID(w, r, "batchID")
	if !ok {
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if !h.validate(w, req) {
		return
	}
	in := posting.ReverseInput{BatchID: batchID, ActorID: shared.ActorFromContext(r.Context()), Reason: req.Reason}
	if req.Date != "" {
		date, _ := time.Parse(time.DateOnly, req.Date)
		in.Date = &date
	}
	result, err := h.engine.Reverse(r.Context(), in)
	if err != nil {
		h.respondError(w, r, "reverse batch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := runRequest{Period: q.Get("period"), Axis: q.Get("axis")}
	if raw := q.Get("module"); raw != "" {
		req.Modules = strings.Split(raw, ",")
	}
	if !h.validate(w, req) {
		return
	}
	report, err := h.reconcile.Current(r.Context(), toReconcileRequest(req))
	if err != nil {
		h.respondError(w, r, "current reconciliation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if !h.validate(w, req) {
		return
	}
	report, err := h.reconcile.Run(r.Context(), toReconcileRequest(req), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, "run reconciliation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, report)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	reports, err := h.reconcile.List(r.Context(), q.Get("period"), q.Get("axis"), limit)
	if err != nil {
		h.respondError(w, r, "list reconciliations", err)
		return
	}
	if reports == nil {
		reports = []reconcile.Report{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reportID, ok := h.pathUUID(w, r, "reportID")
	if !ok {
		return
	}
	report, err := h.reconcile.Get(r.Context(), reportID)
	if err != nil {
		h.respondError(w, r, "get reconciliation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := audit.TimelineFilters{Kind: audit.Kind(q.Get("kind"))}
	if filters.Kind != "" && filters.Kind != audit.KindPosting && filters.Kind != audit.KindReconciliation {
		httpx.ValidationProblem(w, map[string]string{"kind": "must be posting or reconciliation"})
		return
	}
	fields := map[string]string{}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			fields["from"] = "must be YYYY-MM-DD"
		}
		filters.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			fields["to"] = "must be YYYY-MM-DD"
		}
		// inclusive end of day
		filters.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if len(fields) > 0 {
		httpx.ValidationProblem(w, fields)
		return
	}
	filters.ActorID, _ = strconv.ParseInt(q.Get("actor"), 10, 64)
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	result, err := h.tracker.Timeline(r.Context(), filters)
	if err != nil {
		h.respondError(w, r, "audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func toReconcileRequest(req runRequest) reconcile.Request {
	out := reconcile.Request{Period: req.Period, Axis: req.Axis}
	for _, m := range req.Modules {
		out.Modules = append(out.Modules, gl.ModuleType(strings.ToUpper(strings.TrimSpace(m))))
	}
	return out
}

func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{param: "must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) validate(w http.ResponseWriter, v any) bool {
	err := h.validator.Struct(v)
	if err == nil {
		return true
	}
	fields := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fieldErr := range verrs {
			fields[strings.ToLower(fieldErr.Field())] = fieldErr.Tag()
		}
	}
	httpx.ValidationProblem(w, fields)
	return false
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var posted *gl.AlreadyPostedError
	if errors.As(err, &posted) {
		httpx.JSON(w, http.StatusConflict, map[string]any{
			"title":     "Conflict",
			"status":    http.StatusConflict,
			"detail":    posted.Error(),
			"source_id": posted.SourceID,
			"batch_id":  posted.BatchID,
		})
		return
	}
	classified := classifyError(err)
	if classified == err {
		h.logger.ErrorContext(r.Context(), op, slog.Any("error", err))
	} else {
		h.logger.InfoContext(r.Context(), op+" rejected", slog.Any("error", err))
	}
	httpx.RespondError(w, classified)
}

// classifyError maps ledger errors onto HTTP problem kinds. Unknown errors are returned unchanged.
func classifyError(err error) error {
	switch {
	case errors.Is(err, gl.ErrAlreadyPosted):
		return httpx.Classify(httpx.ErrConflict, err)
	case errors.Is(err, gl.ErrMissingAccountConfiguration),
		errors.Is(err, gl.ErrInvalidDimensionReference),
		errors.Is(err, gl.ErrNothingToPost),
		errors.Is(err, gl.ErrReversalNotAllowed):
		return httpx.Classify(httpx.ErrUnprocessable, err)
	case errors.Is(err, gl.ErrSourceNotFound),
		errors.Is(err, gl.ErrBatchNotFound),
		errors.Is(err, gl.ErrDimensionNotFound),
		errors.Is(err, gl.ErrAccountNotFound),
		errors.Is(err, reconcile.ErrReportNotFound):
		return httpx.Classify(httpx.ErrNotFound, err)
	case errors.Is(err, gl.ErrInvalidPeriod),
		errors.Is(err, gl.ErrUnsupportedModule):
		return httpx.Classify(httpx.ErrValidation, err)
	}
	return err
}
