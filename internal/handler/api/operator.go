package api

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	models "FuseGate/internal/domain/models"
	domrepo "FuseGate/internal/domain/repository"
	"FuseGate/internal/gate"
	"FuseGate/internal/usecase"
	xhttp "FuseGate/pkg/http"
	xlogger "FuseGate/pkg/logger"
)

// OperatorHandler exposes the operator surface: pending signal inspection,
// approve/reject, indicator and decision readouts.
type OperatorHandler struct {
	logger    *xlogger.Logger
	gate      *gate.Gate
	pipeline  *usecase.FusionPipeline
	processor *usecase.DecisionProcessor
	collector *usecase.SampleCollector
}

func NewOperatorHandler(
	logger *xlogger.Logger,
	g *gate.Gate,
	pipeline *usecase.FusionPipeline,
	processor *usecase.DecisionProcessor,
	collector *usecase.SampleCollector,
) *OperatorHandler {
	return &OperatorHandler{
		logger:    logger,
		gate:      g,
		pipeline:  pipeline,
		processor: processor,
		collector: collector,
	}
}

func (h *OperatorHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/signal", h.PendingSignal)
	g.POST("/signal/:id/resolve", h.Resolve)
	g.GET("/indicators", h.Indicators)
	g.GET("/decisions", h.Decisions)
}

type statusResponse struct {
	GateState     string `json:"gate_state"`
	FeedConnected bool   `json:"feed_connected"`
	JournalOK     bool   `json:"journal_ok"`
}

func (h *OperatorHandler) Status(c echo.Context) error {
	journalOK := h.processor.Health(c.Request().Context()) == nil
	return xhttp.SuccessResponse(c, statusResponse{
		GateState:     string(h.gate.CurrentState()),
		FeedConnected: h.collector.IsConnected(),
		JournalOK:     journalOK,
	})
}

type pendingSignalResponse struct {
	Signal           *models.Signal `json:"signal"`
	RemainingSeconds float64        `json:"remaining_seconds"`
}

func (h *OperatorHandler) PendingSignal(c echo.Context) error {
	signal, remaining, ok := h.gate.Pending()
	if !ok {
		return xhttp.NotFoundResponse(c, "no signal pending")
	}
	return xhttp.SuccessResponse(c, pendingSignalResponse{
		Signal:           signal,
		RemainingSeconds: remaining.Seconds(),
	})
}

func (h *OperatorHandler) Resolve(c echo.Context) error {
	req := &models.ResolveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	signalID := c.Param("id")

	outcome := models.OutcomeRejected
	if req.Outcome == "approve" {
		outcome = models.OutcomeApproved
	}

	decision, err := h.gate.Resolve(signalID, outcome)
	if err != nil {
		if errors.Is(err, domrepo.ErrSignalMismatch) {
			h.logger.Warn("resolve mismatch",
				xlogger.String("signal_id", signalID))
			return xhttp.NotFoundResponse(c, "signal not pending")
		}
		h.logger.Error("resolve error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, decision)
}

type indicatorsResponse struct {
	Instrument string              `json:"instrument"`
	Indicators models.IndicatorSet `json:"indicators"`
	Trend      models.MacroTrend   `json:"trend"`
}

func (h *OperatorHandler) Indicators(c echo.Context) error {
	req := &models.IndicatorsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	indicators, trend, ok := h.pipeline.Indicators(req.Instrument)
	if !ok {
		return xhttp.NotFoundResponse(c, "instrument never sampled")
	}
	return xhttp.SuccessResponse(c, indicatorsResponse{
		Instrument: req.Instrument,
		Indicators: indicators,
		Trend:      trend,
	})
}

func (h *OperatorHandler) Decisions(c echo.Context) error {
	req := &models.DecisionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	from := xhttp.ParseTimeDefault(req.From, time.Now().Add(-24*time.Hour))
	to := xhttp.ParseTimeDefault(req.To, time.Now())

	decisions, err := h.processor.Query(c.Request().Context(), req.Instrument, from, to, req.Limit)
	if err != nil {
		h.logger.Error("decisions query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, decisions, int64(len(decisions)))
}

type healthResponse struct {
	Status string `json:"status"`
}

func (h *OperatorHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, healthResponse{Status: "ok"})
}
