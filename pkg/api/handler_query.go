package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/querygate/querygate/pkg/models"
	"github.com/querygate/querygate/pkg/orchestrator"
)

// submitHandler handles POST /queries/submit: the simple one-shot surface.
func (s *Server) submitHandler(c *echo.Context) error {
	var req SubmitQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	kind := models.DatabaseKind(strings.ToLower(req.DatabaseType))
	if !kind.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "database_type must be one of oracle, postgres, doris")
	}

	ticket, err := s.runTicket(c, req.Query, kind, "", s.cfg.Approval.AutoApproveDefault)
	if err != nil {
		return mapPipelineError(err)
	}

	resp := &SubmitResponse{
		QueryID:   ticket.ID,
		Timestamp: time.Now().UTC(),
	}
	switch {
	case ticket.Error != nil:
		resp.Status = StatusError
		resp.Message = ticket.Error.Message
	case ticket.NextAction == models.ActionAwaitApproval:
		resp.Status = StatusPendingApproval
		resp.Message = "query requires approval before execution"
		resp.SQL = ticket.SQL.Text
	case ticket.Clarification != nil:
		resp.Status = StatusError
		resp.Message = ticket.Clarification.Message
	default:
		resp.Status = StatusSuccess
		resp.Message = ticket.Reply
		if ticket.SQL != nil {
			resp.SQL = ticket.SQL.Text
		}
		if ticket.Result != nil {
			resp.Results = ticket.Result
			resp.ExecutionTimeMs = ticket.Result.ExecutionTimeMs
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// processHandler handles POST /queries/process: the full envelope surface.
func (s *Server) processHandler(c *echo.Context) error {
	var req ProcessQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	kind := models.DatabaseKind(strings.ToLower(req.DatabaseType))
	if req.DatabaseType == "" {
		kind = models.DatabasePostgres
	}
	if !kind.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "database_type must be one of oracle, postgres, doris")
	}

	autoApprove := s.cfg.Approval.AutoApproveDefault
	if req.AutoApprove != nil {
		autoApprove = *req.AutoApprove
	}

	ticket, err := s.runTicket(c, req.Query, kind, req.SessionID, autoApprove)
	if err != nil {
		return mapPipelineError(err)
	}
	return c.JSON(http.StatusOK, buildProcessResponse(ticket))
}

// runTicket builds and runs one ticket synchronously.
func (s *Server) runTicket(c *echo.Context, query string, kind models.DatabaseKind, sessionID string, autoApprove bool) (*models.QueryTicket, error) {
	user := extractUser(c)
	if user == "" && !s.cfg.DevMode {
		return nil, &models.PipelineError{Kind: models.ErrKindUnauthorized, Message: "authentication required"}
	}
	if user == "" {
		user = "dev"
	}

	ticket := &models.QueryTicket{
		ID:           uuid.NewString(),
		OwnerUser:    user,
		OwnerRole:    extractRole(c),
		SessionID:    sessionID,
		DatabaseKind: kind,
		AutoApprove:  autoApprove,
		Request:      models.UserRequest{Text: query},
	}
	if err := ticket.Request.Validate(); err != nil {
		return nil, err
	}
	return s.orc.Submit(c.Request().Context(), ticket)
}

// approveHandler handles POST /queries/{id}/approve.
func (s *Server) approveHandler(c *echo.Context) error {
	var req ApproveQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id := c.Param("id")

	if err := s.checkOwnership(c, id); err != nil {
		return mapPipelineError(err)
	}

	ticket, err := s.orc.Decide(c.Request().Context(), id, orchestrator.Decision{
		Approved:    req.Approved,
		ModifiedSQL: req.ModifiedSQL,
		SessionID:   extractUser(c),
		IP:          c.RealIP(),
		UserAgent:   c.Request().UserAgent(),
	})
	if err != nil {
		return mapPipelineError(err)
	}
	return c.JSON(http.StatusOK, buildProcessResponse(ticket))
}

// rejectHandler handles POST /queries/{id}/reject.
func (s *Server) rejectHandler(c *echo.Context) error {
	id := c.Param("id")
	if err := s.checkOwnership(c, id); err != nil {
		return mapPipelineError(err)
	}
	if _, err := s.orc.Decide(c.Request().Context(), id, orchestrator.Decision{Approved: false}); err != nil {
		return mapPipelineError(err)
	}
	return c.JSON(http.StatusOK, &RejectResponse{
		QueryID:   id,
		Status:    StatusRejected,
		Timestamp: time.Now().UTC(),
	})
}

// cancelHandler handles POST /queries/{id}/cancel.
func (s *Server) cancelHandler(c *echo.Context) error {
	id := c.Param("id")
	cancelled := s.orc.Cancel(id)
	status := StatusCancelled
	if !cancelled {
		status = "not_found"
	}
	return c.JSON(http.StatusOK, &CancelResponse{
		QueryID:   id,
		Status:    status,
		Cancelled: cancelled,
	})
}

// clarifyHandler handles POST /queries/clarify: resumes a conversation that
// stopped for clarification.
func (s *Server) clarifyHandler(c *echo.Context) error {
	var req ClarifyQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.QueryID == "" || req.Clarification == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query_id and clarification are required")
	}
	if err := s.checkOwnership(c, req.QueryID); err != nil {
		return mapPipelineError(err)
	}

	ticket, err := s.orc.Clarify(c.Request().Context(), req.QueryID, req.Clarification)
	if err != nil {
		return mapPipelineError(err)
	}
	return c.JSON(http.StatusOK, buildProcessResponse(ticket))
}

// statusHandler handles GET /queries/{id}/status.
func (s *Server) statusHandler(c *echo.Context) error {
	id := c.Param("id")
	ticket, err := s.orc.Lookup(c.Request().Context(), id)
	if err != nil {
		return mapPipelineError(err)
	}

	resp := &StatusResponse{QueryID: id, Status: buildProcessResponse(ticket).Status}
	if s.mayAccess(c, ticket.OwnerUser) {
		if meta, err := s.bus.GetMetadata(id); err == nil {
			resp.Metadata = meta
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// checkOwnership verifies the caller may act on a ticket.
func (s *Server) checkOwnership(c *echo.Context, id string) error {
	ticket, err := s.orc.Lookup(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !s.mayAccess(c, ticket.OwnerUser) {
		return models.ErrForbidden
	}
	return nil
}
