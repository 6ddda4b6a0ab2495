package esign

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/platform/auth"
	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires the staff API onto api (JWT-authenticated) and the
// signing gateway onto public. The public group carries no authentication:
// the access token in the path is the credential, so the caller must mount it
// behind the keyed rate limiter.
func (h *Handler) RegisterRoutes(api *echo.Group, public *echo.Group) {
	staff := api.Group("", auth.RequireRole("therapist"))
	staff.POST("/signature-requests", h.CreateRequest)
	staff.GET("/signature-requests", h.ListRequests)
	staff.GET("/signature-requests/:id", h.GetRequest)
	staff.POST("/signature-requests/:id/revoke", h.RevokeRequest)
	staff.POST("/signature-requests/:id/resend", h.ResendRequest)
	staff.GET("/signature-requests/:id/events", h.ListEvents)

	public.GET("/:token", h.ResolveToken)
	public.GET("/:token/document", h.ResolveDocument)
	public.POST("/:token/submit", h.SubmitSignature)
	public.POST("/:token/decline", h.DeclineSignature)
}

// -- Staff surface --

func (h *Handler) CreateRequest(c echo.Context) error {
	var in CreateRequestInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	req, err := h.svc.CreateRequest(c.Request().Context(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":           req.ID,
		"access_token": req.AccessToken,
		"status":       req.Status,
		"expires_at":   req.ExpiresAt,
		"signing_link": h.svc.SigningLink(req),
	})
}

func (h *Handler) ListRequests(c echo.Context) error {
	requesterID, err := uuid.Parse(c.QueryParam("requested_by"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "requested_by query parameter is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRequests(c.Request().Context(), requesterID, pg.Limit, pg.Offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	req, err := h.svc.GetRequest(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) RevokeRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Revoke(c.Request().Context(), id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": string(StatusRevoked)})
}

func (h *Handler) ResendRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	req, err := h.svc.Resend(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     req.Status,
		"expires_at": req.ExpiresAt,
	})
}

func (h *Handler) ListEvents(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Events(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Public signing gateway --

func (h *Handler) ResolveToken(c echo.Context) error {
	view, err := h.svc.Resolve(c.Request().Context(), c.Param("token"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) ResolveDocument(c echo.Context) error {
	view, err := h.svc.Resolve(c.Request().Context(), c.Param("token"))
	if err != nil {
		return writeError(c, err)
	}
	if view.DocumentSummary == nil {
		return echo.NewHTTPError(http.StatusNotFound, "document summary unavailable")
	}
	return c.JSON(http.StatusOK, view.DocumentSummary)
}

type submitBody struct {
	FieldValues    map[string]string `json:"field_values"`
	SignatureImage []byte            `json:"signature_image"`
}

func (h *Handler) SubmitSignature(c echo.Context) error {
	var body submitBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	artifact, err := h.svc.SubmitSignature(c.Request().Context(), c.Param("token"), body.FieldValues, body.SignatureImage)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    string(StatusSigned),
		"signed_at": artifact.SignedAt,
	})
}

type declineBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) DeclineSignature(c echo.Context) error {
	var body declineBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.svc.DeclineSignature(c.Request().Context(), c.Param("token"), body.Reason); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": string(StatusDeclined)})
}

// -- Error mapping --

// writeError maps taxonomy errors to HTTP responses. Conflict and expiry
// bodies carry the current status so clients refresh instead of retrying.
func writeError(c echo.Context, err error) error {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "validation failed",
			"code":   "validation_error",
			"fields": vErr.Fields,
		})
	}

	var sErr *StateError
	current := ""
	if errors.As(err, &sErr) {
		current = string(sErr.Current)
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "not found",
			"code":  "not_found",
		})
	case errors.Is(err, ErrExpired):
		return c.JSON(http.StatusGone, map[string]string{
			"error":  "signing link expired",
			"code":   "expired",
			"status": current,
		})
	case errors.Is(err, ErrRequestNotSignable):
		return c.JSON(http.StatusConflict, map[string]string{
			"error":  "request is not signable",
			"code":   "request_not_signable",
			"status": current,
		})
	case errors.Is(err, ErrInvalidStateTransition):
		return c.JSON(http.StatusConflict, map[string]string{
			"error":  "action not allowed in current status",
			"code":   "invalid_state_transition",
			"status": current,
		})
	case errors.Is(err, ErrDocumentChanged):
		return c.JSON(http.StatusConflict, map[string]string{
			"error": "document changed since request was created",
			"code":  "document_changed",
		})
	case errors.Is(err, ErrInvalidDocument), errors.Is(err, ErrInvalidFieldLayout):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
			"code":  "invalid_request",
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
