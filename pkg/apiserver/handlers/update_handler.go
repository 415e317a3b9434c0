package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gameupdater/gameupdater/pkg/apiserver/middleware"
	"github.com/gameupdater/gameupdater/pkg/model"
	"github.com/gameupdater/gameupdater/pkg/orchestrator"
	"github.com/gameupdater/gameupdater/pkg/store"
)

// UpdateService is the orchestrator surface the HTTP API exposes.
type UpdateService interface {
	SubmitLocalUpdateRequest(ctx context.Context, gameID, appID, userID string) (*model.UpdateRequest, error)
	GetRecentUpdates(ctx context.Context, query store.RecentQuery) ([]model.UpdateRequest, error)
	IndeterminateUpdates(ctx context.Context) ([]model.UpdateRequest, error)
	SubmitSecondFactorCode(code string) error
	GetConnectionStatus() bool
	ConnectionDetails(ctx context.Context) orchestrator.ConnectionStatus
	QueueStatus() orchestrator.QueueStatus
	GetSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, settings *model.Settings) error
	GetInstallation(ctx context.Context, gameID, appID string) (*model.GameInstallation, error)
	SaveInstallation(ctx context.Context, installation *model.GameInstallation) error
}

type UpdateHandler struct {
	service UpdateService
}

func NewUpdateHandler(service UpdateService) *UpdateHandler {
	return &UpdateHandler{service: service}
}

type updateCreateRequest struct {
	GameID string `json:"gameId" binding:"required"`
	AppID  string `json:"appId" binding:"required"`
	UserID string `json:"userId"`
}

type updateLogResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type updateResponse struct {
	ID           string              `json:"id"`
	ExternalID   string              `json:"externalId,omitempty"`
	GameID       string              `json:"gameId"`
	AppID        string              `json:"appId"`
	UserID       string              `json:"userId"`
	Status       string              `json:"status"`
	Source       string              `json:"source"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
	CreatedAt    string              `json:"createdAt"`
	UpdatedAt    string              `json:"updatedAt"`
	Logs         []updateLogResponse `json:"logs"`
}

type secondFactorRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *UpdateHandler) Create(c *gin.Context) {
	var req updateCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserID == "" {
		req.UserID = middleware.Subject(c)
	}

	request, err := h.service.SubmitLocalUpdateRequest(c.Request.Context(), req.GameID, req.AppID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toUpdateResponse(request))
}

func (h *UpdateHandler) List(c *gin.Context) {
	query := store.RecentQuery{
		GameID: c.Query("gameId"),
		AppID:  c.Query("appId"),
		Limit:  parseLimit(c.Query("limit"), 0),
	}
	requests, err := h.service.GetRecentUpdates(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updates": toUpdateResponses(requests)})
}

func (h *UpdateHandler) ListIndeterminate(c *gin.Context) {
	requests, err := h.service.IndeterminateUpdates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updates": toUpdateResponses(requests)})
}

func (h *UpdateHandler) SubmitSecondFactor(c *gin.Context) {
	var req secondFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.SubmitSecondFactorCode(req.Code); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *UpdateHandler) Connection(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.ConnectionDetails(c.Request.Context()))
}

func (h *UpdateHandler) Queue(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.QueueStatus())
}

func toUpdateResponses(requests []model.UpdateRequest) []updateResponse {
	items := make([]updateResponse, 0, len(requests))
	for i := range requests {
		items = append(items, toUpdateResponse(&requests[i]))
	}
	return items
}

func toUpdateResponse(request *model.UpdateRequest) updateResponse {
	resp := updateResponse{
		ID:           request.ID,
		GameID:       request.GameID,
		AppID:        request.AppID,
		UserID:       request.UserID,
		Status:       string(request.Status),
		Source:       string(request.Source),
		ErrorMessage: request.ErrorMessage,
		CreatedAt:    formatTime(request.CreatedAt),
		UpdatedAt:    formatTime(request.UpdatedAt),
		Logs:         make([]updateLogResponse, 0, len(request.Logs)),
	}
	if request.ExternalID != nil {
		resp.ExternalID = *request.ExternalID
	}
	for _, entry := range request.Logs {
		resp.Logs = append(resp.Logs, updateLogResponse{
			Message:   entry.Message,
			Timestamp: formatTime(entry.Timestamp),
		})
	}
	return resp
}
