package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gameupdater/gameupdater/pkg/model"
)

type SettingsHandler struct {
	service UpdateService
}

func NewSettingsHandler(service UpdateService) *SettingsHandler {
	return &SettingsHandler{service: service}
}

type settingsRequest struct {
	Username       string `json:"username" binding:"required"`
	Password       string `json:"password"`
	ExecutablePath string `json:"executablePath" binding:"required"`
}

type settingsResponse struct {
	Username       string `json:"username"`
	Password       string `json:"password,omitempty"`
	ExecutablePath string `json:"executablePath"`
}

type installationRequest struct {
	InstallPath   string   `json:"installPath" binding:"required"`
	UpdateCommand string   `json:"updateCommand"`
	ExtraArgs     []string `json:"extraArgs"`
}

type installationResponse struct {
	GameID        string   `json:"gameId"`
	AppID         string   `json:"appId"`
	InstallPath   string   `json:"installPath"`
	UpdateCommand string   `json:"updateCommand,omitempty"`
	ExtraArgs     []string `json:"extraArgs"`
}

func (h *SettingsHandler) Get(c *gin.Context) {
	settings, err := h.service.GetSettings(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsResponse{
		Username:       settings.Username,
		Password:       settings.Password,
		ExecutablePath: settings.ExecutablePath,
	})
}

func (h *SettingsHandler) Update(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	settings := &model.Settings{
		Username:       req.Username,
		Password:       req.Password,
		ExecutablePath: req.ExecutablePath,
	}
	if err := h.service.SaveSettings(c.Request.Context(), settings); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SettingsHandler) GetInstallation(c *gin.Context) {
	installation, err := h.service.GetInstallation(c.Request.Context(), c.Param("gameId"), c.Param("appId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInstallationResponse(installation))
}

func (h *SettingsHandler) PutInstallation(c *gin.Context) {
	var req installationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	installation := &model.GameInstallation{
		GameID:        c.Param("gameId"),
		AppID:         c.Param("appId"),
		InstallPath:   req.InstallPath,
		UpdateCommand: req.UpdateCommand,
		ExtraArgs:     req.ExtraArgs,
	}
	if err := h.service.SaveInstallation(c.Request.Context(), installation); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInstallationResponse(installation))
}

func toInstallationResponse(installation *model.GameInstallation) installationResponse {
	extra := []string(installation.ExtraArgs)
	if extra == nil {
		extra = []string{}
	}
	return installationResponse{
		GameID:        installation.GameID,
		AppID:         installation.AppID,
		InstallPath:   installation.InstallPath,
		UpdateCommand: installation.UpdateCommand,
		ExtraArgs:     extra,
	}
}
