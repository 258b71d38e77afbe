package controller

import (
	"strconv"

	"rvcampaign/internal/campaign/repository"
	appErr "rvcampaign/pkg/errors"
	"rvcampaign/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// CampaignController serves campaign status and history.
type CampaignController struct {
	status  *repository.StatusRepository
	history *repository.HistoryRepository
}

// NewCampaignController creates a new controller. Either repository may be nil.
func NewCampaignController(status *repository.StatusRepository, history *repository.HistoryRepository) *CampaignController {
	return &CampaignController{status: status, history: history}
}

// Register mounts the routes on r.
func (h *CampaignController) Register(r gin.IRouter) {
	r.GET("/campaigns", h.ListRecent)
	r.GET("/campaigns/:id", h.GetStatus)
	r.GET("/campaigns/:id/results", h.GetResults)
	r.GET("/history", h.ListHistory)
}

// GetStatus returns the live status of one campaign.
func (h *CampaignController) GetStatus(c *gin.Context) {
	if h.status == nil {
		response.Error(c, appErr.New(appErr.ServiceUnavailable).WithMessage("status store is not configured"))
		return
	}
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, "Invalid campaign id")
		return
	}
	status, err := h.status.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// ListRecent returns the most recently started campaigns.
func (h *CampaignController) ListRecent(c *gin.Context) {
	if h.status == nil {
		response.Error(c, appErr.New(appErr.ServiceUnavailable).WithMessage("status store is not configured"))
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	list, err := h.status.Recent(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithList(c, list, len(list))
}

// ListHistory returns recorded campaigns, newest first.
func (h *CampaignController) ListHistory(c *gin.Context) {
	if h.history == nil {
		response.Error(c, appErr.New(appErr.ServiceUnavailable).WithMessage("history store is not configured"))
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	list, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithList(c, list, len(list))
}

// GetResults returns the per-target results of a recorded campaign.
func (h *CampaignController) GetResults(c *gin.Context) {
	if h.history == nil {
		response.Error(c, appErr.New(appErr.ServiceUnavailable).WithMessage("history store is not configured"))
		return
	}
	results, err := h.history.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, results)
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		response.BadRequest(c, "Invalid limit")
		return 0, false
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, true
}
