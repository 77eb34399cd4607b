package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Jwuthri/spacial-limit/model"
	"github.com/Jwuthri/spacial-limit/service"
	"github.com/Jwuthri/spacial-limit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type HistoryHandler struct {
	store  service.HistoryStore
	events service.EventPublisher
}

func NewHistoryHandler(store service.HistoryStore, events service.EventPublisher) *HistoryHandler {
	if events == nil {
		events = service.NopPublisher{}
	}
	return &HistoryHandler{store: store, events: events}
}

// List 历史记录，按创建时间倒序
func (h *HistoryHandler) List(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(service.DefaultHistoryLimit)))
	if err != nil || limit < 1 {
		badRequest(c, fmt.Errorf("%w: limit must be a positive integer", service.ErrValidation))
		return
	}

	predictions, err := h.store.List(c.Request.Context(), service.HistoryFilter{
		Limit:      limit,
		DetectType: c.Query("detect_type"),
	})
	if err != nil {
		utils.Logger.Error("failed to list predictions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "failed to list predictions",
			Error:   err.Error(),
		})
		return
	}

	summaries := make([]model.PredictionSummary, 0, len(predictions))
	for i := range predictions {
		summaries = append(summaries, predictions[i].Summary())
	}
	c.JSON(http.StatusOK, summaries)
}

// Get 完整记录（含图片）
func (h *HistoryHandler) Get(c *gin.Context) {
	id, ok := predictionID(c)
	if !ok {
		return
	}

	p, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		storeError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *HistoryHandler) Delete(c *gin.Context) {
	id, ok := predictionID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.store.Delete(ctx, id); err != nil {
		storeError(c, id, err)
		return
	}
	h.events.Publish(ctx, service.NewPredictionEvent(service.EventPredictionDeleted, &model.Prediction{ID: id}))

	utils.Logger.Info("prediction deleted", zap.Int64("prediction_id", id))
	c.JSON(http.StatusOK, model.MessageResponse{Message: "Prediction deleted successfully"})
}

func predictionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, fmt.Errorf("%w: prediction id must be an integer", service.ErrValidation))
		return 0, false
	}
	return id, true
}

func storeError(c *gin.Context, id int64, err error) {
	if errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "Prediction not found",
		})
		return
	}
	utils.Logger.Error("prediction store error", zap.Int64("prediction_id", id), zap.Error(err))
	c.JSON(http.StatusInternalServerError, model.ErrorResponse{
		Success: false,
		Message: "prediction store error",
		Error:   err.Error(),
	})
}
