package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Jwuthri/spacial-limit/config"
	"github.com/Jwuthri/spacial-limit/model"
	"github.com/Jwuthri/spacial-limit/service"
	"github.com/Jwuthri/spacial-limit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Detector 检测服务
type Detector interface {
	Detect(ctx context.Context, req *service.DetectionRequest) (*service.DetectionResult, error)
	ModelFor(mode model.Mode) string
}

// ImagePreparer 图片预处理
type ImagePreparer interface {
	Prepare(data []byte, maxSize int, skipResize bool) (*service.PreparedImage, error)
}

// OverlayRenderer 叠加层绘制
type OverlayRenderer interface {
	Render(png []byte, mode model.Mode, dets []model.Detection) []byte
}

// DetectionCache 检测结果缓存，未命中返回 nil
type DetectionCache interface {
	GetDetections(ctx context.Context, key string) ([]model.Detection, string, error)
	SetDetections(ctx context.Context, key string, mode model.Mode, modelName string, dets []model.Detection) error
}

type AnalyzeHandler struct {
	cfg      *config.Config
	detector Detector
	images   ImagePreparer
	overlay  OverlayRenderer
	store    service.HistoryStore
	cache    DetectionCache
	events   service.EventPublisher
}

// NewAnalyzeHandler cache 可以为 nil（未启用缓存）
func NewAnalyzeHandler(cfg *config.Config, detector Detector, images ImagePreparer, overlay OverlayRenderer,
	store service.HistoryStore, cache DetectionCache, events service.EventPublisher) *AnalyzeHandler {
	if events == nil {
		events = service.NopPublisher{}
	}
	return &AnalyzeHandler{
		cfg:      cfg,
		detector: detector,
		images:   images,
		overlay:  overlay,
		store:    store,
		cache:    cache,
		events:   events,
	}
}

// analyzeForm 三个分析接口共用的表单参数
type analyzeForm struct {
	filename     string
	data         []byte
	mode         model.Mode
	targetPrompt string
	labelPrompt  string
	language     string
	temperature  float64
	skipResize   bool
}

func (f *analyzeForm) request(png []byte) *service.DetectionRequest {
	return &service.DetectionRequest{
		Image:        png,
		Mode:         f.mode,
		TargetPrompt: f.targetPrompt,
		LabelPrompt:  f.labelPrompt,
		Language:     f.language,
		Temperature:  f.temperature,
	}
}

func (h *AnalyzeHandler) parseForm(c *gin.Context) (*analyzeForm, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: image file is required", service.ErrValidation)
	}
	if h.cfg.Upload.MaxSize > 0 && file.Size > h.cfg.Upload.MaxSize {
		return nil, fmt.Errorf("%w: file exceeds %d MB", service.ErrValidation, h.cfg.Upload.MaxSize/(1024*1024))
	}

	mode, err := model.ParseMode(c.PostForm("detect_type"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrValidation, err)
	}

	temperature, err := strconv.ParseFloat(c.DefaultPostForm("temperature", "0.4"), 64)
	if err != nil || temperature < 0 || temperature > 1 {
		return nil, fmt.Errorf("%w: temperature must be a number between 0 and 1", service.ErrValidation)
	}

	skipResize, err := strconv.ParseBool(c.DefaultPostForm("skip_resize", "false"))
	if err != nil {
		return nil, fmt.Errorf("%w: skip_resize must be a boolean", service.ErrValidation)
	}

	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open upload: %w", service.ErrValidation, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read upload: %w", service.ErrValidation, err)
	}

	filename := file.Filename
	if filename == "" {
		filename = "unknown"
	}

	return &analyzeForm{
		filename:     filename,
		data:         data,
		mode:         mode,
		targetPrompt: c.DefaultPostForm("target_prompt", "items"),
		labelPrompt:  c.DefaultPostForm("label_prompt", ""),
		language:     c.DefaultPostForm("segmentation_language", "English"),
		temperature:  temperature,
		skipResize:   skipResize,
	}, nil
}

// Analyze 检测并保存记录。检测失败返回 200 和 success=false，同时保存一条空结果记录
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()

	form, err := h.parseForm(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	img, err := h.images.Prepare(form.data, h.cfg.Image.MaxSize, form.skipResize)
	if err != nil {
		utils.Logger.Error("failed to prepare image", zap.String("filename", form.filename), zap.Error(err))
		h.recordFailure(ctx, form, "", h.detector.ModelFor(form.mode), start)
		c.JSON(http.StatusOK, model.AnalyzeResponse{Success: false, Data: []model.Detection{}, Error: err.Error()})
		return
	}

	result, err := h.detect(ctx, form.request(img.PNG))
	if err != nil {
		utils.Logger.Error("analysis failed",
			zap.String("detect_type", string(form.mode)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		h.recordFailure(ctx, form, img.DataURI(), failureModel(err, h.detector.ModelFor(form.mode)), start)
		c.JSON(http.StatusOK, model.AnalyzeResponse{Success: false, Data: []model.Detection{}, Error: err.Error()})
		return
	}

	resp := model.AnalyzeResponse{Success: true, Data: result.Detections}
	if p := h.record(ctx, form, img.DataURI(), result, start); p != nil {
		resp.PredictionID = &p.ID
	}
	c.JSON(http.StatusOK, resp)
}

// AnalyzeWithOverlay 检测并返回带标注的图片
func (h *AnalyzeHandler) AnalyzeWithOverlay(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()

	form, err := h.parseForm(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	img, err := h.images.Prepare(form.data, h.cfg.Image.OverlayMaxSize, form.skipResize)
	if err != nil {
		utils.Logger.Error("failed to prepare image", zap.String("filename", form.filename), zap.Error(err))
		c.JSON(http.StatusOK, model.OverlayResponse{Success: false, Data: []model.Detection{}, Error: err.Error()})
		return
	}

	result, err := h.detect(ctx, form.request(img.PNG))
	if err != nil {
		utils.Logger.Error("overlay analysis failed",
			zap.String("detect_type", string(form.mode)),
			zap.Error(err))
		c.JSON(http.StatusOK, model.OverlayResponse{Success: false, Data: []model.Detection{}, Error: err.Error()})
		return
	}

	rendered := h.overlay.Render(img.PNG, form.mode, result.Detections)

	resp := model.OverlayResponse{
		Success:      true,
		Data:         result.Detections,
		OverlayImage: utils.PNGDataURI(rendered),
	}
	if p := h.record(ctx, form, img.DataURI(), result, start); p != nil {
		resp.PredictionID = &p.ID
	}
	c.JSON(http.StatusOK, resp)
}

// SaveAnalysis 保存客户端自行检测的结果，不调用模型
func (h *AnalyzeHandler) SaveAnalysis(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()

	form, err := h.parseForm(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	results := c.PostForm("results")
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(results), &items); err != nil || items == nil {
		badRequest(c, fmt.Errorf("%w: results must be a JSON array", service.ErrValidation))
		return
	}

	img, err := h.images.Prepare(form.data, h.cfg.Image.MaxSize, form.skipResize)
	if err != nil {
		badRequest(c, fmt.Errorf("%w: %w", service.ErrValidation, err))
		return
	}

	p := newPrediction(form, img.DataURI(), h.detector.ModelFor(form.mode), service.StrategyClient, start)
	p.Results = datatypes.JSON(results)
	p.ResultCount = len(items)

	if err := h.store.Create(ctx, p); err != nil {
		utils.Logger.Error("failed to save analysis", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "failed to save analysis",
			Error:   err.Error(),
		})
		return
	}
	h.events.Publish(ctx, service.NewPredictionEvent(service.EventPredictionCreated, p))

	utils.Logger.Info("saved client analysis",
		zap.Int64("prediction_id", p.ID),
		zap.Int("result_count", p.ResultCount))

	c.JSON(http.StatusOK, model.SaveResponse{
		Success:      true,
		Message:      "Analysis saved successfully",
		PredictionID: p.ID,
	})
}

// detect 先查缓存，未命中再调用模型
func (h *AnalyzeHandler) detect(ctx context.Context, req *service.DetectionRequest) (*service.DetectionResult, error) {
	if h.cache == nil {
		return h.detector.Detect(ctx, req)
	}

	key := service.CacheKey(req)
	dets, modelName, err := h.cache.GetDetections(ctx, key)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
	}
	if dets != nil {
		utils.Logger.Info("cache hit", zap.String("cache_key", key))
		return &service.DetectionResult{
			Detections: dets,
			Model:      modelName,
			Strategy:   service.StrategyCache,
		}, nil
	}

	result, err := h.detector.Detect(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := h.cache.SetDetections(ctx, key, req.Mode, result.Model, result.Detections); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}
	return result, nil
}

// record 保存成功记录；存储失败只记日志，返回 nil
func (h *AnalyzeHandler) record(ctx context.Context, form *analyzeForm, imageData string, result *service.DetectionResult, start time.Time) *model.Prediction {
	results, err := json.Marshal(result.Detections)
	if err != nil {
		utils.Logger.Error("failed to marshal detections", zap.Error(err))
		return nil
	}

	p := newPrediction(form, imageData, result.Model, result.Strategy, start)
	p.Results = datatypes.JSON(results)
	p.ResultCount = len(result.Detections)

	if err := h.store.Create(ctx, p); err != nil {
		utils.Logger.Error("failed to save prediction", zap.Error(err))
		return nil
	}
	h.events.Publish(ctx, service.NewPredictionEvent(service.EventPredictionCreated, p))

	utils.Logger.Info("saved prediction",
		zap.Int64("prediction_id", p.ID),
		zap.String("strategy", p.Strategy),
		zap.Int("result_count", p.ResultCount))
	return p
}

// recordFailure 失败请求也留一条空结果记录，写入失败时忽略
func (h *AnalyzeHandler) recordFailure(ctx context.Context, form *analyzeForm, imageData, modelName string, start time.Time) {
	p := newPrediction(form, imageData, modelName, "", start)
	p.Results = datatypes.JSON("[]")

	if err := h.store.Create(ctx, p); err != nil {
		utils.Logger.Error("failed to save failed prediction", zap.Error(err))
		return
	}
	h.events.Publish(ctx, service.NewPredictionEvent(service.EventPredictionCreated, p))
}

func newPrediction(form *analyzeForm, imageData, modelName string, strategy service.Strategy, start time.Time) *model.Prediction {
	elapsed := time.Since(start).Seconds()
	return &model.Prediction{
		ImageName:            form.filename,
		ImageData:            imageData,
		DetectType:           string(form.mode),
		TargetPrompt:         form.targetPrompt,
		LabelPrompt:          form.labelPrompt,
		SegmentationLanguage: form.language,
		Temperature:          form.temperature,
		ModelUsed:            modelName,
		Strategy:             string(strategy),
		ProcessingTime:       &elapsed,
	}
}

// failureModel 失败时记录实际使用的模型
func failureModel(err error, fallback string) string {
	var failure *service.DetectionFailure
	if errors.As(err, &failure) && failure.Model != "" {
		return failure.Model
	}
	return fallback
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, model.ErrorResponse{
		Success: false,
		Message: "invalid request",
		Error:   err.Error(),
	})
}
