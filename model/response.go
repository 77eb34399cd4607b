package model

// AnalyzeResponse /analyze 响应，失败时 Success=false 且 Data 为空数组
type AnalyzeResponse struct {
	Success      bool        `json:"success"`
	Data         []Detection `json:"data"`
	Error        string      `json:"error,omitempty"`
	PredictionID *int64      `json:"prediction_id,omitempty"`
}

// OverlayResponse /analyze-with-overlay 响应
type OverlayResponse struct {
	Success      bool        `json:"success"`
	Data         []Detection `json:"data"`
	OverlayImage string      `json:"overlay_image,omitempty"`
	Error        string      `json:"error,omitempty"`
	PredictionID *int64      `json:"prediction_id,omitempty"`
}

// SaveResponse /save-analysis 响应
type SaveResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	PredictionID int64  `json:"prediction_id"`
}

// MessageResponse 通用消息响应
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
