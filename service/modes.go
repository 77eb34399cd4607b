package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Jwuthri/spacial-limit/config"
	"github.com/Jwuthri/spacial-limit/model"
)

// modeSpec 每种检测类型的全部差异集中在这里：函数定义、提示词、归一化、叠加标注
type modeSpec interface {
	// Structured 是否先尝试函数调用
	Structured() bool
	Tool() *ToolDeclaration
	ToolPrompt(req *DetectionRequest) string
	FreeTextPrompt(req *DetectionRequest) string
	Normalize(source Strategy, raws []model.RawDetection) ([]model.Detection, error)
	Annotations(dets []model.Detection) []Annotation
	Decode(data []byte) ([]model.Detection, error)
}

var modeSpecs = map[model.Mode]modeSpec{
	model.ModeBox2D:        box2DSpec{},
	model.ModeBox3D:        box3DSpec{},
	model.ModeSegmentation: segmentationSpec{},
	model.ModePoint:        pointSpec{},
}

func specFor(mode model.Mode) (modeSpec, error) {
	spec, ok := modeSpecs[mode]
	if !ok {
		return nil, fmt.Errorf("%w: unknown detect_type %q", ErrValidation, mode)
	}
	return spec, nil
}

// ModelPolicy 某检测类型使用的模型与思考预算
type ModelPolicy struct {
	Model          string
	ThinkingBudget *int32
}

// ModelPolicies 按检测类型选择模型。3D 框使用单独的模型且不限制思考预算
type ModelPolicies map[model.Mode]ModelPolicy

func NewModelPolicies(cfg config.ModelsConfig) ModelPolicies {
	zero := int32(0)
	policies := make(ModelPolicies, len(model.Modes))
	for _, m := range model.Modes {
		policies[m] = ModelPolicy{Model: cfg.Default, ThinkingBudget: &zero}
	}
	policies[model.ModeBox3D] = ModelPolicy{Model: cfg.Box3D}
	return policies
}

func (p ModelPolicies) For(mode model.Mode) ModelPolicy {
	return p[mode]
}

// Annotations 叠加层标注；未知类型返回 nil
func Annotations(mode model.Mode, dets []model.Detection) []Annotation {
	spec, err := specFor(mode)
	if err != nil {
		return nil
	}
	return spec.Annotations(dets)
}

// DecodeDetections 反序列化已归一化的结果（缓存读取）
func DecodeDetections(mode model.Mode, data []byte) ([]model.Detection, error) {
	spec, err := specFor(mode)
	if err != nil {
		return nil, err
	}
	return spec.Decode(data)
}

func decodeAs[T model.Detection](data []byte) ([]model.Detection, error) {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return toDetections(items), nil
}

func detectionsSchema(description string, item map[string]*Schema, required ...string) *Schema {
	item["label"] = &Schema{Type: TypeString, Description: "Descriptive label for the detected object"}
	item["confidence"] = &Schema{Type: TypeNumber, Description: "Confidence score between 0 and 1"}
	return &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"detections": {
				Type:        TypeArray,
				Description: description,
				Items: &Schema{
					Type:       TypeObject,
					Properties: item,
					Required:   required,
				},
			},
		},
		Required: []string{"detections"},
	}
}

func numberArray(description string) *Schema {
	return &Schema{Type: TypeArray, Description: description, Items: &Schema{Type: TypeNumber}}
}

const box2DDescription = "2D bounding box coordinates as [ymin, xmin, ymax, xmax] in pixels (0-1000 scale)"

type box2DSpec struct{}

func (box2DSpec) Structured() bool { return true }

func (box2DSpec) Tool() *ToolDeclaration {
	return &ToolDeclaration{
		Name:        "detect_2d_bounding_boxes",
		Description: "Detect objects in an image and return 2D bounding boxes with labels",
		Parameters: detectionsSchema("List of detected objects with 2D bounding boxes",
			map[string]*Schema{"box_2d": numberArray(box2DDescription)},
			"box_2d", "label"),
	}
}

func (box2DSpec) ToolPrompt(req *DetectionRequest) string {
	labelInstruction := " Provide descriptive labels."
	if req.LabelPrompt != "" {
		labelInstruction = fmt.Sprintf(" Label each detection with %s.", req.LabelPrompt)
	}
	return fmt.Sprintf("Analyze this image and detect %s. You MUST use the detect_2d_bounding_boxes function to return the results.%s Call the function with your detections.",
		req.TargetPrompt, labelInstruction)
}

func (box2DSpec) FreeTextPrompt(req *DetectionRequest) string {
	labelText := req.LabelPrompt
	if labelText == "" {
		labelText = "a text label"
	}
	return fmt.Sprintf("Detect %s, with no more than 20 items. Output a json list where each entry contains the 2D bounding box in \"box_2d\" and %s in \"label\".",
		req.TargetPrompt, labelText)
}

func (box2DSpec) Normalize(_ Strategy, raws []model.RawDetection) ([]model.Detection, error) {
	boxes, err := normalizeEach(raws, normalizeBox2D)
	if err != nil {
		return nil, err
	}
	return toDetections(boxes), nil
}

func (box2DSpec) Annotations(dets []model.Detection) []Annotation { return boxAnnotations(dets) }

func (box2DSpec) Decode(data []byte) ([]model.Detection, error) { return decodeAs[model.Box2D](data) }

type box3DSpec struct{}

func (box3DSpec) Structured() bool { return true }

func (box3DSpec) Tool() *ToolDeclaration {
	return &ToolDeclaration{
		Name:        "detect_3d_bounding_boxes",
		Description: "Detect objects in an image and return 3D bounding boxes with spatial information",
		Parameters: detectionsSchema("List of detected objects with 3D bounding boxes",
			map[string]*Schema{"box_3d": numberArray("3D bounding box as [center_x, center_y, center_z, size_x, size_y, size_z, roll, pitch, yaw] where angles are in degrees")},
			"box_3d", "label"),
	}
}

func (box3DSpec) ToolPrompt(req *DetectionRequest) string {
	return fmt.Sprintf("Analyze this image and detect %s with 3D spatial information. You MUST use the detect_3d_bounding_boxes function to return the results with estimated 3D positions, sizes, and orientations. Call the function with your detections.",
		req.TargetPrompt)
}

func (box3DSpec) FreeTextPrompt(req *DetectionRequest) string {
	return fmt.Sprintf("Detect %s and create 3D bounding boxes. Output a json list where each entry contains the 3D bounding box in \"box_3d\" (9 values: center_x, center_y, center_z, size_x, size_y, size_z, roll, pitch, yaw in degrees) and a text label in \"label\".",
		req.TargetPrompt)
}

func (box3DSpec) Normalize(_ Strategy, raws []model.RawDetection) ([]model.Detection, error) {
	boxes, err := normalizeEach(raws, normalizeBox3D)
	if err != nil {
		return nil, err
	}
	return toDetections(boxes), nil
}

// Annotations 3D 框需要投影，叠加层不绘制
func (box3DSpec) Annotations([]model.Detection) []Annotation { return nil }

func (box3DSpec) Decode(data []byte) ([]model.Detection, error) { return decodeAs[model.Box3D](data) }

type segmentationSpec struct{}

// Structured 分割只走文本解析
func (segmentationSpec) Structured() bool { return false }

func (segmentationSpec) Tool() *ToolDeclaration {
	return &ToolDeclaration{
		Name:        "detect_segmentation_masks",
		Description: "Detect objects in an image and return segmentation polygon coordinates",
		Parameters: detectionsSchema("List of detected objects with segmentation polygon coordinates",
			map[string]*Schema{
				"box_2d": numberArray(box2DDescription),
				"polygon": {
					Type:        TypeArray,
					Description: "Segmentation polygon as array of [x, y] coordinate pairs in 0-1000 scale, tracing the object outline",
					Items:       &Schema{Type: TypeArray, Items: &Schema{Type: TypeNumber}},
				},
			},
			"box_2d", "polygon", "label"),
	}
}

func (segmentationSpec) ToolPrompt(req *DetectionRequest) string {
	languageInstruction := ""
	if !isEnglish(req.Language) {
		languageInstruction = fmt.Sprintf(" Provide labels in %s language only.", req.Language)
	}
	return fmt.Sprintf("Analyze this image and detect %s with segmentation polygons. You MUST use the detect_segmentation_masks function to return the results.%s For each object, provide the bounding box coordinates and a polygon outline that traces the exact shape of the object using coordinate pairs.",
		req.TargetPrompt, languageInstruction)
}

func (segmentationSpec) FreeTextPrompt(req *DetectionRequest) string {
	languageInstruction := " Use descriptive labels."
	if !isEnglish(req.Language) {
		languageInstruction = fmt.Sprintf(" Use descriptive labels in %s.", req.Language)
	}
	return fmt.Sprintf(`Detect and segment %s in this image. For each object, provide:
1. A precise 2D bounding box as [ymin, xmin, ymax, xmax] in 0-1000 pixel coordinates
2. A base64 encoded PNG segmentation mask showing the exact object shape
3. A descriptive text label%s

Output a JSON list where each entry contains:
- "box_2d": [ymin, xmin, ymax, xmax] coordinates
- "mask": base64 encoded PNG image of the segmentation mask
- "label": descriptive text label

IMPORTANT: The mask must be a valid base64 encoded PNG image showing the exact shape of the detected objects.`,
		req.TargetPrompt, languageInstruction)
}

func (segmentationSpec) Normalize(source Strategy, raws []model.RawDetection) ([]model.Detection, error) {
	masks, err := normalizeEach(raws, func(raw model.RawDetection) (model.SegmentationMask, error) {
		return normalizeSegmentation(raw, source)
	})
	if err != nil {
		return nil, err
	}
	sortByArea(masks)
	return toDetections(masks), nil
}

func (segmentationSpec) Annotations(dets []model.Detection) []Annotation { return boxAnnotations(dets) }

func (segmentationSpec) Decode(data []byte) ([]model.Detection, error) {
	return decodeAs[model.SegmentationMask](data)
}

type pointSpec struct{}

func (pointSpec) Structured() bool { return true }

func (pointSpec) Tool() *ToolDeclaration {
	return &ToolDeclaration{
		Name:        "detect_key_points",
		Description: "Detect key points or landmarks in an image",
		Parameters: detectionsSchema("List of detected key points",
			map[string]*Schema{"point": numberArray("Point coordinates as [y, x] in pixels (0-1000 scale)")},
			"point", "label"),
	}
}

func (pointSpec) ToolPrompt(req *DetectionRequest) string {
	return fmt.Sprintf("Analyze this image and detect key points for %s. You MUST use the detect_key_points function to return the results with point coordinates and descriptive labels. Call the function with your detections.",
		req.TargetPrompt)
}

func (pointSpec) FreeTextPrompt(req *DetectionRequest) string {
	return fmt.Sprintf("Detect %s and mark key points. Output a json list where each entry contains the point coordinates in \"point\" and a text label in \"label\".",
		req.TargetPrompt)
}

func (pointSpec) Normalize(_ Strategy, raws []model.RawDetection) ([]model.Detection, error) {
	points, err := normalizeEach(raws, normalizePoint)
	if err != nil {
		return nil, err
	}
	return toDetections(points), nil
}

func (pointSpec) Annotations(dets []model.Detection) []Annotation { return pointAnnotations(dets) }

func (pointSpec) Decode(data []byte) ([]model.Detection, error) { return decodeAs[model.Point](data) }

func isEnglish(language string) bool {
	return language == "" || strings.EqualFold(language, "english")
}
