package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Jwuthri/spacial-limit/config"
	"github.com/Jwuthri/spacial-limit/model"
	"github.com/stretchr/testify/require"
)

// fakeVisionModel 按调用顺序返回预设结果，并记录请求
type fakeVisionModel struct {
	mu        sync.Mutex
	responses []fakeReply
	requests  []*GenerateRequest
}

type fakeReply struct {
	resp *GenerateResponse
	err  error
}

func (f *fakeVisionModel) Generate(_ context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return nil, errors.New("unexpected call")
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r.resp, r.err
}

func (f *fakeVisionModel) structuredCalls() int {
	n := 0
	for _, r := range f.requests {
		if r.Tool != nil {
			n++
		}
	}
	return n
}

func toolReply(args string) fakeReply {
	return fakeReply{resp: &GenerateResponse{Candidates: []Candidate{{
		FunctionCalls: []FunctionCall{{Name: "tool", Args: json.RawMessage(args)}},
	}}}}
}

func textReply(text string) fakeReply {
	return fakeReply{resp: &GenerateResponse{Candidates: []Candidate{{Text: text}}}}
}

func newTestDetector(vm VisionModel) *DetectorService {
	policies := NewModelPolicies(config.ModelsConfig{Default: "gemini-2.5-flash", Box3D: "gemini-2.0-flash"})
	return NewDetectorService(vm, policies, &config.VisionConfig{Timeout: time.Second, MaxConcurrent: 2, QueueTimeout: 1})
}

func box2DRequest() *DetectionRequest {
	return &DetectionRequest{
		Image:        []byte("png"),
		Mode:         model.ModeBox2D,
		TargetPrompt: "items",
		Language:     "English",
		Temperature:  0.4,
	}
}

func TestDetect_StructuredSuccess(t *testing.T) {
	vm := &fakeVisionModel{responses: []fakeReply{
		toolReply(`{"detections":[{"box_2d":[100,200,400,600],"label":"cup"}]}`),
	}}

	res, err := newTestDetector(vm).Detect(context.Background(), box2DRequest())
	require.NoError(t, err)
	require.Equal(t, StrategyStructured, res.Strategy)
	require.Equal(t, "gemini-2.5-flash", res.Model)
	require.Len(t, res.Detections, 1)
	require.Len(t, vm.requests, 1)
	require.Equal(t, "detect_2d_bounding_boxes", vm.requests[0].Tool.Name)
	require.NotNil(t, vm.requests[0].ThinkingBudget)
	require.Equal(t, int32(0), *vm.requests[0].ThinkingBudget)
}

func TestDetect_FallbackRunsOnce(t *testing.T) {
	failures := map[string]fakeReply{
		"transport error":  {err: errors.New("connection reset")},
		"no candidates":    {resp: &GenerateResponse{}},
		"no function call": textReply("I found a cup"),
		"bad arguments":    toolReply(`{"detections":"nope"}`),
		"malformed item":   toolReply(`{"detections":[{"box_2d":[1,2],"label":"cup"}]}`),
	}

	for name, failure := range failures {
		t.Run(name, func(t *testing.T) {
			vm := &fakeVisionModel{responses: []fakeReply{
				failure,
				textReply("```json\n[{\"box_2d\":[0,0,500,500],\"label\":\"cup\"}]\n```"),
			}}

			req := box2DRequest()
			res, err := newTestDetector(vm).Detect(context.Background(), req)
			require.NoError(t, err)
			require.Equal(t, StrategyFreeText, res.Strategy)
			require.Len(t, res.Detections, 1)

			require.Len(t, vm.requests, 2)
			require.Equal(t, 1, vm.structuredCalls())
			require.Nil(t, vm.requests[1].Tool)
			require.Equal(t, req.Image, vm.requests[1].Image)
			require.Equal(t, req.Temperature, vm.requests[1].Temperature)
			require.Equal(t, vm.requests[0].Model, vm.requests[1].Model)
		})
	}
}

func TestDetect_FreeTextFailureIsTerminal(t *testing.T) {
	vm := &fakeVisionModel{responses: []fakeReply{
		{err: errors.New("boom")},
		textReply("not json at all"),
	}}

	res, err := newTestDetector(vm).Detect(context.Background(), box2DRequest())
	require.Nil(t, res)
	require.ErrorIs(t, err, ErrParse)

	var failure *DetectionFailure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, StrategyFreeText, failure.Strategy)
	require.Equal(t, "gemini-2.5-flash", failure.Model)
	require.Len(t, vm.requests, 2)
	require.Equal(t, 1, vm.structuredCalls())
}

func TestDetect_FreeTextTransportError(t *testing.T) {
	vm := &fakeVisionModel{responses: []fakeReply{
		{err: errors.New("boom")},
		{err: errors.New("still down")},
	}}

	_, err := newTestDetector(vm).Detect(context.Background(), box2DRequest())
	require.ErrorIs(t, err, ErrTransport)
	require.Len(t, vm.requests, 2)
}

func TestDetect_FreeTextNullIsParseError(t *testing.T) {
	vm := &fakeVisionModel{responses: []fakeReply{
		{err: errors.New("boom")},
		textReply("```json\nnull\n```"),
	}}

	_, err := newTestDetector(vm).Detect(context.Background(), box2DRequest())
	require.ErrorIs(t, err, ErrParse)
}

// hangingVisionModel 函数调用一直等到超时，文本请求在 ctx 有效时正常返回
type hangingVisionModel struct {
	mu       sync.Mutex
	textErrs []error
}

func (h *hangingVisionModel) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if req.Tool != nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	h.mu.Lock()
	h.textErrs = append(h.textErrs, ctx.Err())
	h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return textReply(`[{"box_2d":[0,0,500,500],"label":"cup"}]`).resp, nil
}

func TestDetect_FallbackGetsOwnDeadline(t *testing.T) {
	vm := &hangingVisionModel{}
	policies := NewModelPolicies(config.ModelsConfig{Default: "gemini-2.5-flash", Box3D: "gemini-2.0-flash"})
	detector := NewDetectorService(vm, policies, &config.VisionConfig{Timeout: 50 * time.Millisecond, MaxConcurrent: 1})

	res, err := detector.Detect(context.Background(), box2DRequest())
	require.NoError(t, err)
	require.Equal(t, StrategyFreeText, res.Strategy)
	require.Len(t, res.Detections, 1)
	require.Equal(t, []error{nil}, vm.textErrs)
}

func TestDetect_QueueFull(t *testing.T) {
	vm := &fakeVisionModel{responses: []fakeReply{toolReply(`{"detections":[]}`)}}
	policies := NewModelPolicies(config.ModelsConfig{Default: "gemini-2.5-flash", Box3D: "gemini-2.0-flash"})
	detector := NewDetectorService(vm, policies, &config.VisionConfig{Timeout: time.Second, MaxConcurrent: 1})
	detector.queueTimeout = 20 * time.Millisecond

	detector.semaphore <- struct{}{}
	_, err := detector.Detect(context.Background(), box2DRequest())
	require.ErrorIs(t, err, ErrBusy)
	require.Empty(t, vm.requests)

	detector.release()
	res, err := detector.Detect(context.Background(), box2DRequest())
	require.NoError(t, err)
	require.Equal(t, StrategyStructured, res.Strategy)
	require.Len(t, detector.semaphore, 0)
}

func TestDetect_SegmentationSkipsStructured(t *testing.T) {
	vm := &fakeVisionModel{responses: []fakeReply{
		textReply(`[{"box_2d":[0,0,100,100],"mask":"abc","label":"cat"}]`),
	}}

	req := box2DRequest()
	req.Mode = model.ModeSegmentation
	res, err := newTestDetector(vm).Detect(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StrategyFreeText, res.Strategy)
	require.Equal(t, 0, vm.structuredCalls())
	require.Len(t, vm.requests, 1)

	mask := res.Detections[0].(model.SegmentationMask)
	require.Equal(t, "abc", *mask.ImageData)
}

func TestDetect_ZeroDetections(t *testing.T) {
	vm := &fakeVisionModel{responses: []fakeReply{toolReply(`{"detections":[]}`)}}

	res, err := newTestDetector(vm).Detect(context.Background(), box2DRequest())
	require.NoError(t, err)
	require.NotNil(t, res.Detections)
	require.Empty(t, res.Detections)
}

func TestDetect_MissingDetectionsArgument(t *testing.T) {
	vm := &fakeVisionModel{responses: []fakeReply{toolReply(`{}`)}}

	res, err := newTestDetector(vm).Detect(context.Background(), box2DRequest())
	require.NoError(t, err)
	require.Equal(t, StrategyStructured, res.Strategy)
	require.Empty(t, res.Detections)
}

func TestDetect_Box3DPolicy(t *testing.T) {
	vm := &fakeVisionModel{responses: []fakeReply{
		toolReply(`{"detections":[{"box_3d":[0,0,1,1,1,1,0,0,90],"label":"box"}]}`),
	}}

	req := box2DRequest()
	req.Mode = model.ModeBox3D
	res, err := newTestDetector(vm).Detect(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "gemini-2.0-flash", res.Model)
	require.Equal(t, "gemini-2.0-flash", vm.requests[0].Model)
	require.Nil(t, vm.requests[0].ThinkingBudget)
}

func TestDetect_UnknownMode(t *testing.T) {
	vm := &fakeVisionModel{}

	req := box2DRequest()
	req.Mode = "Polygons"
	_, err := newTestDetector(vm).Detect(context.Background(), req)
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, vm.requests)
}

func TestExtractJSONText(t *testing.T) {
	require.Equal(t, "[1]", extractJSONText("[1]"))
	require.Equal(t, "\n[1]\n", extractJSONText("here:\n```json\n[1]\n```\nand ```json\n[2]\n```"))
	require.Equal(t, "\n[1]", extractJSONText("```json\n[1]"))
}

func TestDecodeFunctionArgs(t *testing.T) {
	raws, err := decodeFunctionArgs(json.RawMessage(`{"detections":[{"point":[1,2],"label":"a","confidence":0.5}]}`))
	require.NoError(t, err)
	require.Len(t, raws, 1)
	require.Equal(t, []float64{1, 2}, raws[0].Point)
	require.Equal(t, 0.5, *raws[0].Confidence)

	raws, err = decodeFunctionArgs(nil)
	require.NoError(t, err)
	require.Empty(t, raws)

	_, err = decodeFunctionArgs(json.RawMessage(`[]`))
	require.ErrorIs(t, err, ErrExtraction)
}

func TestFirstFunctionCall(t *testing.T) {
	_, err := firstFunctionCall(nil)
	require.ErrorIs(t, err, ErrExtraction)

	_, err = firstFunctionCall(&GenerateResponse{Candidates: []Candidate{{Text: "hi"}}})
	require.ErrorIs(t, err, ErrExtraction)

	call, err := firstFunctionCall(&GenerateResponse{Candidates: []Candidate{{
		FunctionCalls: []FunctionCall{{Name: "first"}, {Name: "second"}},
	}}})
	require.NoError(t, err)
	require.Equal(t, "first", call.Name)
}
