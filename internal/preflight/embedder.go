package preflight

import (
	"context"
	"fmt"
)

// CheckTextEmbedder probes the text backend. Text search cannot work
// without it.
func (c *Checker) CheckTextEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{Name: "text_embedder", Required: true}
	if c.text == nil {
		result.Status = StatusFail
		result.Message = "not configured"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result.Details = fmt.Sprintf("model: %s", c.text.ModelName())
	if !c.text.Available(ctx) {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is not reachable", c.text.ModelName())
		return result
	}
	result.Status = StatusPass
	result.Message = c.text.ModelName()
	if dims := c.text.Dimensions(); dims > 0 {
		result.Message = fmt.Sprintf("%s (%d dims)", c.text.ModelName(), dims)
	}
	return result
}

// CheckVisionEmbedder probes the vision backend. Without it indexing and
// search continue text-only, so the check never fails hard.
func (c *Checker) CheckVisionEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{Name: "vision_embedder", Required: false}
	if c.vision == nil {
		result.Status = StatusWarn
		result.Message = "disabled, page images will not be indexed"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result.Details = fmt.Sprintf("model: %s", c.vision.ModelName())
	if !c.vision.Available(ctx) {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s is not reachable, continuing text-only", c.vision.ModelName())
		return result
	}
	result.Status = StatusPass
	result.Message = c.vision.ModelName()
	return result
}
