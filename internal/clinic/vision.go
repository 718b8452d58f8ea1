package clinic

import (
	"context"
	"fmt"
	"strings"

	"github.com/DineshTeja/aria/internal/llm"
)

// ImageAnalyst describes a submitted photo in medical terms.
type ImageAnalyst struct {
	llm    llm.Client
	models Models
}

// NewImageAnalyst constructs an ImageAnalyst.
func NewImageAnalyst(client llm.Client, models Models) *ImageAnalyst {
	return &ImageAnalyst{llm: client, models: models}
}

// Describe analyzes the data-URL encoded image and returns the description.
func (a *ImageAnalyst) Describe(ctx context.Context, imageDataURL string) (string, error) {
	if !strings.HasPrefix(imageDataURL, "data:image/") {
		return "", fmt.Errorf("image analysis: input is not a data-URL encoded image")
	}
	out, err := a.llm.DescribeImage(ctx, a.models.Vision, visionInstruction, imageDataURL)
	if err != nil {
		return "", fmt.Errorf("image analysis: %w", err)
	}
	return out, nil
}
