package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/models"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// sharedImageDir holds images that do not belong to a course
const sharedImageDir = "shared"

// imagenClient is the subset of genai.Models used for image generation
type imagenClient interface {
	GenerateImages(ctx context.Context, model string, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// ImageService generates images with Imagen, writes them under the images
// directory and returns the URL path they are served from.
type ImageService struct {
	geminiConfig *common.GeminiConfig
	fsConfig     *common.FilesystemConfig
	logger       arbor.ILogger
	limiter      *rate.Limiter
	client       func(ctx context.Context) (imagenClient, error)
}

// NewImageService creates an image service sharing the factory's Gemini client
func NewImageService(
	factory *ProviderFactory,
	geminiConfig *common.GeminiConfig,
	fsConfig *common.FilesystemConfig,
	logger arbor.ILogger,
) *ImageService {
	return &ImageService{
		geminiConfig: geminiConfig,
		fsConfig:     fsConfig,
		logger:       logger,
		limiter:      newLimiter(geminiConfig.RateLimit),
		client: func(ctx context.Context) (imagenClient, error) {
			client, err := factory.GetGeminiClient(ctx)
			if err != nil {
				return nil, err
			}
			return client.Models, nil
		},
	}
}

// GenerateImage renders prompt at the size class's aspect ratio and stores it
func (s *ImageService) GenerateImage(ctx context.Context, courseID, prompt string, size models.ImageSize) (string, error) {
	client, err := s.client(ctx)
	if err != nil {
		return "", err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, common.ParseDuration(s.geminiConfig.Timeout, 5*time.Minute))
	defer cancel()

	resp, err := client.GenerateImages(callCtx, s.geminiConfig.ImageModel, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    size.AspectRatio(),
	})
	if err != nil {
		return "", fmt.Errorf("image generation failed: %w", err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return "", fmt.Errorf("empty response from image model")
	}

	image := resp.GeneratedImages[0].Image
	if len(image.ImageBytes) == 0 {
		return "", fmt.Errorf("image model returned no bytes")
	}

	url, err := s.store(courseID, size, image.MIMEType, image.ImageBytes)
	if err != nil {
		return "", err
	}

	s.logger.Debug().
		Str("course_id", courseID).
		Str("size", string(size)).
		Int("bytes", len(image.ImageBytes)).
		Str("url", url).
		Msg("Image generated")

	return url, nil
}

// store writes data under <images>/<course>/ using a content hash as the
// file name, so regenerating identical bytes reuses the same URL.
func (s *ImageService) store(courseID string, size models.ImageSize, mimeType string, data []byte) (string, error) {
	dir := courseID
	if dir == "" {
		dir = sharedImageDir
	}

	sum := sha256.Sum256(data)
	name := fmt.Sprintf("%s-%s%s", size, hex.EncodeToString(sum[:8]), extensionFor(mimeType))

	target := filepath.Join(s.fsConfig.Images, dir)
	if err := os.MkdirAll(target, 0755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(target, name), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}

	return path.Join(s.fsConfig.ImagesURL, dir, name), nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
