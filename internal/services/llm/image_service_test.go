package llm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/models"
	"google.golang.org/genai"
)

type fakeImagen struct {
	calls  []*genai.GenerateImagesConfig
	result []byte
	err    error
}

func (f *fakeImagen) GenerateImages(ctx context.Context, model string, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
	f.calls = append(f.calls, config)
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateImagesResponse{
		GeneratedImages: []*genai.GeneratedImage{
			{Image: &genai.Image{ImageBytes: f.result, MIMEType: "image/png"}},
		},
	}, nil
}

func newTestImageService(t *testing.T, fake *fakeImagen) (*ImageService, string) {
	t.Helper()
	config := common.NewDefaultConfig()
	config.Gemini.RateLimit = ""
	config.Storage.Filesystem.Images = t.TempDir()

	service := &ImageService{
		geminiConfig: &config.Gemini,
		fsConfig:     &config.Storage.Filesystem,
		logger:       arbor.NewLogger(),
		limiter:      newLimiter(""),
		client: func(ctx context.Context) (imagenClient, error) {
			return fake, nil
		},
	}
	return service, config.Storage.Filesystem.Images
}

func TestImageService_WritesFileAndReturnsURL(t *testing.T) {
	fake := &fakeImagen{result: []byte("png-bytes")}
	service, dir := newTestImageService(t, fake)

	url, err := service.GenerateImage(context.Background(), "course_1", "a lighthouse", models.ImageSizeBanner)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(url, "/images/course_1/banner-"), url)
	assert.True(t, strings.HasSuffix(url, ".png"), url)

	data, err := os.ReadFile(filepath.Join(dir, "course_1", filepath.Base(url)))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	require.Len(t, fake.calls, 1)
	assert.Equal(t, "16:9", fake.calls[0].AspectRatio)
}

func TestImageService_SharedDirWithoutCourse(t *testing.T) {
	service, _ := newTestImageService(t, &fakeImagen{result: []byte("x")})

	url, err := service.GenerateImage(context.Background(), "", "icon", models.ImageSizeThumbnail)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/images/shared/thumbnail-"), url)
}

func TestImageService_PropagatesModelError(t *testing.T) {
	service, _ := newTestImageService(t, &fakeImagen{err: errors.New("RESOURCE_EXHAUSTED")})

	_, err := service.GenerateImage(context.Background(), "c", "p", models.ImageSizeThumbnail)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE_EXHAUSTED")
}

func TestImageService_RejectsEmptyResponse(t *testing.T) {
	service, _ := newTestImageService(t, &fakeImagen{})

	_, err := service.GenerateImage(context.Background(), "c", "p", models.ImageSizeThumbnail)
	assert.Error(t, err)
}
