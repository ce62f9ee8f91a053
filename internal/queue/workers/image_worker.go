// -----------------------------------------------------------------------
// Image Worker - Generates and stores one image
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
	"github.com/ternarybob/courseforge/internal/queue"
)

// ImageWorker handles image generation jobs. It never waits on other
// queues, so course jobs can block on it safely.
type ImageWorker struct {
	images interfaces.ImageGenerator
	logger arbor.ILogger
}

// NewImageWorker creates an image worker
func NewImageWorker(images interfaces.ImageGenerator, logger arbor.ILogger) *ImageWorker {
	return &ImageWorker{
		images: images,
		logger: logger,
	}
}

func (w *ImageWorker) Family() models.JobFamily {
	return models.JobFamilyImage
}

func (w *ImageWorker) Process(ctx context.Context, job *queue.Job, progress *Progress) (interface{}, error) {
	var payload models.ImagePayload
	if err := job.Decode(&payload); err != nil {
		return nil, stageErr("initialize", err)
	}

	progress.Step(ctx, 10, "Initializing", "")
	progress.Step(ctx, 30, "Generating image", fmt.Sprintf("Generating %s image", payload.Size))

	url, err := w.images.GenerateImage(ctx, payload.CourseID, payload.Prompt, payload.Size)
	if err != nil {
		return nil, stageErr("image", err)
	}

	progress.Step(ctx, 95, "Finalizing image", url)
	return models.ImageResult{URL: url, Size: payload.Size}, nil
}
