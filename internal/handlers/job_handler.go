package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
	"github.com/ternarybob/courseforge/internal/services/jobs"
)

// maxPayloadBytes bounds a submitted job body
const maxPayloadBytes = 1 << 20

// JobHandler handles job submission, progress read-back and queue inspection
type JobHandler struct {
	jobs    JobService
	courses interfaces.CourseStorage
	queues  QueueInspector
	logger  arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService JobService, courses interfaces.CourseStorage, queues QueueInspector, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:    jobService,
		courses: courses,
		queues:  queues,
		logger:  logger,
	}
}

// SubmitJobHandler enqueues a job and returns its id without waiting
// POST /api/jobs/{family}
func (h *JobHandler) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	family, err := models.ParseJobFamily(PathID(r, "/api/jobs/"))
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}

	jobID, err := h.jobs.SubmitJSON(r.Context(), family, body)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidPayload) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("family", string(family)).Msg("Failed to submit job")
		WriteError(w, http.StatusInternalServerError, "Failed to submit job")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  jobID,
		"status": string(models.JobStatusPending),
	})
}

// GetJobHandler returns the current progress record for a job
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := PathID(r, "/api/jobs/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	progress, err := h.jobs.GetProgress(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrProgressNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job progress")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	WriteJSON(w, http.StatusOK, progress)
}

// ListJobsHandler returns the most recently updated jobs, optionally for one user
// GET /api/jobs?userId=u&limit=20
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	userID := r.URL.Query().Get("userId")
	list, err := h.jobs.ListProgress(r.Context(), userID, QueryInt(r, "limit", 20, 100))
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if list == nil {
		list = []*models.JobProgress{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetCourseHandler returns a course document
// GET /api/courses/{id}
func (h *JobHandler) GetCourseHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	courseID := PathID(r, "/api/courses/")
	if courseID == "" {
		WriteError(w, http.StatusBadRequest, "Course ID is required")
		return
	}

	course, err := h.courses.GetCourse(r.Context(), courseID)
	if err != nil {
		if errors.Is(err, interfaces.ErrCourseNotFound) {
			WriteError(w, http.StatusNotFound, "Course not found")
			return
		}
		h.logger.Error().Err(err).Str("course_id", courseID).Msg("Failed to get course")
		WriteError(w, http.StatusInternalServerError, "Failed to get course")
		return
	}

	WriteJSON(w, http.StatusOK, course)
}

// QueueStatsHandler returns depth and dead letter counts for every queue
// GET /api/queues
func (h *JobHandler) QueueStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.queues.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read queue stats")
		WriteError(w, http.StatusInternalServerError, "Failed to read queue stats")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"queues": stats,
	})
}
