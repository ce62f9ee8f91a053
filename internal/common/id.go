package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a job identifier. Job ids are plain UUIDs so callers
// may also supply their own.
func NewJobID() string {
	return uuid.New().String()
}

// NewCourseID generates a course identifier with the "course_" prefix
func NewCourseID() string {
	return "course_" + uuid.New().String()
}

// NewTopicID generates a topic identifier with the "topic_" prefix
func NewTopicID() string {
	return "topic_" + uuid.New().String()
}

// NewSubtopicID generates a subtopic identifier with the "sub_" prefix
func NewSubtopicID() string {
	return "sub_" + uuid.New().String()
}
