package models

import (
	"encoding/json"
	"fmt"
)

// JobFamily names one queue and its processor
type JobFamily string

const (
	JobFamilyCourse   JobFamily = "course"
	JobFamilyTopic    JobFamily = "topic"
	JobFamilySubtopic JobFamily = "subtopic"
	JobFamilyImage    JobFamily = "image"
)

// JobFamilies lists every family in queue start order. Image comes first so
// child jobs always have a running consumer before a parent can wait on one.
var JobFamilies = []JobFamily{JobFamilyImage, JobFamilySubtopic, JobFamilyTopic, JobFamilyCourse}

// ParseJobFamily validates a family name from an external caller
func ParseJobFamily(s string) (JobFamily, error) {
	switch f := JobFamily(s); f {
	case JobFamilyCourse, JobFamilyTopic, JobFamilySubtopic, JobFamilyImage:
		return f, nil
	}
	return "", fmt.Errorf("unknown job family: %q", s)
}

// JobPayload is the typed body of a queued job
type JobPayload interface {
	Family() JobFamily
	GetJobID() string
	SetJobID(id string)
	// Owner returns the user id recorded on the seeded progress record
	Owner() string
}

// TopicMode selects how much of a topic a topic job generates
type TopicMode string

const (
	// TopicModeOverview generates the topic's own content and images only
	TopicModeOverview TopicMode = "overview"
	// TopicModeFull additionally generates every incomplete subtopic
	TopicModeFull TopicMode = "full"
)

// ImageSize is the size class of a generated image
type ImageSize string

const (
	ImageSizeThumbnail ImageSize = "thumbnail"
	ImageSizeBanner    ImageSize = "banner"
)

// AspectRatio maps a size class to the generator's aspect ratio
func (s ImageSize) AspectRatio() string {
	if s == ImageSizeBanner {
		return "16:9"
	}
	return "1:1"
}

// CourseParams are the user's course creation parameters
type CourseParams struct {
	Title     string `json:"title" validate:"required,max=200"`
	Prompt    string `json:"prompt,omitempty" validate:"max=4000"`
	NumTopics int    `json:"numTopics" validate:"min=1,max=50"`
	Level     string `json:"level,omitempty" validate:"omitempty,oneof=beginner intermediate advanced"`
	Language  string `json:"language,omitempty"`
}

// CoursePayload requests generation of a whole course
type CoursePayload struct {
	JobID    string       `json:"jobId"`
	UserID   string       `json:"userId" validate:"required"`
	CourseID string       `json:"courseId,omitempty"`
	Params   CourseParams `json:"params"`
}

func (p *CoursePayload) Family() JobFamily  { return JobFamilyCourse }
func (p *CoursePayload) GetJobID() string   { return p.JobID }
func (p *CoursePayload) SetJobID(id string) { p.JobID = id }
func (p *CoursePayload) Owner() string      { return p.UserID }

// TopicPayload requests generation of one topic
type TopicPayload struct {
	JobID    string    `json:"jobId"`
	UserID   string    `json:"userId,omitempty"`
	CourseID string    `json:"courseId" validate:"required"`
	TopicID  string    `json:"topicId" validate:"required"`
	Mode     TopicMode `json:"mode,omitempty" validate:"omitempty,oneof=overview full"`
}

func (p *TopicPayload) Family() JobFamily  { return JobFamilyTopic }
func (p *TopicPayload) GetJobID() string   { return p.JobID }
func (p *TopicPayload) SetJobID(id string) { p.JobID = id }
func (p *TopicPayload) Owner() string      { return p.UserID }

// SubtopicPayload requests generation of one subtopic
type SubtopicPayload struct {
	JobID      string `json:"jobId"`
	UserID     string `json:"userId,omitempty"`
	CourseID   string `json:"courseId" validate:"required"`
	TopicID    string `json:"topicId" validate:"required"`
	SubtopicID string `json:"subtopicId" validate:"required"`
}

func (p *SubtopicPayload) Family() JobFamily  { return JobFamilySubtopic }
func (p *SubtopicPayload) GetJobID() string   { return p.JobID }
func (p *SubtopicPayload) SetJobID(id string) { p.JobID = id }
func (p *SubtopicPayload) Owner() string      { return p.UserID }

// ImagePayload requests one generated and stored image
type ImagePayload struct {
	JobID    string    `json:"jobId"`
	UserID   string    `json:"userId,omitempty"`
	Prompt   string    `json:"prompt" validate:"required"`
	Size     ImageSize `json:"size" validate:"required,oneof=thumbnail banner"`
	CourseID string    `json:"courseId,omitempty"`
}

func (p *ImagePayload) Family() JobFamily  { return JobFamilyImage }
func (p *ImagePayload) GetJobID() string   { return p.JobID }
func (p *ImagePayload) SetJobID(id string) { p.JobID = id }
func (p *ImagePayload) Owner() string      { return p.UserID }

// NewPayload returns an empty payload for family, ready to be decoded into
func NewPayload(family JobFamily) (JobPayload, error) {
	switch family {
	case JobFamilyCourse:
		return &CoursePayload{}, nil
	case JobFamilyTopic:
		return &TopicPayload{}, nil
	case JobFamilySubtopic:
		return &SubtopicPayload{}, nil
	case JobFamilyImage:
		return &ImagePayload{}, nil
	}
	return nil, fmt.Errorf("unknown job family: %q", family)
}

// DecodePayload decodes raw JSON into the payload type for family
func DecodePayload(family JobFamily, raw json.RawMessage) (JobPayload, error) {
	payload, err := NewPayload(family)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", family, err)
	}
	return payload, nil
}

// ImageResult is the result recorded by an image job
type ImageResult struct {
	URL  string    `json:"url"`
	Size ImageSize `json:"size"`
}
