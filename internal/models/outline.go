package models

// CourseOutline is the structure the outline prompt asks the text model for
type CourseOutline struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Topics      []TopicOutline `json:"topics"`
}

// TopicOutline names one topic and its subtopics
type TopicOutline struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Subtopics   []string `json:"subtopics"`
}
