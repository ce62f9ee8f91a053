package models

import (
	"time"
)

// ItemStatus marks whether a course unit has all of its generated parts
type ItemStatus string

const (
	ItemStatusIncomplete ItemStatus = "incomplete"
	ItemStatusComplete   ItemStatus = "complete"
)

// Course is the generated course document
type Course struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Prompt      string     `json:"prompt,omitempty"`
	Level       string     `json:"level,omitempty"`
	Language    string     `json:"language,omitempty"`
	Thumbnail   string     `json:"thumbnail,omitempty"`
	Banner      string     `json:"banner,omitempty"`
	Topics      []Topic    `json:"topics"`
	Status      ItemStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Topic is one section of a course
type Topic struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Content     string     `json:"content,omitempty"`
	Thumbnail   string     `json:"thumbnail,omitempty"`
	Banner      string     `json:"banner,omitempty"`
	Subtopics   []Subtopic `json:"subtopics"`
	Status      ItemStatus `json:"status"`
}

// Subtopic is one lesson inside a topic
type Subtopic struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content,omitempty"`
	Thumbnail string     `json:"thumbnail,omitempty"`
	Banner    string     `json:"banner,omitempty"`
	Status    ItemStatus `json:"status"`
}

// FindTopic returns the topic with id, or nil
func (c *Course) FindTopic(id string) *Topic {
	for i := range c.Topics {
		if c.Topics[i].ID == id {
			return &c.Topics[i]
		}
	}
	return nil
}

// CompletedTopics counts topics marked complete
func (c *Course) CompletedTopics() int {
	n := 0
	for i := range c.Topics {
		if c.Topics[i].Status == ItemStatusComplete {
			n++
		}
	}
	return n
}

// RefreshStatus marks the course complete once every topic is complete
func (c *Course) RefreshStatus() {
	if len(c.Topics) > 0 && c.CompletedTopics() == len(c.Topics) {
		c.Status = ItemStatusComplete
		return
	}
	c.Status = ItemStatusIncomplete
}

// FindSubtopic returns the subtopic with id, or nil
func (t *Topic) FindSubtopic(id string) *Subtopic {
	for i := range t.Subtopics {
		if t.Subtopics[i].ID == id {
			return &t.Subtopics[i]
		}
	}
	return nil
}

// HasOwnParts reports whether the topic's content and both images exist
func (t *Topic) HasOwnParts() bool {
	return t.Content != "" && t.Thumbnail != "" && t.Banner != ""
}

// IncompleteSubtopics returns the ids of subtopics not yet complete
func (t *Topic) IncompleteSubtopics() []string {
	var ids []string
	for i := range t.Subtopics {
		if t.Subtopics[i].Status != ItemStatusComplete {
			ids = append(ids, t.Subtopics[i].ID)
		}
	}
	return ids
}

// RefreshStatus marks the topic complete when its own parts exist and every
// subtopic is complete
func (t *Topic) RefreshStatus() {
	if t.HasOwnParts() && len(t.IncompleteSubtopics()) == 0 {
		t.Status = ItemStatusComplete
		return
	}
	t.Status = ItemStatusIncomplete
}

// IsGenerated reports whether content and both images exist
func (s *Subtopic) IsGenerated() bool {
	return s.Content != "" && s.Thumbnail != "" && s.Banner != ""
}

// RefreshStatus marks the subtopic complete when all parts exist
func (s *Subtopic) RefreshStatus() {
	if s.IsGenerated() {
		s.Status = ItemStatusComplete
		return
	}
	s.Status = ItemStatusIncomplete
}
