package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
	"github.com/ternarybob/courseforge/internal/templates"
	"github.com/tidwall/gjson"
)

// Generator builds prompts from templates, calls the text model and cleans
// up what comes back
type Generator struct {
	text   interfaces.TextGenerator
	config *common.GenerationConfig
	logger arbor.ILogger
}

// NewGenerator creates a content generator on top of a text model
func NewGenerator(text interfaces.TextGenerator, config *common.GenerationConfig, logger arbor.ILogger) *Generator {
	return &Generator{
		text:   text,
		config: config,
		logger: logger,
	}
}

type outlineData struct {
	models.CourseParams
	SubtopicsPerTopic int
}

type unitData struct {
	Course   *models.Course
	Topic    *models.Topic
	Subtopic *models.Subtopic
}

// GenerateOutline asks for the course outline and repairs the JSON reply.
// Extra topics are dropped; too few topics is an error so the job retries.
func (g *Generator) GenerateOutline(ctx context.Context, params models.CourseParams) (*models.CourseOutline, error) {
	raw, err := g.complete(ctx, templates.CourseOutline, outlineData{
		CourseParams:      params,
		SubtopicsPerTopic: g.config.SubtopicsPerTopic,
	})
	if err != nil {
		return nil, err
	}

	doc, err := ParseLenientJSON(raw)
	if err != nil {
		g.logger.Warn().Int("response_length", len(raw)).Msg("Outline response could not be repaired")
		return nil, fmt.Errorf("failed to parse outline: %w", err)
	}

	outline := outlineFromJSON(doc)
	if outline.Title == "" {
		outline.Title = params.Title
	}
	if len(outline.Topics) < params.NumTopics {
		return nil, fmt.Errorf("outline has %d topics, expected %d", len(outline.Topics), params.NumTopics)
	}
	outline.Topics = outline.Topics[:params.NumTopics]

	return outline, nil
}

// GenerateTopicContent writes the overview for topic
func (g *Generator) GenerateTopicContent(ctx context.Context, course *models.Course, topic *models.Topic) (string, error) {
	return g.completeText(ctx, templates.TopicContent, unitData{Course: course, Topic: topic})
}

// GenerateSubtopicContent writes the lesson for subtopic
func (g *Generator) GenerateSubtopicContent(ctx context.Context, course *models.Course, topic *models.Topic, subtopic *models.Subtopic) (string, error) {
	return g.completeText(ctx, templates.SubtopicContent, unitData{Course: course, Topic: topic, Subtopic: subtopic})
}

func (g *Generator) completeText(ctx context.Context, name string, data interface{}) (string, error) {
	raw, err := g.complete(ctx, name, data)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("text model returned empty %s", name)
	}
	return text, nil
}

func (g *Generator) complete(ctx context.Context, name string, data interface{}) (string, error) {
	tmpl, err := templates.GetTemplate(name, g.config.TemplatesDir)
	if err != nil {
		return "", err
	}

	prompt, err := tmpl.Render(data)
	if err != nil {
		return "", err
	}

	var messages []interfaces.Message
	if tmpl.System != "" {
		messages = append(messages, interfaces.Message{Role: "system", Content: tmpl.System})
	}
	messages = append(messages, interfaces.Message{Role: "user", Content: prompt})

	raw, err := g.text.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%s generation failed: %w", name, err)
	}
	return raw, nil
}

// outlineFromJSON reads the outline leniently: subtopics may be plain
// strings or objects with a title, and topics without a title are skipped.
func outlineFromJSON(doc gjson.Result) *models.CourseOutline {
	outline := &models.CourseOutline{
		Title:       strings.TrimSpace(doc.Get("title").String()),
		Description: strings.TrimSpace(doc.Get("description").String()),
	}

	topics := doc.Get("topics")
	if !topics.Exists() && doc.IsArray() {
		topics = doc
	}

	for _, t := range topics.Array() {
		title := strings.TrimSpace(t.Get("title").String())
		if title == "" {
			continue
		}

		topic := models.TopicOutline{
			Title:       title,
			Description: strings.TrimSpace(t.Get("description").String()),
		}
		for _, s := range t.Get("subtopics").Array() {
			name := s.String()
			if s.IsObject() {
				name = s.Get("title").String()
			}
			if name = strings.TrimSpace(name); name != "" {
				topic.Subtopics = append(topic.Subtopics, name)
			}
		}
		outline.Topics = append(outline.Topics, topic)
	}

	return outline
}

// ImagePrompt renders the image prompt for a course unit
func ImagePrompt(templatesDir, courseTitle, subject string, size models.ImageSize) (string, error) {
	tmpl, err := templates.GetTemplate(templates.ImagePrompt, templatesDir)
	if err != nil {
		return "", err
	}
	return tmpl.Render(struct {
		CourseTitle string
		Subject     string
		Size        string
	}{courseTitle, subject, string(size)})
}
