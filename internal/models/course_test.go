package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicRefreshStatus(t *testing.T) {
	topic := Topic{
		ID:        "t1",
		Content:   "intro",
		Thumbnail: "/images/t.png",
		Banner:    "/images/b.png",
		Subtopics: []Subtopic{
			{ID: "s1", Status: ItemStatusComplete},
			{ID: "s2", Status: ItemStatusIncomplete},
		},
	}

	topic.RefreshStatus()
	assert.Equal(t, ItemStatusIncomplete, topic.Status)
	assert.Equal(t, []string{"s2"}, topic.IncompleteSubtopics())

	topic.FindSubtopic("s2").Status = ItemStatusComplete
	topic.RefreshStatus()
	assert.Equal(t, ItemStatusComplete, topic.Status)
}

func TestCourseRefreshStatus(t *testing.T) {
	course := Course{Topics: []Topic{{ID: "a", Status: ItemStatusComplete}, {ID: "b"}}}
	course.RefreshStatus()
	assert.Equal(t, ItemStatusIncomplete, course.Status)
	assert.Equal(t, 1, course.CompletedTopics())

	course.FindTopic("b").Status = ItemStatusComplete
	course.RefreshStatus()
	assert.Equal(t, ItemStatusComplete, course.Status)
	assert.Nil(t, course.FindTopic("missing"))
}

func TestParseJobFamily(t *testing.T) {
	for _, f := range JobFamilies {
		got, err := ParseJobFamily(string(f))
		assert.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := ParseJobFamily("video")
	assert.Error(t, err)
}

func TestDecodePayload(t *testing.T) {
	payload, err := DecodePayload(JobFamilyTopic, []byte(`{"jobId":"j","courseId":"c","topicId":"t","mode":"full"}`))
	assert.NoError(t, err)
	topic, ok := payload.(*TopicPayload)
	assert.True(t, ok)
	assert.Equal(t, TopicModeFull, topic.Mode)
	assert.Equal(t, "j", topic.GetJobID())

	_, err = DecodePayload(JobFamilyImage, []byte(`{not json`))
	assert.Error(t, err)
}
