package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedTemplatesRender(t *testing.T) {
	names, err := ListEmbeddedTemplates()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{CourseOutline, TopicContent, SubtopicContent, ImagePrompt}, names)

	tmpl, err := GetTemplate(CourseOutline, "")
	require.NoError(t, err)
	assert.NotEmpty(t, tmpl.System)

	out, err := tmpl.Render(map[string]interface{}{
		"Title":             "Go Concurrency",
		"NumTopics":         3,
		"SubtopicsPerTopic": 2,
	})
	require.NoError(t, err)
	assert.Contains(t, out, `"Go Concurrency"`)
	assert.Contains(t, out, "exactly 3 topics")
	assert.NotContains(t, out, "Target level")
}

func TestUserOverrideWins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ImagePrompt+".toml"), []byte(`prompt = "custom {{.Subject}}"`), 0644))

	tmpl, err := GetTemplate(ImagePrompt, dir)
	require.NoError(t, err)
	out, err := tmpl.Render(map[string]interface{}{"Subject": "maps"})
	require.NoError(t, err)
	assert.Equal(t, "custom maps", out)

	// Names without an override fall back to the embedded copy
	_, err = GetTemplate(TopicContent, dir)
	assert.NoError(t, err)
}

func TestMissingTemplate(t *testing.T) {
	_, err := GetTemplate("nope", t.TempDir())
	assert.Error(t, err)
}
