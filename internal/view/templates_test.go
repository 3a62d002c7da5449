package view

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineParsesPages(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)
	require.NotNil(t, engine)
}

func TestRenderHomeIncludesActivityScript(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	err = engine.Render(rec, 200, PageHome, TemplateData{
		Title:          "Strategy dashboard",
		ActivityEvents: "mousedown,keypress",
		Data:           map[string]any{"RoleName": "Manager", "Grants": []string{"goals.view"}},
	})
	require.NoError(t, err)
	body := rec.Body.String()
	assert.Contains(t, body, `data-activity-events="mousedown,keypress"`)
	assert.Contains(t, body, "/static/js/activity.js")
	assert.Contains(t, body, "goals.view")
}

func TestRenderLoginOmitsActivityScript(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, engine.Render(rec, 200, PageLogin, TemplateData{Title: "Sign in", Data: map[string]any{"From": "/"}}))
	assert.NotContains(t, rec.Body.String(), "activity.js")
}
