package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowgoose/snowgoose/internal/schema"
)

func TestSaveAndLoad_PreservesBlocks(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	s := m.GetOrCreate("cli:weather")
	s.ModelID = 3
	s.AddTurn(schema.NewUserMessage("Weather in Paris?"), schema.ChatResponse{
		Role: schema.RoleAssistant,
		Content: []schema.ContentBlock{
			schema.ThinkingBlock("Check the forecast.", "anthropic:sig-1"),
			schema.TextBlock("Sunny, 22C."),
		},
		ResponseID: "resp_1",
	})
	require.NoError(t, m.Save(s))

	fresh, err := NewManager(dir)
	require.NoError(t, err)
	got := fresh.GetOrCreate("cli:weather")

	require.Equal(t, 2, got.Len())
	assert.Equal(t, int64(3), got.ModelID)
	assert.Equal(t, "resp_1", got.LastResponseID)
	assert.Equal(t, "Weather in Paris?", got.History[0].VisibleText())

	blocks := got.History[1].Blocks()
	require.Len(t, blocks, 2)
	assert.Equal(t, "anthropic:sig-1", blocks[0].Signature)
	assert.Equal(t, "Sunny, 22C.", blocks[1].Text)
}

func TestGetOrCreate_Cached(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	assert.Same(t, m.GetOrCreate("a"), m.GetOrCreate("a"))
}

func TestList_NewestFirst(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	old := m.GetOrCreate("old")
	old.UpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, m.Save(old))
	require.NoError(t, m.Save(m.GetOrCreate("new")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.jsonl"), []byte("not json\n"), 0o600))

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].Key)
	assert.Equal(t, "old", list[1].Key)
}

func TestDeleteAndClear(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	s := m.GetOrCreate("x/y")
	s.AddTurn(schema.NewUserMessage("hi"), schema.ChatResponse{Content: []schema.ContentBlock{schema.TextBlock("hello")}})
	require.NoError(t, m.Save(s))
	assert.FileExists(t, filepath.Join(m.dir, "x_y.jsonl"))

	s.Clear()
	assert.Zero(t, s.Len())

	require.NoError(t, m.Delete("x/y"))
	assert.NoFileExists(t, filepath.Join(m.dir, "x_y.jsonl"))
	assert.NoError(t, m.Delete("x/y"))
}

func TestLoad_TruncatedHistory(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	data := `{"_type":"metadata","key":"k"}` + "\n" +
		`{"role":"user","content":"one"}` + "\n" +
		`{"role":"user","content":42}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "k.jsonl"), []byte(data), 0o600))

	s := m.GetOrCreate("k")
	require.Equal(t, 1, s.Len())
	assert.Equal(t, "one", s.History[0].VisibleText())
}
