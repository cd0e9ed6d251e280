package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snowgoose/snowgoose/internal/schema"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "snowgoose.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestModelAndVendorLookup(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	v, err := s.UpsertVendor(ctx, "Anthropic")
	require.NoError(t, err)
	again, err := s.UpsertVendor(ctx, "anthropic")
	require.NoError(t, err)
	require.Equal(t, v.ID, again.ID)

	byName, err := s.FindVendorByName(ctx, "ANTHROPIC")
	require.NoError(t, err)
	require.Equal(t, v.ID, byName.ID)

	m := &schema.ModelRecord{
		APIName:         "claude-sonnet-4",
		Name:            "Claude Sonnet",
		APIVendorID:     v.ID,
		IsThinking:      true,
		InputTokenCost:  3,
		OutputTokenCost: 15,
	}
	require.NoError(t, s.CreateModel(ctx, m))
	require.NotZero(t, m.ID)

	got, err := s.FindModelByID(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, *m, *got)

	_, err = s.FindModelByID(ctx, 999)
	require.ErrorIs(t, err, schema.ErrNotFound)

	all, err := s.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestIncrementUsage(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	u, err := s.CreateUser(ctx, "a@example.com")
	require.NoError(t, err)

	require.NoError(t, s.IncrementUsage(ctx, u.ID, 1.5))
	require.NoError(t, s.IncrementUsage(ctx, u.ID, 0.25))

	got, err := s.FindUser(ctx, u.ID)
	require.NoError(t, err)
	require.InDelta(t, 1.75, got.PeriodUsage, 1e-9)
	require.InDelta(t, 1.75, got.TotalUsage, 1e-9)

	require.ErrorIs(t, s.IncrementUsage(ctx, "missing", 1), schema.ErrNotFound)
	require.ErrorIs(t, s.IncrementUsage(ctx, u.ID, -1), schema.ErrInvalidAmount)

	got, err = s.FindUser(ctx, u.ID)
	require.NoError(t, err)
	require.InDelta(t, 1.75, got.TotalUsage, 1e-9)
}

func TestIncrementUsage_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	u, err := s.CreateUser(ctx, "b@example.com")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.IncrementUsage(ctx, u.ID, 0.5)
		}()
	}
	wg.Wait()

	got, err := s.FindUser(ctx, u.ID)
	require.NoError(t, err)
	require.InDelta(t, 10.0, got.TotalUsage, 1e-9)
}

func TestResetPeriodUsage(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	u, err := s.CreateUser(ctx, "c@example.com")
	require.NoError(t, err)
	require.NoError(t, s.IncrementUsage(ctx, u.ID, 4))

	n, err := s.ResetPeriodUsage(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := s.FindUser(ctx, u.ID)
	require.NoError(t, err)
	require.Zero(t, got.PeriodUsage)
	require.InDelta(t, 4.0, got.TotalUsage, 1e-9)
}

func TestToolsAndPrompts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tool, err := s.CreateTool(ctx, "search", "/opt/tools/search.js")
	require.NoError(t, err)
	got, err := s.FindToolByID(ctx, tool.ID)
	require.NoError(t, err)
	require.Equal(t, *tool, *got)
	all, err := s.ListTools(ctx)
	require.NoError(t, err)
	require.Equal(t, []schema.MCPTool{*tool}, all)

	p, err := s.CreatePersona(ctx, "Pirate", "Talk like a pirate.")
	require.NoError(t, err)
	gotP, err := s.FindPersona(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "Talk like a pirate.", gotP.Prompt)

	f, err := s.CreateOutputFormat(ctx, "Bullets", "Answer in bullet points.")
	require.NoError(t, err)
	gotF, err := s.FindOutputFormat(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, "Bullets", gotF.Name)
}

func TestFileImageStore(t *testing.T) {
	dir := t.TempDir()
	s := NewFileImageStore(dir, "http://localhost:8080/images/")

	url, err := s.SaveImage(context.Background(), "ig_1/../x", []byte("png"), "image/png")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/images/ig_1____x.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "ig_1____x.png"))
	require.NoError(t, err)
	require.Equal(t, "png", string(data))
}
