package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowgoose/snowgoose/internal/schema"
	"github.com/snowgoose/snowgoose/internal/usage"
)

type staticUsers struct{ user *schema.User }

func (s staticUsers) CurrentUser(context.Context) (*schema.User, error) {
	if s.user == nil {
		return nil, schema.ErrUnauthenticated
	}
	return s.user, nil
}

type memLedger struct {
	mu     sync.Mutex
	totals map[string]float64
	calls  int
}

func (l *memLedger) IncrementUsage(_ context.Context, userID string, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.totals == nil {
		l.totals = make(map[string]float64)
	}
	l.totals[userID] += amount
	l.calls++
	return nil
}

type memImages struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (m *memImages) SaveImage(_ context.Context, id string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[id] = data
	return "https://img.test/" + id + ".png", nil
}

// vendorStub replays canned JSON bodies in order and records every request.
type vendorStub struct {
	t         *testing.T
	mu        sync.Mutex
	responses []string
	bodies    []map[string]any
	paths     []string
	headers   []http.Header
}

func newVendorStub(t *testing.T, responses ...string) (*vendorStub, *httptest.Server) {
	stub := &vendorStub{t: t, responses: responses}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return stub, srv
}

func (s *vendorStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		s.t.Errorf("request body is not JSON: %v", err)
	}

	s.mu.Lock()
	n := len(s.bodies)
	s.bodies = append(s.bodies, body)
	s.paths = append(s.paths, r.URL.Path)
	s.headers = append(s.headers, r.Header.Clone())
	s.mu.Unlock()

	if n >= len(s.responses) {
		http.Error(w, `{"error":{"message":"unexpected call"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, s.responses[n])
}

func (s *vendorStub) body(i int) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Greater(s.t, len(s.bodies), i, "request %d was not sent", i)
	return s.bodies[i]
}

func (s *vendorStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

var testUser = &schema.User{ID: "user-1", Email: "u@example.com"}

func testDeps(ledger *memLedger) Deps {
	return Deps{
		Users:  staticUsers{user: testUser},
		Meter:  usage.NewMeter(ledger),
		Images: &memImages{},
	}
}

func userChat(text string) *schema.Chat {
	return &schema.Chat{ResponseHistory: schema.History{schema.NewUserMessage(text)}}
}

// messagesOf returns body["messages"] as a slice of objects.
func messagesOf(t *testing.T, body map[string]any) []map[string]any {
	t.Helper()
	raw, ok := body["messages"].([]any)
	require.True(t, ok, "messages missing")
	out := make([]map[string]any, len(raw))
	for i, m := range raw {
		out[i] = m.(map[string]any)
	}
	return out
}

type fakeVendors map[int64]string

func (f fakeVendors) FindVendorByID(_ context.Context, id int64) (*schema.Vendor, error) {
	name, ok := f[id]
	if !ok {
		return nil, schema.ErrNotFound
	}
	return &schema.Vendor{ID: id, Name: name}, nil
}

func (f fakeVendors) FindVendorByName(_ context.Context, name string) (*schema.Vendor, error) {
	for id, n := range f {
		if n == name {
			return &schema.Vendor{ID: id, Name: n}, nil
		}
	}
	return nil, schema.ErrNotFound
}

func TestFactory_GetAdapter(t *testing.T) {
	ctx := context.Background()
	vendors := fakeVendors{1: "Anthropic", 2: "claude", 3: "mistral", 4: "openai"}
	f := NewFactory(vendors, Deps{})
	f.RegisterConfig("anthropic", schema.VendorConfig{APIKey: "old"})
	f.RegisterConfig("ANTHROPIC", schema.VendorConfig{APIKey: "new"})
	f.RegisterConfig("mistral", schema.VendorConfig{APIKey: "k"})

	a, err := f.GetAdapter(ctx, schema.ModelRecord{APIName: "claude-sonnet-4", APIVendorID: 1})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", a.Vendor())
	assert.Equal(t, "new", a.(*Anthropic).cfg.APIKey)

	alias, err := f.GetAdapter(ctx, schema.ModelRecord{APIVendorID: 2})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", alias.Vendor())

	_, err = f.GetAdapter(ctx, schema.ModelRecord{APIName: "x"})
	assert.ErrorIs(t, err, schema.ErrMissingVendor)

	_, err = f.GetAdapter(ctx, schema.ModelRecord{APIVendorID: 99})
	assert.ErrorIs(t, err, schema.ErrNotFound)

	_, err = f.GetAdapter(ctx, schema.ModelRecord{APIVendorID: 4})
	assert.ErrorIs(t, err, schema.ErrNoVendorConfig)
	assert.Contains(t, err.Error(), "openai")

	_, err = f.GetAdapter(ctx, schema.ModelRecord{APIVendorID: 3})
	assert.ErrorIs(t, err, schema.ErrUnsupportedVendor)

	assert.Equal(t, []string{"anthropic", "mistral"}, f.Configured())
}

func TestFactory_CapabilitiesFromModel(t *testing.T) {
	f := NewFactory(fakeVendors{1: "google"}, Deps{})
	f.RegisterConfig("gemini", schema.VendorConfig{APIKey: "k"})

	a, err := f.GetAdapter(context.Background(), schema.ModelRecord{
		APIVendorID:     1,
		IsVision:        true,
		IsThinking:      true,
		InputTokenCost:  1.25,
		OutputTokenCost: 10,
	})
	require.NoError(t, err)
	assert.True(t, a.IsVisionCapable())
	assert.True(t, a.IsThinkingCapable())
	assert.False(t, a.IsImageGenerationCapable())
	assert.False(t, a.SupportsMCP())
	assert.Equal(t, 1.25, a.InputTokenCost())
	assert.Equal(t, 10.0, a.OutputTokenCost())
}

func TestFactory_GetAdapterIsRepeatable(t *testing.T) {
	f := NewFactory(fakeVendors{1: "anthropic"}, Deps{})
	f.RegisterConfig("anthropic", schema.VendorConfig{APIKey: "k"})
	model := schema.ModelRecord{
		APIName:         "claude-sonnet-4",
		APIVendorID:     1,
		IsVision:        true,
		InputTokenCost:  3,
		OutputTokenCost: 15,
	}

	first, err := f.GetAdapter(context.Background(), model)
	require.NoError(t, err)
	second, err := f.GetAdapter(context.Background(), model)
	require.NoError(t, err)

	assert.Equal(t, first.Vendor(), second.Vendor())
	assert.Equal(t, first.SupportsMCP(), second.SupportsMCP())
	assert.Equal(t, first.IsVisionCapable(), second.IsVisionCapable())
	assert.Equal(t, first.IsThinkingCapable(), second.IsThinkingCapable())
	assert.Equal(t, first.IsImageGenerationCapable(), second.IsImageGenerationCapable())
	assert.Equal(t, first.InputTokenCost(), second.InputTokenCost())
	assert.Equal(t, first.OutputTokenCost(), second.OutputTokenCost())
	assert.Equal(t, first.(*Anthropic).wireModel(), second.(*Anthropic).wireModel())
}

func TestUnsupportedOperations(t *testing.T) {
	ctx := context.Background()
	model := schema.ModelRecord{APIName: "m"}
	cases := []struct {
		adapter schema.VendorAdapter
		label   string
	}{
		{NewOpenAI(schema.VendorConfig{}, model, Deps{}), "OpenAI"},
		{NewGoogle(schema.VendorConfig{}, model, Deps{}), "Google"},
		{NewOpenRouter(schema.VendorConfig{}, model, Deps{}), "OpenRouter"},
	}
	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			_, err := tc.adapter.SendMCPChat(ctx, userChat("hi"), schema.MCPTool{ID: 1})
			require.ErrorIs(t, err, schema.ErrNotSupported)
			assert.Contains(t, err.Error(), "not supported")
			assert.Contains(t, err.Error(), tc.label)

			_, err = tc.adapter.GenerateImage(ctx, userChat("a cat"))
			require.ErrorIs(t, err, schema.ErrNotSupported)
			assert.Contains(t, err.Error(), tc.label)
		})
	}

	anthropic := NewAnthropic(schema.VendorConfig{}, model, Deps{})
	_, err := anthropic.GenerateImage(ctx, userChat("a cat"))
	require.ErrorIs(t, err, schema.ErrNotSupported)
	assert.Contains(t, err.Error(), "Anthropic")
}

func TestVisionOnNonVisionModel(t *testing.T) {
	stub, srv := newVendorStub(t)
	a := NewOpenAI(schema.VendorConfig{BaseURL: srv.URL}, schema.ModelRecord{APIName: "gpt-4o-mini"}, testDeps(&memLedger{}))

	chat := userChat("what is this?")
	chat.ImageData = "data:image/png;base64,AAAA"
	_, err := a.SendChat(context.Background(), chat)
	require.ErrorIs(t, err, schema.ErrNotSupported)
	assert.Contains(t, err.Error(), "vision")
	assert.Zero(t, stub.count())
}

func TestUnauthenticated(t *testing.T) {
	stub, srv := newVendorStub(t)
	deps := testDeps(&memLedger{})
	deps.Users = staticUsers{}
	adapters := []schema.VendorAdapter{
		NewOpenAI(schema.VendorConfig{BaseURL: srv.URL}, schema.ModelRecord{APIName: "m"}, deps),
		NewAnthropic(schema.VendorConfig{BaseURL: srv.URL}, schema.ModelRecord{APIName: "m"}, deps),
		NewGoogle(schema.VendorConfig{BaseURL: srv.URL}, schema.ModelRecord{APIName: "m"}, deps),
		NewOpenRouter(schema.VendorConfig{BaseURL: srv.URL}, schema.ModelRecord{APIName: "m"}, deps),
	}
	for _, a := range adapters {
		_, err := a.SendChat(context.Background(), userChat("hi"))
		assert.ErrorIs(t, err, schema.ErrUnauthenticated, a.Vendor())
	}
	assert.Zero(t, stub.count())
}

func TestHTTPErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"model not allowed"}}`)
	}))
	t.Cleanup(srv.Close)

	a := NewOpenRouter(schema.VendorConfig{BaseURL: srv.URL}, schema.ModelRecord{APIName: "m"}, testDeps(&memLedger{}))
	_, err := a.SendChat(context.Background(), userChat("hi"))
	require.Error(t, err)
	assert.Equal(t, "OpenRouter HTTP 400: model not allowed", err.Error())
}

func TestThinkingBudget(t *testing.T) {
	assert.Equal(t, 2000, thinkingBudget(8000, 2000))
	assert.Equal(t, 4000, thinkingBudget(8000, 0))
	assert.Equal(t, 4000, thinkingBudget(8000, 9000))
	assert.Equal(t, "low", reasoningEffort(8000, 1000))
	assert.Equal(t, "medium", reasoningEffort(8000, 0))
	assert.Equal(t, "high", reasoningEffort(8000, 7000))
}

func TestRepairJSON(t *testing.T) {
	got, err := repairJSON(`{"query":"weather"}}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"query": "weather"}, got)

	got, err = repairJSON("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = repairJSON("not json")
	assert.Error(t, err)
}
