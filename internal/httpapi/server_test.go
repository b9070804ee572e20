package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/konradekk14/llm-code-review-assistant/internal/coordinator"
	"github.com/konradekk14/llm-code-review-assistant/internal/httpapi"
	"github.com/konradekk14/llm-code-review-assistant/internal/index"
	"github.com/konradekk14/llm-code-review-assistant/internal/provider"
	"github.com/konradekk14/llm-code-review-assistant/internal/review"
)

type fakeReviews struct {
	result *review.AggregatedReview
	err    error
	got    review.Request
}

func (f *fakeReviews) GenerateReview(_ context.Context, req review.Request) (*review.AggregatedReview, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeIndexer struct {
	result  *index.BatchResult
	err     error
	removed string
}

func (f *fakeIndexer) Index(_ context.Context, fragments []index.CodeFragment) (*index.BatchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeIndexer) Remove(_ context.Context, file string) error {
	f.removed = file
	return f.err
}

type fakeStatusSource struct {
	statuses []provider.Status
	checked  bool
}

func (f *fakeStatusSource) Snapshot() []provider.Status   { return f.statuses }
func (f *fakeStatusSource) CheckAll(_ context.Context)    { f.checked = true }

func newServer(t *testing.T, reviews *fakeReviews, indexer *fakeIndexer, providers *fakeStatusSource) *httpapi.Server {
	t.Helper()

	var idx httpapi.IndexService
	if indexer != nil {
		idx = indexer
	}
	var src httpapi.ProviderStatusSource
	if providers != nil {
		src = providers
	}

	s, err := httpapi.NewServer(reviews, idx, src, zap.NewNop(), nil)
	require.NoError(t, err)
	return s
}

func doJSON(t *testing.T, s *httpapi.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func aggregated() *review.AggregatedReview {
	return &review.AggregatedReview{
		RequestID: "req-1",
		Summary:   "1 finding across 1 file (1 error); risk: high",
		Risk:      "high",
		Findings: []review.Finding{
			{File: "utils.go", Line: 3, Severity: review.SeverityError, Category: review.CategoryBug, Title: "Division by zero", Providers: []string{"gpt"}},
		},
		Contributors: []review.ProviderResponse{{Provider: "gpt", Status: review.StatusOK}},
	}
}

const sampleDiff = `diff --git a/utils.go b/utils.go
index 111111..222222 100644
--- a/utils.go
+++ b/utils.go
@@ -1,3 +1,3 @@
 package utils

-func ratio(a, b int) int { return 0 }
+func ratio(a, b int) int { return a / b }
`

func TestHealth(t *testing.T) {
	s := newServer(t, &fakeReviews{result: aggregated()}, nil, nil)

	rec := doJSON(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t, &fakeReviews{result: aggregated()}, nil, nil)

	rec := doJSON(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateReview_WithHunks(t *testing.T) {
	reviews := &fakeReviews{result: aggregated()}
	s := newServer(t, reviews, nil, nil)

	body := `{"title":"Fix ratio","hunks":[{"file":"utils.go","new_start":1,"new_lines":3,"patch":"@@ +1,3 @@"}]}`
	rec := doJSON(t, s, http.MethodPost, "/api/v1/reviews", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var got review.AggregatedReview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "high", got.Risk)
	assert.Len(t, got.Findings, 1)

	assert.Equal(t, "Fix ratio", reviews.got.Title)
	assert.Len(t, reviews.got.Hunks, 1)
}

func TestCreateReview_WithRawDiff(t *testing.T) {
	reviews := &fakeReviews{result: aggregated()}
	s := newServer(t, reviews, nil, nil)

	body, err := json.Marshal(map[string]string{"diff": sampleDiff})
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/reviews", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	// The raw diff is parsed into hunks before dispatch.
	require.Len(t, reviews.got.Hunks, 1)
	assert.Equal(t, "utils.go", reviews.got.Hunks[0].File)
}

func TestCreateReview_EmptyBody(t *testing.T) {
	s := newServer(t, &fakeReviews{result: aggregated()}, nil, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/reviews", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateReview_BadDiff(t *testing.T) {
	s := newServer(t, &fakeReviews{result: aggregated()}, nil, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/reviews", `{"diff":"not a diff"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateReview_AllProvidersFailed(t *testing.T) {
	reviews := &fakeReviews{err: &coordinator.AllProvidersFailedError{
		Reasons: map[string]string{"gpt": "unavailable: connection refused"},
	}}
	s := newServer(t, reviews, nil, nil)

	body := `{"hunks":[{"file":"a.go","new_start":1,"new_lines":1,"patch":"@@"}]}`
	rec := doJSON(t, s, http.MethodPost, "/api/v1/reviews", body)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp httpapi.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "all providers failed", resp.Error)
	assert.Contains(t, resp.Reasons["gpt"], "connection refused")
}

func TestCreateReview_UnknownProvider(t *testing.T) {
	reviews := &fakeReviews{err: provider.ErrUnknownProvider}
	s := newServer(t, reviews, nil, nil)

	body := `{"hunks":[{"file":"a.go","new_start":1,"new_lines":1,"patch":"@@"}],"providers":["ghost"]}`
	rec := doJSON(t, s, http.MethodPost, "/api/v1/reviews", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProviders(t *testing.T) {
	source := &fakeStatusSource{statuses: []provider.Status{
		{Name: "gpt", Role: provider.RolePrimary, Health: provider.HealthHealthy},
	}}
	s := newServer(t, &fakeReviews{result: aggregated()}, nil, source)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp httpapi.ProvidersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, provider.HealthHealthy, resp.Providers[0].Health)
	assert.False(t, source.checked)
}

func TestProviders_WithCheck(t *testing.T) {
	source := &fakeStatusSource{}
	s := newServer(t, &fakeReviews{result: aggregated()}, nil, source)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/providers?check=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, source.checked)
}

func TestProviders_NotConfigured(t *testing.T) {
	s := newServer(t, &fakeReviews{result: aggregated()}, nil, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/providers", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIndex(t *testing.T) {
	indexer := &fakeIndexer{result: &index.BatchResult{Indexed: 2}}
	s := newServer(t, &fakeReviews{result: aggregated()}, indexer, nil)

	body := `{"fragments":[{"file":"a.go","start_line":1,"end_line":5,"content":"func A() {}"},{"file":"b.go","start_line":1,"end_line":5,"content":"func B() {}"}]}`
	rec := doJSON(t, s, http.MethodPost, "/api/v1/index", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var result index.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Indexed)
}

func TestIndex_Empty(t *testing.T) {
	indexer := &fakeIndexer{err: index.ErrNoFragments}
	s := newServer(t, &fakeReviews{result: aggregated()}, indexer, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/index", `{"fragments":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndex_NotConfigured(t *testing.T) {
	s := newServer(t, &fakeReviews{result: aggregated()}, nil, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/index", `{"fragments":[]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIndexRemove(t *testing.T) {
	indexer := &fakeIndexer{}
	s := newServer(t, &fakeReviews{result: aggregated()}, indexer, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/index/remove", `{"file":"a.go"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "a.go", indexer.removed)
}

func TestIndexRemove_MissingFile(t *testing.T) {
	s := newServer(t, &fakeReviews{result: aggregated()}, &fakeIndexer{}, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/index/remove", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakePoster struct {
	repo string
	pr   int
	err  error
}

func (f *fakePoster) Post(_ context.Context, repo string, prNumber int, _ *review.AggregatedReview) error {
	f.repo = repo
	f.pr = prNumber
	return f.err
}

func TestCreateReview_AutoPost(t *testing.T) {
	poster := &fakePoster{}
	s := newServer(t, &fakeReviews{result: aggregated()}, nil, nil).WithPoster(poster)

	body := `{"repo":"acme/widgets","pr_number":42,"hunks":[{"file":"a.go","new_start":1,"new_lines":1,"patch":"@@"}]}`
	rec := doJSON(t, s, http.MethodPost, "/api/v1/reviews", body)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "acme/widgets", poster.repo)
	assert.Equal(t, 42, poster.pr)
}

func TestCreateReview_AutoPostFailureDoesNotFailRequest(t *testing.T) {
	poster := &fakePoster{err: errors.New("github down")}
	s := newServer(t, &fakeReviews{result: aggregated()}, nil, nil).WithPoster(poster)

	body := `{"repo":"acme/widgets","pr_number":42,"hunks":[{"file":"a.go","new_start":1,"new_lines":1,"patch":"@@"}]}`
	rec := doJSON(t, s, http.MethodPost, "/api/v1/reviews", body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServer_RequiresReviewService(t *testing.T) {
	_, err := httpapi.NewServer(nil, nil, nil, zap.NewNop(), nil)
	assert.Error(t, err)
}
