package probe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portal-resolver/internal/fetcher"
)

type stubFetcher struct {
	responses map[string]*fetcher.Response
	err       error
	calls     []fetcher.Request
}

func (s *stubFetcher) Fetch(_ context.Context, req fetcher.Request) (*fetcher.Response, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	if resp, ok := s.responses[req.Method]; ok {
		return resp, nil
	}
	return &fetcher.Response{Status: http.StatusNotFound}, nil
}

func TestLiveness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", http.StatusOK, true},
		{"redirect", http.StatusFound, true},
		{"not found", http.StatusNotFound, false},
		{"server error", http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := &stubFetcher{responses: map[string]*fetcher.Response{
				http.MethodHead: {Status: tt.status},
			}}
			assert.Equal(t, tt.want, New(f, 0).Liveness(context.Background(), "https://a.gov"))
		})
	}
}

func TestLiveness_HeadNotAllowedFallsBackToGet(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{responses: map[string]*fetcher.Response{
		http.MethodHead: {Status: http.StatusMethodNotAllowed},
		http.MethodGet:  {Status: http.StatusOK},
	}}
	assert.True(t, New(f, 0).Liveness(context.Background(), "https://a.gov"))
	require.Len(t, f.calls, 2)
	assert.Equal(t, http.MethodGet, f.calls[1].Method)
}

func TestLiveness_FetchError(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{err: errors.New("no such host")}
	assert.False(t, New(f, 0).Liveness(context.Background(), "https://gone.gov"))
}

func TestContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want bool
	}{
		{"two keywords", "Contractor login for permit applications", true},
		{"one keyword repeated", "permit permit permit", false},
		{"none", "Parks and recreation schedule", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := &stubFetcher{responses: map[string]*fetcher.Response{
				http.MethodGet: {Status: http.StatusOK, Body: []byte(tt.body)},
			}}
			assert.Equal(t, tt.want, New(f, 0).Content(context.Background(), "https://a.gov"))
		})
	}
}

func TestContent_OnlyInspectsPrefix(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("a", 100) + " permit apply"
	f := &stubFetcher{responses: map[string]*fetcher.Response{
		http.MethodGet: {Status: http.StatusOK, Body: []byte(body)},
	}}
	p := New(f, 50)
	assert.False(t, p.Content(context.Background(), "https://a.gov"))
	assert.Equal(t, int64(200), f.calls[0].MaxBytes)

	assert.True(t, New(f, 0).Content(context.Background(), "https://a.gov"))
}

func TestContent_NonOK(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{responses: map[string]*fetcher.Response{
		http.MethodGet: {Status: http.StatusForbidden, Body: []byte("permit apply login")},
	}}
	assert.False(t, New(f, 0).Content(context.Background(), "https://a.gov"))
}

func TestFirstChars(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ab", firstChars("abc", 2))
	assert.Equal(t, "é", firstChars("éé", 1))
	assert.Equal(t, "abc", firstChars("abc", 10))
}
