package jobmarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidsunday2/careersim/internal/session"
)

func TestSnippets(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"snippets":["Go demand up 12% QoQ","Kubernetes appears in 40% of postings"]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "key-123")
	got, err := c.Snippets(context.Background(), session.ScenarioTechnicalInterview, []string{"golang", "kubernetes"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "/v1/snippets", gotPath)
	assert.Contains(t, gotQuery, "scenario=technical_interview")
	assert.Contains(t, gotQuery, "topics=golang%2Ckubernetes")
	assert.Equal(t, "Bearer key-123", gotAuth)
}

func TestSnippets_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Snippets(context.Background(), session.ScenarioPresentation, nil)
	assert.Error(t, err)
}
