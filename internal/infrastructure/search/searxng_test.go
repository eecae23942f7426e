package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/magpiebot/magpie/pkg/errors"
	"go.uber.org/zap"
)

func TestSearchParsesAndLimits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("format = %q, want json", got)
		}
		if got := r.URL.Query().Get("q"); got != "go generics" {
			t.Errorf("q = %q", got)
		}
		w.Write([]byte(`{"results":[
			{"title":"A","url":"https://a.example","content":"first"},
			{"title":"B","url":"https://b.example","content":"second"},
			{"title":"C","url":"https://c.example","content":"third"}
		]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, 0, zap.NewNop())
	results, err := c.Search(context.Background(), "go generics", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("limit ignored: %d results", len(results))
	}
	if results[0].Title != "A" || results[1].URL != "https://b.example" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearchServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(server.URL, 0, zap.NewNop())
	_, err := c.Search(context.Background(), "anything", 5)
	if !apperrors.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestSearchBadJSONIsParseFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	c := NewClient(server.URL, 0, zap.NewNop())
	_, err := c.Search(context.Background(), "anything", 5)
	if !apperrors.IsParseFailure(err) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestFormatResults(t *testing.T) {
	if got := FormatResults(nil); got != "No search results found." {
		t.Errorf("empty results = %q", got)
	}

	got := FormatResults([]Result{
		{Title: "A", URL: "https://a.example", Content: "alpha"},
		{Title: "B", URL: "https://b.example", Content: "beta"},
	})
	if !strings.Contains(got, "1. A") || !strings.Contains(got, "2. B") {
		t.Errorf("numbering wrong:\n%s", got)
	}
	if !strings.Contains(got, "https://a.example") {
		t.Errorf("URL missing:\n%s", got)
	}
}
