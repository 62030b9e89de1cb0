package triplestore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/knakk/rdf"
	"go.uber.org/zap"

	"vocab-ingest/internal/faults"
)

func TestSelectRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/sparql-results+json")
		_, _ = w.Write([]byte(`{"head":{"vars":["s"]},"results":{"bindings":[{"s":{"type":"uri","value":"http://example.org/s"}}]}}`))
	}))
	defer srv.Close()

	c := NewWithEndpoints(srv.URL, srv.URL, zap.NewNop().Sugar())
	res, err := c.Select(context.Background(), "SELECT ?s WHERE { ?s ?p ?o }")
	if err != nil {
		t.Fatalf("expected recovery after retries, got %v", err)
	}
	if len(res.Solutions()) != 1 {
		t.Fatalf("expected one solution got %d", len(res.Solutions()))
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts got %d", attempts)
	}
}

func TestSelectDoesNotRetryClientErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewWithEndpoints(srv.URL, srv.URL, zap.NewNop().Sugar())
	_, err := c.Select(context.Background(), "broken query")
	if !faults.IsExternalService(err) {
		t.Fatalf("expected external service error got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Fatalf("expected single attempt for 4xx got %d", attempts)
	}
}

func TestUpdateGivesUpAfterMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewWithEndpoints(srv.URL, srv.URL, zap.NewNop().Sugar())
	err := c.Update(context.Background(), "DROP SILENT GRAPH <urn:x>")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts got %d", attempts)
	}
}

func TestInsertTriplesBuildsNamedGraphInsert(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, _ := rdf.NewIRI("http://example.org/term/1")
	p, _ := rdf.NewIRI("http://www.w3.org/2004/02/skos/core#prefLabel")
	o, _ := rdf.NewLangLiteral("fiets", "nl")
	triple := rdf.Triple{Subj: s, Pred: p, Obj: o}

	c := NewWithEndpoints(srv.URL, srv.URL, zap.NewNop().Sugar())
	if err := c.InsertTriples(context.Background(), "urn:vocab-ingest:source:src-1", []rdf.Triple{triple}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !strings.Contains(body, "INSERT DATA { GRAPH <urn:vocab-ingest:source:src-1>") {
		t.Fatalf("expected named graph insert got %q", body)
	}
	if !strings.Contains(body, `"fiets"@nl`) {
		t.Fatalf("expected serialized literal got %q", body)
	}
}

func TestInsertTriplesNoopOnEmptyBatch(t *testing.T) {
	c := NewWithEndpoints("http://unused", "http://unused", zap.NewNop().Sugar())
	if err := c.InsertTriples(context.Background(), "urn:x", nil); err != nil {
		t.Fatalf("expected noop got %v", err)
	}
}
