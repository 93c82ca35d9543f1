package formtpl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestStaticProvider_NumericCategory(t *testing.T) {
	schema, err := StaticProvider{}.Schema(context.Background(), "CBC-HGB", "BLOOD")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if schema.Title != "Numeric Result Entry" {
		t.Errorf("unexpected title: %s", schema.Title)
	}
	if len(schema.Fields) == 0 || schema.Fields[0].Name != "value" {
		t.Errorf("expected value field first, got %+v", schema.Fields)
	}
}

func TestStaticProvider_NarrativeCategory(t *testing.T) {
	for _, cat := range []string{"PATHOLOGY", "XRAY", "CT_SCAN", "MRI", "ULTRASOUND"} {
		schema, err := StaticProvider{}.Schema(context.Background(), "X1", cat)
		if err != nil {
			t.Fatalf("schema for %s: %v", cat, err)
		}
		if schema.Title != "Narrative Report Entry" {
			t.Errorf("%s: unexpected title %s", cat, schema.Title)
		}
	}
}

func TestHTTPProvider_FetchAndCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		json.NewEncoder(w).Encode(Schema{
			Title:  "Custom CBC",
			Fields: []Field{{Name: "value", Type: "number", Required: true}},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)

	schema, err := p.Schema(context.Background(), "CBC-HGB", "BLOOD")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if schema.Title != "Custom CBC" {
		t.Errorf("unexpected title: %s", schema.Title)
	}
	if schema.TestCode != "CBC-HGB" {
		t.Errorf("expected test code filled in, got %s", schema.TestCode)
	}

	// Second call served from cache.
	if _, err := p.Schema(context.Background(), "CBC-HGB", "BLOOD"); err != nil {
		t.Fatalf("cached schema: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("expected 1 upstream hit, got %d", n)
	}
}

func TestHTTPProvider_FallbackOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	schema, err := p.Schema(context.Background(), "CBC-HGB", "BLOOD")
	if err != nil {
		t.Fatalf("expected fallback schema, got error: %v", err)
	}
	if schema.Title != "Numeric Result Entry" {
		t.Errorf("expected static fallback, got %s", schema.Title)
	}
}
