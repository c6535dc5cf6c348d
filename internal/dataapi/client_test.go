package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestListEventsBuildsQuery(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[{"id":1}]`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL + "/api/"})
	raw, err := c.ListEvents(context.Background(), EventFilter{Month: 5, Year: 2025, TopicID: 3})
	if err != nil {
		t.Fatalf("ListEvents() error: %v", err)
	}
	if gotPath != "/api/events" {
		t.Errorf("expected /api/events, got %s", gotPath)
	}
	if gotQuery != "month=5&topic_id=3&year=2025" {
		t.Errorf("unexpected query %q", gotQuery)
	}
	if string(raw) != `[{"id":1}]` {
		t.Errorf("expected verbatim body, got %s", raw)
	}
}

func TestLoginThenBearer(t *testing.T) {
	var logins int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			atomic.AddInt32(&logins, 1)
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["username"] != "admin" || body["password"] != "pw" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"token":"tok-1"}`))
		case "/homepage":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.Method != http.MethodPut {
				t.Errorf("expected PUT, got %s", r.Method)
			}
			data, _ := io.ReadAll(r.Body)
			w.Write(data)
		}
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Username: "admin", Password: "pw"})
	for i := 0; i < 2; i++ {
		raw, err := c.UpdateHomepage(context.Background(), map[string]any{"title": "紀念"})
		if err != nil {
			t.Fatalf("UpdateHomepage() error: %v", err)
		}
		if string(raw) != `{"title":"紀念"}` {
			t.Errorf("unexpected echo %s", raw)
		}
	}
	if n := atomic.LoadInt32(&logins); n != 1 {
		t.Errorf("expected a single login, got %d", n)
	}
}

func TestAPIErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	_, err := c.GetTopic(context.Background(), 42)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Path != "/topics/42" {
		t.Errorf("unexpected api error %+v", apiErr)
	}
}

func TestEmptyBodyBecomesNull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	raw, err := c.DeleteGalleryItem(context.Background(), 7)
	if err != nil {
		t.Fatalf("DeleteGalleryItem() error: %v", err)
	}
	if string(raw) != "null" {
		t.Errorf("expected null, got %s", raw)
	}
}
