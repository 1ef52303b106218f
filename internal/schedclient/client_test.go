package schedclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmitTaskSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/task" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	defer c.Close()

	err := c.SubmitTask(context.Background(), SubmitRequest{TaskID: "1", Service: "sync", UserID: "alice"})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
}

func TestSubmitTaskResponseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	defer c.Close()

	err := c.SubmitTask(context.Background(), SubmitRequest{TaskID: "1"})
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("SubmitTask error = %v, want *ResponseError", err)
	}
	if !respErr.Permanent() {
		t.Fatalf("403 should be Permanent()")
	}
	if respErr.StatusCode != http.StatusForbidden {
		t.Fatalf("StatusCode = %d, want 403", respErr.StatusCode)
	}
}

func TestSubmitTaskTransientResponseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	defer c.Close()

	err := c.SubmitTask(context.Background(), SubmitRequest{TaskID: "1"})
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("SubmitTask error = %v, want *ResponseError", err)
	}
	if respErr.Permanent() {
		t.Fatalf("500 should not be Permanent()")
	}
}

func TestSubmitTaskUnavailable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:0"})
	defer c.Close()

	err := c.SubmitTask(context.Background(), SubmitRequest{TaskID: "1"})
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("SubmitTask error = %v, want *UnavailableError", err)
	}
}

func TestCancelTaskSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cancel" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	defer c.Close()

	if err := c.CancelTask(context.Background(), CancelRequest{TaskID: "1"}); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
}

func TestCustomEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/submit" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, TaskEndpoint: "/v2/submit"})
	defer c.Close()

	if err := c.SubmitTask(context.Background(), SubmitRequest{TaskID: "1"}); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
}
