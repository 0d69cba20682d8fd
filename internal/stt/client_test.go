package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestTranscribeSendsMultipartAndDecodesText(t *testing.T) {
	var gotCorrelation, gotLanguage, gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		gotCorrelation = r.Header.Get("X-Correlation-ID")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart parse: %v", err)
		}
		gotLanguage = r.FormValue("language")
		if _, hdr, err := r.FormFile("audio_file"); err == nil {
			gotFilename = hdr.Filename
		} else {
			t.Errorf("audio_file part missing: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  hello world  "}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "en", 5*time.Second)
	text, err := c.Transcribe(context.Background(), []byte("RIFFfake"), "corr-1")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("text: want=%q got=%q", "hello world", text)
	}
	if gotCorrelation != "corr-1" {
		t.Fatalf("correlation header: got %q", gotCorrelation)
	}
	if gotLanguage != "en" {
		t.Fatalf("language field: got %q", gotLanguage)
	}
	if gotFilename != "utterance.wav" {
		t.Fatalf("filename: got %q", gotFilename)
	}
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"text":"recovered"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	text, err := c.Transcribe(context.Background(), []byte("wav"), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "recovered" {
		t.Fatalf("text: got %q", text)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestTranscribeGivesUpAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	if _, err := c.Transcribe(context.Background(), []byte("wav"), ""); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestTranscribeFailsFastOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	if _, err := c.Transcribe(context.Background(), []byte("wav"), ""); err == nil {
		t.Fatal("expected an error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", n)
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	if !c.Healthy(context.Background()) {
		t.Fatal("expected healthy")
	}
	srv.Close()
	if c.Healthy(context.Background()) {
		t.Fatal("expected unhealthy after server shutdown")
	}
}

func TestIsHallucination(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"", false},
		{"   ", false},
		{"....", true},
		{"!!", true},
		{"aaaa aaaa", true},
		{"ab ab ab", true},
		{"abc", false},
		{"you", false},
		{"hello world", false},
		{". . . !", true},
	}
	for _, tc := range cases {
		if got := IsHallucination(tc.text); got != tc.want {
			t.Errorf("IsHallucination(%q): want=%v got=%v", tc.text, tc.want, got)
		}
	}
}
