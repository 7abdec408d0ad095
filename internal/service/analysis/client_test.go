package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"speech-coach-service/internal/models"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
}

func TestClient_Analyze_Success(t *testing.T) {
	var got models.AnalysisRequest
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/analyze" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"analysis":{
			"full_text":"안녕하세요","rate":240.5,"rate_unit":"spm","rate_feedback":"good",
			"syllable_count":5,"duration_seconds":1.25,"filler_words":{"음":2},"total_fillers":2,
			"ai_feedback":"nice"}}`))
	})

	req := models.AnalysisRequest{
		SessionID:         "session_1-1",
		Text:              "안녕하세요",
		RequestAIFeedback: true,
		StartTimeSeconds:  100,
		EndTimeSeconds:    101.25,
	}
	res, err := client.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got != req {
		t.Errorf("request mismatch: got %+v, want %+v", got, req)
	}
	if res.SessionID != "session_1-1" {
		t.Errorf("expected session id to default to request, got %q", res.SessionID)
	}
	a := res.Analysis
	if a.Rate != 240.5 || a.RateUnit != "spm" || a.RateFeedback != "good" {
		t.Errorf("unexpected rate fields: %+v", a)
	}
	if a.SyllableCount == nil || *a.SyllableCount != 5 || a.WordCount != nil {
		t.Errorf("unexpected counts: %+v", a)
	}
	if a.DurationSeconds != 1.25 || a.TotalFillers != 2 || a.FillerWords["음"] != 2 {
		t.Errorf("unexpected analysis: %+v", a)
	}
	if len(res.Raw) == 0 {
		t.Error("expected raw analysis to be kept")
	}
}

func TestClient_Analyze_LegacyFields(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"analysis":{
			"session_id":"s-9","full_text":"um so","word_count":2,"wpm":80,
			"wpm_feedback":"slow","filler_words":{"um":1},"speech_duration":1.5}}`))
	})

	res, err := client.Analyze(context.Background(), models.AnalysisRequest{SessionID: "ignored", Text: "um so"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := res.Analysis
	if res.SessionID != "s-9" {
		t.Errorf("expected analysis session id, got %q", res.SessionID)
	}
	if a.Rate != 80 || a.RateUnit != "wpm" || a.RateFeedback != "slow" {
		t.Errorf("unexpected rate mapping: %+v", a)
	}
	if a.DurationSeconds != 1.5 {
		t.Errorf("expected duration 1.5, got %v", a.DurationSeconds)
	}
	if a.TotalFillers != 1 {
		t.Errorf("expected total fillers summed to 1, got %d", a.TotalFillers)
	}
}

func TestClient_Analyze_ServerErrorIsTransport(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal"}`))
	})

	_, err := client.Analyze(context.Background(), models.AnalysisRequest{Text: "hi"})

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if te.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", te.StatusCode)
	}
	if te.Message != "internal" {
		t.Errorf("expected message 'internal', got %q", te.Message)
	}
}

func TestClient_Analyze_DetailMessage(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"text required"}`))
	})

	_, err := client.Analyze(context.Background(), models.AnalysisRequest{Text: " "})

	var te *TransportError
	if !errors.As(err, &te) || te.Message != "text required" {
		t.Fatalf("expected TransportError with detail, got %v", err)
	}
}

func TestClient_Analyze_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := New(Config{BaseURL: url, Timeout: time.Second})
	_, err := client.Analyze(context.Background(), models.AnalysisRequest{Text: "hi"})

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if te.StatusCode != 0 || te.Err == nil {
		t.Errorf("expected network failure without status, got %+v", te)
	}
}

func TestClient_Analyze_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"success":`},
		{"missing success", `{"analysis":{"full_text":"x","spm":100,"filler_words":{}}}`},
		{"success null", `{"success":null,"analysis":{"full_text":"x","spm":100}}`},
		{"success false", `{"success":false,"error":"nope"}`},
		{"missing analysis", `{"success":true}`},
		{"null analysis", `{"success":true,"analysis":null}`},
		{"analysis wrong type", `{"success":true,"analysis":"text"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Analyze(context.Background(), models.AnalysisRequest{Text: "hi"})

			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ProtocolError, got %T: %v", err, err)
			}
		})
	}
}

func TestClient_ResetSession(t *testing.T) {
	var gotQuery string
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/reset-session" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("session_id")
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	if err := client.ResetSession(context.Background(), "session_1-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "session_1-2" {
		t.Errorf("expected session id in query, got %q", gotQuery)
	}
}

func TestClient_ResetSession_Failure(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := client.ResetSession(context.Background(), "s")
	var te *TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 TransportError, got %v", err)
	}
}

func TestClient_FillerWords(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"words":["음","어"]}`))
	})

	raw, err := client.FillerWords(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload struct {
		Words []string `json:"words"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.Words) != 2 {
		t.Errorf("unexpected payload %s (%v)", raw, err)
	}
}

func TestTransportError_Message(t *testing.T) {
	err := &TransportError{StatusCode: 500, Message: "internal"}
	if err.Error() != "analysis service returned 500: internal" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
