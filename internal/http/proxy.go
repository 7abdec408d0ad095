package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/schema"
	"speech-coach-service/internal/service/analysis"
)

const defaultSessionID = "default"

type analyzeBody struct {
	SessionID         string  `json:"session_id"`
	Text              string  `json:"text"`
	RequestAIFeedback bool    `json:"generate_ai_feedback"`
	StartTimeSeconds  float64 `json:"start_time"`
	EndTimeSeconds    float64 `json:"end_time"`
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// analyzeHandler forwards a transcript to the analysis service.
func (h *handlers) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	var body analyzeBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, schema.MaxTextBytes*2)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}

	req := models.AnalysisRequest{
		SessionID:         strings.TrimSpace(body.SessionID),
		Text:              body.Text,
		RequestAIFeedback: body.RequestAIFeedback,
		StartTimeSeconds:  body.StartTimeSeconds,
		EndTimeSeconds:    body.EndTimeSeconds,
	}
	if req.SessionID == "" {
		req.SessionID = defaultSessionID
	}
	if err := h.app.Validator.ValidateAnalysisRequest(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: validationMessage(err)})
		return
	}

	res, err := h.app.Analysis.Analyze(r.Context(), req)
	if err != nil {
		status, msg := upstreamError(err)
		log.Error().Err(err).Str("sessionId", req.SessionID).Int("status", status).Msg("Analysis proxy failed")
		writeJSON(w, status, errorBody{Error: msg})
		return
	}

	analysisJSON := res.Raw
	if len(analysisJSON) == 0 {
		analysisJSON, _ = json.Marshal(res.Analysis)
	}
	writeJSON(w, http.StatusOK, struct {
		Success  bool            `json:"success"`
		Analysis json.RawMessage `json:"analysis"`
	}{true, analysisJSON})
}

// resetSessionHandler forwards a session reset.
func (h *handlers) resetSessionHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body)
	sid := strings.TrimSpace(body.SessionID)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	if sid == "" {
		sid = defaultSessionID
	}

	if err := h.app.Analysis.ResetSession(r.Context(), sid); err != nil {
		log.Error().Err(err).Str("sessionId", sid).Msg("Session reset proxy failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to reset session"})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success   bool   `json:"success"`
		SessionID string `json:"session_id"`
	}{true, sid})
}

// fillerWordsHandler passes the filler word catalogue through unmodified.
func (h *handlers) fillerWordsHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := h.app.Analysis.FillerWords(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Filler words proxy failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to load filler words"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// upstreamError maps an analysis client error onto a gateway response.
func upstreamError(err error) (int, string) {
	var te *analysis.TransportError
	var pe *analysis.ProtocolError
	switch {
	case errors.As(err, &te):
		if te.Message != "" {
			return http.StatusInternalServerError, te.Message
		}
		return http.StatusInternalServerError, "internal server error"
	case errors.As(err, &pe):
		return http.StatusBadGateway, "invalid response from analysis service"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// validationMessage strips the shared prefix from a schema error.
func validationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), schema.ErrInvalid.Error()+": ")
}
