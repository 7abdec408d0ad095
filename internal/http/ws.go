package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/schema"
	"speech-coach-service/internal/service/analysis"
	"speech-coach-service/internal/service/recognition"
	"speech-coach-service/internal/service/recognition/browser"
	"speech-coach-service/internal/service/session"
)

const writeWait = 10 * time.Second

// Client → server message types.
const (
	msgStart  = "start"
	msgResult = "result"
	msgEnd    = "end"
	msgError  = "error"
	msgStop   = "stop"
	msgReset  = "reset"
)

// Server → client message types (besides recognition commands).
const (
	msgStatus     = "status"
	msgTranscript = "transcript"
	msgTimer      = "timer"
	msgAnalysis   = "analysis"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type clientMessage struct {
	Type       string                   `json:"type"`
	MicGranted bool                     `json:"micGranted"`
	StartIndex int                      `json:"startIndex"`
	Results    []models.ResultCandidate `json:"results"`
	Code       string                   `json:"code"`
}

type statusMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type transcriptMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type timerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Elapsed   int    `json:"elapsed"`
	Ended     bool   `json:"ended"`
	Display   string `json:"display"`
}

type analysisMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Analysis  models.Analysis `json:"analysis"`
}

type errorMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// bridge connects one browser to one session controller.
type bridge struct {
	conn   *websocket.Conn
	connID string

	writeMu sync.Mutex

	ctrl       *session.Controller
	relay      *browser.Source
	validator  *schema.Validator
	micGranted atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// sessionBridgeHandler upgrades to a WebSocket and runs one session bridge
// until the browser disconnects.
func (h *handlers) sessionBridgeHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger := logging.WithComponent("bridge")
		logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	connID := uuid.NewString()
	b := &bridge{
		conn:      conn,
		connID:    connID,
		validator: h.app.Validator,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logging.WithConnection(connID, ""),
	}

	src, relay, err := h.app.NewBridgeSource(browser.SenderFunc(b.sendCommand))
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to create recognition source")
		b.write(errorMessage{Type: msgError, Kind: "internal", Message: "recognition source unavailable"})
		cancel()
		_ = conn.Close()
		return
	}
	b.relay = relay

	perm := session.PermissionFunc(func(context.Context) error {
		if !b.micGranted.Load() {
			return session.ErrPermissionDenied
		}
		return nil
	})
	b.ctrl = h.app.NewController(src, perm, b)
	b.logger = logging.WithConnection(b.connID, b.ctrl.SessionID())

	h.app.Metrics.BridgeConnections.Inc()
	defer h.app.Metrics.BridgeConnections.Dec()

	b.logger.Info().Str("remoteAddr", r.RemoteAddr).Msg("Session bridge connected")
	b.run()
	b.logger.Info().Msg("Session bridge disconnected")
}

func (b *bridge) run() {
	defer func() {
		b.cancel()
		b.ctrl.Close()
		b.wg.Wait()
		_ = b.conn.Close()
	}()

	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.write(errorMessage{Type: msgError, Kind: "invalid", Message: "malformed message"})
			continue
		}
		b.handle(msg)
	}
}

func (b *bridge) handle(msg clientMessage) {
	switch msg.Type {
	case msgStart:
		b.micGranted.Store(msg.MicGranted)
		if err := b.ctrl.Start(b.ctx); err != nil {
			b.logger.Info().Err(err).Msg("Start refused")
			// Permission and recognition failures were already presented.
			if errors.Is(err, session.ErrAlreadyActive) || errors.Is(err, session.ErrBusy) {
				b.Failure(b.ctrl.SessionID(), err)
			}
		}

	case msgResult:
		if b.relay == nil {
			return
		}
		ev := models.RecognitionEvent{StartIndex: msg.StartIndex, Results: msg.Results}
		if err := b.validator.ValidateRecognitionEvent(ev); err != nil {
			b.write(errorMessage{Type: msgError, Kind: "invalid", Message: validationMessage(err)})
			return
		}
		b.relay.Result(ev)

	case msgEnd:
		if b.relay != nil {
			b.relay.End()
		}

	case msgError:
		if b.relay != nil {
			b.relay.Error(msg.Code)
		}

	case msgStop:
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			// Analysis runs to completion even if the browser disconnects meanwhile.
			if _, err := b.ctrl.Stop(context.WithoutCancel(b.ctx)); errors.Is(err, session.ErrNotRecording) {
				b.Failure(b.ctrl.SessionID(), err)
			}
		}()

	case msgReset:
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.ctrl.Reset(b.ctx); err != nil {
				b.Failure(b.ctrl.SessionID(), err)
			}
		}()

	default:
		b.write(errorMessage{Type: msgError, Kind: "invalid", Message: "unknown message type: " + msg.Type})
	}
}

func (b *bridge) sendCommand(cmd browser.Command) error {
	return b.write(cmd)
}

// write serialises all writes on the connection.
func (b *bridge) write(v any) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := b.conn.WriteJSON(v); err != nil {
		b.logger.Debug().Err(err).Msg("WebSocket write failed")
		return err
	}
	return nil
}

// --- session.Presenter implementation ---

func (b *bridge) Status(sessionID, message string) {
	b.write(statusMessage{Type: msgStatus, SessionID: sessionID, Message: message})
}

func (b *bridge) Transcript(sessionID, text string) {
	b.write(transcriptMessage{Type: msgTranscript, SessionID: sessionID, Text: text})
}

func (b *bridge) Elapsed(sessionID string, seconds int, ended bool) {
	b.write(timerMessage{
		Type:      msgTimer,
		SessionID: sessionID,
		Elapsed:   seconds,
		Ended:     ended,
		Display:   session.FormatElapsed(seconds, ended),
	})
}

func (b *bridge) Result(sessionID string, result *models.AnalysisResult) {
	b.write(analysisMessage{Type: msgAnalysis, SessionID: sessionID, Analysis: result.Analysis})
}

func (b *bridge) Failure(sessionID string, err error) {
	b.write(errorMessage{Type: msgError, SessionID: sessionID, Kind: errorKind(err), Message: err.Error()})
}

// errorKind classifies an error for the browser.
func errorKind(err error) string {
	var te *analysis.TransportError
	var pe *analysis.ProtocolError
	var re *recognition.Error
	switch {
	case errors.Is(err, session.ErrPermissionDenied):
		return "permission"
	case errors.Is(err, session.ErrAlreadyActive), errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrNotRecording):
		return "state"
	case errors.As(err, &re):
		return "recognition"
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &pe):
		return "protocol"
	default:
		return "internal"
	}
}
