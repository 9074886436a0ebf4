package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quiz-match-service/internal/app"
	"quiz-match-service/internal/domain"
)

// Inbound message types.
const (
	msgCreateMatch   = "create_match"
	msgJoinLobby     = "join_lobby"
	msgJoinMatch     = "join_match"
	msgStartMatch    = "start_match"
	msgEnterRound    = "player_joined_round_view"
	msgPlayerAnswer  = "player_answer"
	msgEndMatch      = "end_match"
	msgNextRound     = "next_round"
	msgPingUser      = "ping_user"
	eventPongUser    = "pong_user"
	maxMessageBytes  = 64 << 10
	writeWait        = 10 * time.Second
	internalErrorMsg = "internal error"
)

// HostAuthenticator resolves the host identity of an upgrade request.
type HostAuthenticator interface {
	HostIdentity(r *http.Request) (string, bool)
}

type WSHandler struct {
	service  *app.MatchService
	hub      *Hub
	auth     HostAuthenticator
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.MatchService, hub *Hub, auth HostAuthenticator, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		hub:     hub,
		auth:    auth,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type createMatchPayload struct {
	QuizID domain.ID `json:"quizId"`
}

type joinPayload struct {
	MatchCode   string `json:"matchCode"`
	DisplayName string `json:"displayName"`
	PlayerToken string `json:"playerToken"`
}

type matchPayload struct {
	MatchCode string `json:"matchCode"`
}

type answerPayload struct {
	MatchCode     string            `json:"matchCode"`
	QuestionID    domain.ID         `json:"questionId"`
	AnswerID      domain.OptionalID `json:"answerId"`
	TimeRemaining int               `json:"timeRemaining"`
}

type matchNotFoundPayload struct {
	MatchCode string `json:"matchCode"`
}

// connection is the per-socket state the dispatcher needs.
type connection struct {
	id     string
	hostID string
	log    *slog.Logger
}

// ServeWS upgrades HTTP requests to websockets and wires them into the match use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	var hostID string
	if h.auth != nil {
		hostID, _ = h.auth.HostIdentity(r)
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxMessageBytes)

	conn := &connection{id: uuid.NewString(), hostID: hostID}
	conn.log = h.logger.With("conn", conn.id)
	conn.log.Debug("connection opened", "host", hostID != "")

	c := h.hub.Register(conn.id)
	writerDone := make(chan struct{})

	// Single writer per socket; the hub closes c.send to stop it.
	go func() {
		defer close(writerDone)
		for msg := range c.send {
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(msg); err != nil {
				conn.log.Debug("ws write error", "error", err)
				_ = ws.Close()
				for range c.send {
				}
				return
			}
		}
		// queue closed (slow consumer or shutdown): unblock the reader
		_ = ws.Close()
	}()

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := ws.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(ctx, conn, inbound)
	}

	h.service.Disconnect(conn.id)
	h.hub.Unregister(conn.id)
	<-writerDone
	conn.log.Debug("connection closed")
}

// dispatch handles one inbound event. A panic is reported to the sender only.
func (h *WSHandler) dispatch(ctx context.Context, conn *connection, in inboundMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			conn.log.Error("panic while handling message", "type", in.Type, "panic", rec)
			h.sendError(conn, internalErrorMsg)
		}
	}()

	switch in.Type {
	case msgCreateMatch:
		h.handleCreate(ctx, conn, in.Payload)
	case msgJoinLobby, msgJoinMatch:
		h.handleJoin(ctx, conn, in.Payload, false)
	case msgEnterRound:
		h.handleJoin(ctx, conn, in.Payload, true)
	case msgStartMatch:
		h.handleStart(ctx, conn, in.Payload)
	case msgPlayerAnswer:
		h.handleAnswer(ctx, conn, in.Payload)
	case msgEndMatch:
		h.handleEnd(ctx, conn, in.Payload)
	case msgNextRound:
		h.handleNext(ctx, conn, in.Payload)
	case msgPingUser:
		h.hub.Notify(conn.id, app.Message{Type: eventPongUser, Payload: in.Payload})
	default:
		h.sendError(conn, "unsupported message type")
	}
}

func (h *WSHandler) handleCreate(ctx context.Context, conn *connection, raw json.RawMessage) {
	if conn.hostID == "" {
		h.hub.Notify(conn.id, app.Message{Type: app.EventAuthError, Payload: app.ErrorPayload{Message: "host token required"}})
		return
	}
	var payload createMatchPayload
	if !decode(raw, &payload) {
		h.sendError(conn, "invalid create_match payload")
		return
	}
	code, err := h.service.CreateMatch(ctx, conn.id, conn.hostID, payload.QuizID)
	if err != nil {
		conn.log.Warn("create match failed", "quiz", payload.QuizID, "error", err)
		h.sendError(conn, clientMessage(err))
		return
	}
	conn.log.Info("match created by host", "match", code, "quiz", payload.QuizID)
}

func (h *WSHandler) handleJoin(ctx context.Context, conn *connection, raw json.RawMessage, roundView bool) {
	var payload joinPayload
	if !decode(raw, &payload) {
		h.sendError(conn, "invalid join payload")
		return
	}
	req := app.JoinRequest{
		ConnID:      conn.id,
		MatchCode:   payload.MatchCode,
		HostID:      conn.hostID,
		PlayerToken: payload.PlayerToken,
		DisplayName: payload.DisplayName,
	}

	var (
		res app.JoinResult
		err error
	)
	if roundView {
		res, err = h.service.EnterRoundView(ctx, req)
	} else {
		res, err = h.service.Join(ctx, req)
	}
	switch {
	case errors.Is(err, domain.ErrMatchNotFound):
		h.hub.Notify(conn.id, app.Message{Type: app.EventMatchNotFound, Payload: matchNotFoundPayload{MatchCode: app.NormalizeCode(payload.MatchCode)}})
		return
	case err != nil:
		conn.log.Debug("join rejected", "match", payload.MatchCode, "error", err)
		h.sendError(conn, clientMessage(err))
		return
	}
	if res.Role == domain.RolePlayer {
		h.hub.Notify(conn.id, app.Message{Type: app.EventJoinSuccess, Payload: app.JoinSuccess{
			MatchCode:   res.MatchCode,
			PlayerToken: res.PlayerToken,
		}})
	}
}

func (h *WSHandler) handleStart(ctx context.Context, conn *connection, raw json.RawMessage) {
	var payload matchPayload
	if !decode(raw, &payload) {
		h.sendError(conn, "invalid start_match payload")
		return
	}
	err := h.service.StartMatch(ctx, payload.MatchCode, conn.hostID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUnauthorized):
		conn.log.Warn("start_match from non-host ignored", "match", payload.MatchCode)
	case domain.IsSilent(err):
		conn.log.Debug("start_match dropped", "match", payload.MatchCode, "error", err)
	default:
		conn.log.Warn("start match failed", "match", payload.MatchCode, "error", err)
		h.sendError(conn, clientMessage(err))
	}
}

func (h *WSHandler) handleAnswer(ctx context.Context, conn *connection, raw json.RawMessage) {
	var payload answerPayload
	if !decode(raw, &payload) {
		h.sendError(conn, "invalid player_answer payload")
		return
	}
	_, err := h.service.SubmitAnswer(ctx, payload.MatchCode, conn.id, domain.AnswerSubmission{
		QuestionID:    payload.QuestionID,
		AnswerID:      payload.AnswerID,
		TimeRemaining: payload.TimeRemaining,
	})
	switch {
	case err == nil:
	case domain.IsSilent(err):
		conn.log.Debug("answer dropped", "match", payload.MatchCode, "question", payload.QuestionID, "error", err)
	default:
		h.sendError(conn, clientMessage(err))
	}
}

func (h *WSHandler) handleEnd(ctx context.Context, conn *connection, raw json.RawMessage) {
	var payload matchPayload
	if !decode(raw, &payload) {
		h.sendError(conn, "invalid end_match payload")
		return
	}
	if err := h.service.EndMatch(ctx, payload.MatchCode, conn.hostID); err != nil {
		conn.log.Warn("end match failed", "match", payload.MatchCode, "error", err)
		h.sendError(conn, clientMessage(err))
	}
}

func (h *WSHandler) handleNext(ctx context.Context, conn *connection, raw json.RawMessage) {
	var payload matchPayload
	if !decode(raw, &payload) {
		h.sendError(conn, "invalid next_round payload")
		return
	}
	if err := h.service.NextRound(ctx, payload.MatchCode, conn.hostID); err != nil {
		conn.log.Warn("next round failed", "match", payload.MatchCode, "error", err)
		h.sendError(conn, clientMessage(err))
	}
}

func (h *WSHandler) sendError(conn *connection, message string) {
	h.hub.Notify(conn.id, app.Message{Type: app.EventError, Payload: app.ErrorPayload{Message: message}})
}

func decode(raw json.RawMessage, dst any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// clientMessage maps an error to text that is safe to show a client.
func clientMessage(err error) string {
	for _, known := range []error{
		domain.ErrMatchNotFound,
		domain.ErrUnauthorized,
		domain.ErrUnauthenticated,
		domain.ErrInvalidInput,
		domain.ErrContentNotFound,
		domain.ErrEmptyContent,
		domain.ErrContentUnavailable,
		domain.ErrParticipantNotFound,
		domain.ErrInvalidState,
		domain.ErrPersistenceFailure,
		app.ErrCodeSpaceExhausted,
	} {
		if !errors.Is(err, known) {
			continue
		}
		if known == domain.ErrInvalidInput || known == domain.ErrInvalidState {
			return err.Error()
		}
		return known.Error()
	}
	return internalErrorMsg
}
