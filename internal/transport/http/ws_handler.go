package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"github.com/gorilla/websocket"
)

// Inbound command names.
const (
	cmdJoinSession  = "join-session"
	cmdStartQuiz    = "start-quiz"
	cmdNextQuestion = "next-question"
	cmdBuzzerPress  = "buzzer-press"
	cmdSubmitAnswer = "submit-answer"
	cmdShowResults  = "show-results"
	cmdEndQuiz      = "end-quiz"
	cmdGetAnalytics = "get-analytics"
)

const (
	joinTimeout    = 10 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 32
)

// RoleResolver lets the embedding server override the role a client asks for,
// for example from an authenticated cookie.
type RoleResolver func(r *http.Request, requested domain.Role) domain.Role

type WSHandler struct {
	service  *app.QuizService
	upgrader websocket.Upgrader
	logger   *slog.Logger
	roles    RoleResolver
}

type WSOption func(*WSHandler)

func WithRoleResolver(resolver RoleResolver) WSOption {
	return func(h *WSHandler) { h.roles = resolver }
}

func WithWSLogger(logger *slog.Logger) WSOption {
	return func(h *WSHandler) { h.logger = logger }
}

func NewWSHandler(service *app.QuizService, opts ...WSOption) *WSHandler {
	h := &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	Code string `json:"code"`
	app.JoinRequest
}

type nextQuestionPayload struct {
	Force bool `json:"force"`
}

type buzzerPressPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type analyticsRequest struct {
	SessionID string `json:"sessionId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorMessage(message string) outboundMessage[any] {
	return outboundMessage[any]{Type: domain.EventError, Payload: errorPayload{Message: message}}
}

// connection is the per-socket state after a successful join.
type connection struct {
	code   string
	caller app.Caller
	sub    *app.Subscription
	send   chan<- outboundMessage[any]
}

// ServeWS upgrades HTTP requests to websockets. The first message must be
// join-session; every later message is a session command.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	ctx := r.Context()
	joined, sub, code, err := h.join(ctx, r, conn)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err.Error()))
		return
	}
	defer h.service.Leave(context.Background(), code, sub)

	caller := app.Caller{Role: joined.Role, Reply: sub}
	if joined.Participant != nil {
		caller.ParticipantID = joined.Participant.ID
	}
	h.logger.Debug("ws joined", "code", code, "role", joined.Role, "participant", caller.ParticipantID, "rejoined", joined.Rejoined)

	send := make(chan outboundMessage[any], sendBuffer)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", "code", code, "error", err)
				// unblock the reader; keep draining so senders never stall
				_ = conn.Close()
				for range send {
				}
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		events := sub.Events()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: ev.Type, Payload: ev.Payload}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	c := &connection{code: code, caller: caller, sub: sub, send: send}
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if reply, ok := h.dispatch(ctx, c, inbound); ok {
			send <- reply
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) join(ctx context.Context, r *http.Request, conn *websocket.Conn) (app.JoinResult, *app.Subscription, string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(joinTimeout))
	var inbound inboundMessage
	if err := conn.ReadJSON(&inbound); err != nil {
		return app.JoinResult{}, nil, "", errors.New("expected join-session message")
	}
	_ = conn.SetReadDeadline(time.Time{})

	if inbound.Type != cmdJoinSession {
		return app.JoinResult{}, nil, "", errors.New("first message must be join-session")
	}
	var payload joinPayload
	if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
		return app.JoinResult{}, nil, "", errors.New("invalid join-session payload")
	}
	if h.roles != nil {
		payload.Role = h.roles(r, payload.Role)
	}

	code := app.NormalizeCode(payload.Code)
	joined, sub, err := h.service.Join(ctx, code, payload.JoinRequest)
	if err != nil {
		return app.JoinResult{}, nil, "", err
	}
	return joined, sub, code, nil
}

// dispatch runs one command. Failures go back to the sender only.
func (h *WSHandler) dispatch(ctx context.Context, c *connection, inbound inboundMessage) (outboundMessage[any], bool) {
	var err error
	switch inbound.Type {
	case cmdStartQuiz:
		err = h.service.StartQuiz(ctx, c.code, c.caller)
	case cmdNextQuestion:
		var payload nextQuestionPayload
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				return errorMessage("invalid next-question payload"), true
			}
		}
		err = h.service.NextQuestion(ctx, c.code, c.caller, payload.Force)
	case cmdBuzzerPress:
		var payload buzzerPressPayload
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				return errorMessage("invalid buzzer-press payload"), true
			}
		}
		_, err = h.service.PressBuzzer(ctx, c.code, c.caller, payload.Timestamp)
	case cmdSubmitAnswer:
		var payload app.AnswerSubmission
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage("invalid submit-answer payload"), true
		}
		_, err = h.service.SubmitAnswer(ctx, c.code, c.caller, payload)
	case cmdShowResults:
		_, err = h.service.ShowResults(ctx, c.code, c.caller)
	case cmdEndQuiz:
		err = h.service.EndQuiz(ctx, c.code, c.caller)
	case cmdGetAnalytics:
		var payload analyticsRequest
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				return errorMessage("invalid get-analytics payload"), true
			}
		}
		if payload.SessionID == "" {
			session, gerr := h.service.GetSession(ctx, c.code)
			if gerr != nil {
				return errorMessage(gerr.Error()), true
			}
			payload.SessionID = session.ID
		}
		analytics, aerr := h.service.Analytics(ctx, payload.SessionID)
		if aerr != nil {
			return errorMessage(aerr.Error()), true
		}
		return outboundMessage[any]{Type: domain.EventAnalytics, Payload: analytics}, true
	case cmdJoinSession:
		return errorMessage("already joined"), true
	default:
		return errorMessage("unsupported message type"), true
	}
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("ws command failed", "code", c.code, "command", inbound.Type, "error", err)
		}
		return errorMessage(err.Error()), true
	}
	return outboundMessage[any]{}, false
}
