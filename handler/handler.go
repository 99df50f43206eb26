package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"concierge-agent/internal/usecase"
)

// TurnRunner is the chat use case consumed by the handler.
type TurnRunner interface {
	Ask(ctx context.Context, in usecase.TurnInput) (usecase.TurnOutput, error)
}

// Handler adapts API Gateway proxy events to the turn service.
type Handler struct {
	turns TurnRunner
}

func NewHandler(turns TurnRunner) (*Handler, error) {
	if turns == nil {
		return nil, errors.New("handler: turn runner must not be nil")
	}
	return &Handler{turns: turns}, nil
}

type chatRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversationId"`
}

type chatResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversationId"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := uuid.NewString()

	var req chatRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return respond(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"}, correlationID), nil
	}

	out, err := h.turns.Ask(ctx, usecase.TurnInput{
		Question:       req.Question,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		status, body := mapError(err)
		slog.Error("turn failed", "correlationId", correlationID, "status", status, "err", err)
		return respond(status, body, correlationID), nil
	}

	return respond(http.StatusOK, chatResponse{Answer: out.Answer, ConversationID: out.ConversationID}, correlationID), nil
}

func mapError(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}
	body := errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, body
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, body
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, body
	}
}

func respond(status int, body any, correlationID string) events.APIGatewayProxyResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		payload = []byte(`{"error":"INTERNAL_ERROR"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": correlationID,
		},
		Body: string(payload),
	}
}
