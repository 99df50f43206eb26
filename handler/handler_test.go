package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"concierge-agent/internal/usecase"
)

type stubTurns struct {
	out   usecase.TurnOutput
	err   error
	gotIn usecase.TurnInput
}

func (s *stubTurns) Ask(_ context.Context, in usecase.TurnInput) (usecase.TurnOutput, error) {
	s.gotIn = in
	return s.out, s.err
}

func newHandler(t *testing.T, turns TurnRunner) *Handler {
	t.Helper()
	h, err := NewHandler(turns)
	require.NoError(t, err)
	return h
}

func TestNewHandler_NilRunner(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	turns := &stubTurns{out: usecase.TurnOutput{Answer: "Pack an umbrella.", ConversationID: "conv-1"}}
	h := newHandler(t, turns)

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		Body: `{"question":"Weather in Bergen?","conversationId":"conv-1"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

	require.Equal(t, "Weather in Bergen?", turns.gotIn.Question)
	require.Equal(t, "conv-1", turns.gotIn.ConversationID)

	var body chatResponse
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	require.Equal(t, "Pack an umbrella.", body.Answer)
	require.Equal(t, "conv-1", body.ConversationID)
}

func TestHandle_MalformedBody(t *testing.T) {
	h := newHandler(t, &stubTurns{})

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{Body: "{not json"})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorResponse
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	require.Equal(t, string(usecase.ErrorInvalidInput), body.Error)
	require.Equal(t, "malformed_body", body.Reason)
}

func TestHandle_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_question"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"rate limited", &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "llm_rate_limited"}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"upstream", &usecase.Error{Code: usecase.ErrorUpstream, Reason: "llm_error"}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"internal", &usecase.Error{Code: usecase.ErrorInternal, Reason: "history_write_error"}, http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := newHandler(t, &stubTurns{err: c.err})
			resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{Body: `{"question":"hi"}`})
			require.NoError(t, err)
			require.Equal(t, c.wantStatus, resp.StatusCode)

			var body errorResponse
			require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
			require.Equal(t, c.wantCode, body.Error)
		})
	}
}

func TestHandle_CorrelationIDsDiffer(t *testing.T) {
	h := newHandler(t, &stubTurns{out: usecase.TurnOutput{Answer: "ok", ConversationID: "c"}})

	first, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{Body: `{"question":"hi"}`})
	require.NoError(t, err)
	second, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{Body: `{"question":"hi"}`})
	require.NoError(t, err)
	require.NotEqual(t, first.Headers["X-Correlation-Id"], second.Headers["X-Correlation-Id"])
}
