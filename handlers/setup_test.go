package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MattieTK/newsroom-polling/gateway"
	"github.com/MattieTK/newsroom-polling/mq"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router  *gin.Engine
	gateway *gateway.Gateway
	events  *mq.MemoryPublisher
}

// SetupTestEnvironment sets up the Gin router on top of an in-memory gateway.
func SetupTestEnvironment(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	events := mq.NewMemoryPublisher()
	gw, err := gateway.New(gateway.Config{
		Events: events,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	h := NewHandler(Options{
		Gateway:         gw,
		FingerprintSalt: "test-salt",
		Logger:          zerolog.Nop(),
	})

	// Setup Routes (same as routes.SetupRouter, without CORS and logging)
	router := gin.New()
	api := router.Group("/api")
	{
		api.GET("/health", h.HealthCheck)
		api.GET("/status", h.SystemStatus)
		api.POST("/polls", h.CreatePoll)
		api.GET("/polls", h.GetPolls)
		api.GET("/polls/:id", h.GetPoll)
		api.PUT("/polls/:id", h.UpdatePoll)
		api.DELETE("/polls/:id", h.DeletePoll)
		api.POST("/polls/:id/publish", h.PublishPoll)
		api.POST("/polls/:id/close", h.ClosePoll)
		api.POST("/polls/:id/reset", h.ResetPollVotes)
		api.POST("/polls/:id/vote", h.SubmitVote)
		api.GET("/polls/:id/voted", h.CheckVoted)
		api.GET("/polls/:id/live", h.StreamPoll)
	}

	return &testEnv{router: router, gateway: gw, events: events}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:5555"
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
