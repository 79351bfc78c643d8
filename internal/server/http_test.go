package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rokas2025/playvoice/internal/capture"
	"github.com/rokas2025/playvoice/internal/config"
	"github.com/rokas2025/playvoice/internal/metrics"
	"github.com/rokas2025/playvoice/internal/playback"
	"github.com/rokas2025/playvoice/internal/reply"
	"github.com/rokas2025/playvoice/internal/tts"
	"github.com/rokas2025/playvoice/internal/turn"
)

// idleCapture hands out transcript channels the test can push into
type idleCapture struct {
	mu  sync.Mutex
	cur chan capture.TranscriptEvent
}

func (c *idleCapture) Start(ctx context.Context) (<-chan capture.TranscriptEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = make(chan capture.TranscriptEvent, 8)
	return c.cur, nil
}

func (c *idleCapture) Stop() {}

func (c *idleCapture) push(ev capture.TranscriptEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return false
	}
	c.cur <- ev
	return true
}

type staticReplies struct{}

func (staticReplies) Generate(ctx context.Context, history []reply.Message) (string, error) {
	return "labas", nil
}

// gatedReplies holds every reply until release is closed
type gatedReplies struct {
	release chan struct{}
}

func (r gatedReplies) Generate(ctx context.Context, history []reply.Message) (string, error) {
	select {
	case <-r.release:
		return "labas", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type silentSpeech struct{}

func (silentSpeech) Synthesize(ctx context.Context, text string) (playback.Source, error) {
	return playback.Source{Body: io.NopCloser(strings.NewReader(""))}, nil
}

type instantPlayer struct{}

func (instantPlayer) Play(ctx context.Context, src playback.Source) error {
	return src.Body.Close()
}

type fixedStats struct{}

func (fixedStats) GetStats() tts.ClientStats {
	return tts.ClientStats{TotalRequests: 3, SuccessRate: 1}
}

type testAPI struct {
	srv      *httptest.Server
	manager  *turn.Manager
	captures []*idleCapture
	replies  turn.ReplyGenerator
	mu       sync.Mutex
}

func newTestAPI(t *testing.T, mutate func(*config.Config)) *testAPI {
	t.Helper()

	cfg := config.Default()
	cfg.TTS.APIKey = "secret-tts-key"
	cfg.Reply.APIKey = "secret-reply-key"
	cfg.Capture.APIKey = "secret-capture-key"
	if mutate != nil {
		mutate(cfg)
	}

	api := &testAPI{replies: staticReplies{}}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	api.manager = turn.NewManager(cfg.Session, cfg.Reply.HistoryLimit, func() (turn.Dependencies, error) {
		c := &idleCapture{}
		api.mu.Lock()
		api.captures = append(api.captures, c)
		replies := api.replies
		api.mu.Unlock()
		return turn.Dependencies{
			Capture: c,
			Replies: replies,
			Speech:  silentSpeech{},
			Player:  instantPlayer{},
		}, nil
	}, nil, m)

	h := NewHTTPServer(cfg, api.manager, fixedStats{}, nil, m)
	api.srv = httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		api.srv.Close()
		api.manager.Stop()
		h.limiter.stop()
	})
	return api
}

func (a *testAPI) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	return a.send(t, method, path, "")
}

func (a *testAPI) send(t *testing.T, method, path, payload string) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != "" {
		body = strings.NewReader(payload)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (a *testAPI) createSession(t *testing.T) turn.Info {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/sessions")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var info turn.Info
	require.NoError(t, json.Unmarshal(body, &info))
	return info
}

func (a *testAPI) capture(i int) *idleCapture {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.captures[i]
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, nil)

	resp, body := api.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
	components := health["components"].(map[string]interface{})
	assert.Contains(t, components, "sessions")
	assert.Contains(t, components, "tts")
}

func TestConfigOmitsCredentials(t *testing.T) {
	api := newTestAPI(t, nil)

	resp, body := api.do(t, http.MethodGet, "/config")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "secret")
	assert.Contains(t, string(body), `"sample_rate":16000`)
}

func TestSessionLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)

	resp, body := api.do(t, http.MethodPost, "/sessions")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var info turn.Info
	require.NoError(t, json.Unmarshal(body, &info))
	require.NotEmpty(t, info.ID)

	resp, _ = api.do(t, http.MethodPost, "/sessions")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "default limit is one session")

	resp, body = api.do(t, http.MethodGet, "/sessions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Total    int         `json:"total_sessions"`
		Sessions []turn.Info `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, info.ID, list.Sessions[0].ID)

	resp, body = api.do(t, http.MethodGet, "/sessions/"+info.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), info.ID)

	resp, _ = api.do(t, http.MethodDelete, "/sessions/"+info.ID)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = api.do(t, http.MethodGet, "/sessions/"+info.ID)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = api.do(t, http.MethodDelete, "/sessions/"+info.ID)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSessionRateLimited(t *testing.T) {
	api := newTestAPI(t, func(cfg *config.Config) {
		cfg.Session.MaxSessions = 10
		cfg.HTTP.SessionRate = 0.001
		cfg.HTTP.SessionBurst = 1
	})

	resp, _ := api.do(t, http.MethodPost, "/sessions")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = api.do(t, http.MethodPost, "/sessions")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 1, api.manager.Count())
}

func TestSessionEventsStream(t *testing.T) {
	api := newTestAPI(t, nil)

	resp, body := api.do(t, http.MethodPost, "/sessions")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var info turn.Info
	require.NoError(t, json.Unmarshal(body, &info))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(api.srv.URL, "http") + "/sessions/" + info.ID + "/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.True(t, api.capture(0).push(capture.TranscriptEvent{Kind: capture.EventPartial, Text: "sveik"}))

	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var ev turn.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Kind == turn.EventPartial {
			assert.Equal(t, "sveik", ev.Text)
			break
		}
	}

	// Ending the session closes the stream normally
	resp, _ = api.do(t, http.MethodDelete, "/sessions/"+info.ID)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	for {
		_, _, err = conn.Read(ctx)
		if err != nil {
			break
		}
	}
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestSessionEventsUnknownSession(t *testing.T) {
	api := newTestAPI(t, nil)

	resp, _ := api.do(t, http.MethodGet, "/sessions/missing/events")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)

	resp, _ := api.do(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWrongMethod(t *testing.T) {
	api := newTestAPI(t, nil)

	resp, _ := api.do(t, http.MethodPut, "/sessions")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSubmitText(t *testing.T) {
	api := newTestAPI(t, nil)
	info := api.createSession(t)

	resp, body := api.send(t, http.MethodPost, "/sessions/"+info.ID+"/text", `{"text":"sveiki"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var stats struct {
		Session  turn.Info          `json:"session"`
		Turns    []turn.TurnTiming  `json:"turns"`
		Averages turn.TimingSummary `json:"averages"`
	}
	require.Eventually(t, func() bool {
		resp, err := http.Get(api.srv.URL + "/sessions/" + info.ID + "/stats")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK &&
			json.NewDecoder(resp.Body).Decode(&stats) == nil &&
			len(stats.Turns) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, turn.SourceText, stats.Turns[0].Source)
	assert.Equal(t, "sveiki", stats.Turns[0].Input)
	assert.Equal(t, "labas", stats.Turns[0].Output)
	assert.Equal(t, 1, stats.Averages.Turns)
	require.NotNil(t, stats.Session.LastTurn)
	assert.Equal(t, stats.Turns[0].Utterance, stats.Session.LastTurn.Utterance)
}

func TestSubmitTextRejected(t *testing.T) {
	api := newTestAPI(t, nil)
	gate := gatedReplies{release: make(chan struct{})}
	api.replies = gate
	defer close(gate.release)
	info := api.createSession(t)
	path := "/sessions/" + info.ID + "/text"

	resp, _ := api.send(t, http.MethodPost, "/sessions/missing/text", `{"text":"sveiki"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = api.send(t, http.MethodPost, path, `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = api.send(t, http.MethodPost, path, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = api.send(t, http.MethodPost, path, `{"text":"sveiki"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// The first turn is still waiting for its reply
	require.Eventually(t, func() bool {
		s, ok := api.manager.Get(info.ID)
		return ok && s.State() == turn.StateThinking
	}, 2*time.Second, time.Millisecond)
	resp, _ = api.send(t, http.MethodPost, path, `{"text":"dar"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSessionStatsUnknownSession(t *testing.T) {
	api := newTestAPI(t, nil)

	resp, _ := api.do(t, http.MethodGet, "/sessions/missing/stats")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
