package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/tarotobot/audiostore"
	"github.com/room4-2/tarotobot/config"
	"github.com/room4-2/tarotobot/logging"
	"github.com/room4-2/tarotobot/messages"
	"github.com/room4-2/tarotobot/session"
	"github.com/room4-2/tarotobot/tarot"
)

type fakeCards struct {
	cards []tarot.Card
	err   error
	panic bool
}

func (f *fakeCards) Draw(_ context.Context, n int) ([]tarot.Card, error) {
	if f.panic {
		panic("card deck on fire")
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.cards) > n {
		return f.cards[:n], nil
	}
	return f.cards, nil
}

type fakeTranslator struct {
	dict map[string]string
}

func (f *fakeTranslator) Translate(_ context.Context, text, _, _ string) string {
	if zh, ok := f.dict[text]; ok {
		return zh
	}
	return text
}

type fakeChat struct {
	configured bool
	reply      string
	err        error

	mu     sync.Mutex
	system string
	user   string
}

func (f *fakeChat) Configured() bool { return f.configured }

func (f *fakeChat) Complete(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system, f.user = system, user
	return f.reply, f.err
}

type fakeSpeech struct {
	configured bool
	audio      []byte
	err        error
}

func (f *fakeSpeech) Configured() bool { return f.configured }

func (f *fakeSpeech) Synthesize(context.Context, string) ([]byte, error) {
	return f.audio, f.err
}

type testEnv struct {
	srv     *Server
	manager *session.Manager
	http    *httptest.Server
	wsBase  string
}

func defaultServices() Services {
	return Services{
		Cards:      &fakeCards{},
		Translator: &fakeTranslator{},
		Chat:       &fakeChat{configured: true, reply: "ok"},
		Speech:     &fakeSpeech{},
		Audio:      audiostore.New(nil, time.Minute),
	}
}

func newTestEnv(t *testing.T, services Services) *testEnv {
	t.Helper()

	cfg := &config.Config{
		AllowedOrigins: []string{"*"},
		StaticDir:      t.TempDir(),
		WriteQueueSize: 16,
	}
	manager := session.NewManager(nil, logging.Discard())
	srv := NewServer(cfg, manager, services, logging.Discard())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		manager.Shutdown()
		ts.Close()
		srv.Close()
	})

	return &testEnv{
		srv:     srv,
		manager: manager,
		http:    ts,
		wsBase:  "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsBase+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *testEnv) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	res, err := http.Post(e.http.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	res, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	return string(data)
}

func sendStart(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"start"}`)))
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(data, &v))
	return v
}

func TestTextInput_StartWithoutBridge(t *testing.T) {
	env := newTestEnv(t, defaultServices())
	browser := env.dial(t, "/ws/text_input")

	sendStart(t, browser)

	assert.Equal(t, messages.StatusNoDevice, readText(t, browser))
}

func TestTextInput_StartWithBridge(t *testing.T) {
	env := newTestEnv(t, defaultServices())
	bridge := env.dial(t, "/ws/bridge")
	require.Eventually(t, env.manager.HasBridge, 2*time.Second, 10*time.Millisecond)

	browser := env.dial(t, "/ws/text_input")
	sendStart(t, browser)

	assert.Equal(t, messages.BridgeStartRecord, readText(t, bridge))
	assert.Equal(t, messages.StatusStartSent, readText(t, browser))
}

func TestTextInput_IgnoresMalformedFrames(t *testing.T) {
	env := newTestEnv(t, defaultServices())
	browser := env.dial(t, "/ws/text_input")

	require.NoError(t, browser.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, browser.WriteMessage(websocket.TextMessage, []byte(`{"command":"stop"}`)))
	require.NoError(t, browser.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	sendStart(t, browser)

	assert.Equal(t, messages.StatusNoDevice, readText(t, browser))
}

func TestTextInput_DisconnectUnregisters(t *testing.T) {
	env := newTestEnv(t, defaultServices())
	browser := env.dial(t, "/ws/text_input")
	require.Eventually(t, func() bool { return env.manager.BrowserCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, browser.Close())

	assert.Eventually(t, func() bool { return env.manager.BrowserCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPushText_BroadcastsToBrowsers(t *testing.T) {
	env := newTestEnv(t, defaultServices())
	a := env.dial(t, "/ws/text_input")
	c := env.dial(t, "/ws/text_input")
	require.Eventually(t, func() bool { return env.manager.BrowserCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	res, body := env.post(t, "/api/push_text", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)

	resp := decode[messages.PushTextResponse](t, body)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.BroadcastTo)

	assert.Equal(t, "hello", readText(t, a))
	assert.Equal(t, "hello", readText(t, c))
}

func TestPushText_NoBrowsers(t *testing.T) {
	env := newTestEnv(t, defaultServices())

	res, body := env.post(t, "/api/push_text", `{"text":"anyone?"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 0, decode[messages.PushTextResponse](t, body).BroadcastTo)
}

func TestPushText_BadRequest(t *testing.T) {
	env := newTestEnv(t, defaultServices())

	for _, body := range []string{`not json`, `{}`, `{"text":null}`} {
		res, data := env.post(t, "/api/push_text", body)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode, body)
		assert.NotEmpty(t, decode[messages.ErrorResponse](t, data).Error)
	}
}

func TestBridge_ReplacementKeepsLatest(t *testing.T) {
	env := newTestEnv(t, defaultServices())

	first := env.dial(t, "/ws/bridge")
	require.Eventually(t, env.manager.HasBridge, 2*time.Second, 10*time.Millisecond)
	second := env.dial(t, "/ws/bridge")

	// The displaced bridge is closed by the server.
	_ = first.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	browser := env.dial(t, "/ws/text_input")
	sendStart(t, browser)

	assert.Equal(t, messages.BridgeStartRecord, readText(t, second))
	assert.Equal(t, messages.StatusStartSent, readText(t, browser))
	assert.True(t, env.manager.HasBridge())
}

func TestBridge_DisconnectClearsSlot(t *testing.T) {
	env := newTestEnv(t, defaultServices())
	bridge := env.dial(t, "/ws/bridge")
	require.Eventually(t, env.manager.HasBridge, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bridge.Close())

	assert.Eventually(t, func() bool { return !env.manager.HasBridge() }, 2*time.Second, 10*time.Millisecond)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, defaultServices())
	env.dial(t, "/ws/text_input")
	require.Eventually(t, func() bool { return env.manager.BrowserCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	res, body := env.get(t, "/health")
	require.Equal(t, http.StatusOK, res.StatusCode)

	health := decode[messages.HealthResponse](t, body)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Browsers)
	assert.False(t, health.Bridge)
}

func TestASR_MissingCredentials(t *testing.T) {
	env := newTestEnv(t, defaultServices())
	conn := env.dial(t, "/ws/asr")

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev messages.TranscriptEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, messages.TypeError, ev.Type)
}

func TestPreCards(t *testing.T) {
	services := defaultServices()
	services.Cards = &fakeCards{cards: []tarot.Card{
		{Name: "The Fool", MeaningUp: "Beginnings"},
		{Name: "The Sun", MeaningUp: "Joy"},
		{Name: "Death", MeaningUp: "Endings"},
		{Name: "The Moon", MeaningUp: "Illusion"},
	}}
	services.Translator = &fakeTranslator{dict: map[string]string{
		"The Fool": "愚人", "Beginnings": "开始",
		"The Sun": "太阳", "Joy": "喜悦",
	}}
	env := newTestEnv(t, services)

	res, body := env.get(t, "/api/precards")
	require.Equal(t, http.StatusOK, res.StatusCode)

	cards := decode[messages.PreCardsResponse](t, body).Cards
	require.Len(t, cards, 3)
	assert.Equal(t, messages.PreparedCard{NameEn: "The Fool", NameZh: "愚人", MeaningUpEn: "Beginnings", MeaningUpZh: "开始"}, cards[0])
	assert.Equal(t, messages.PreparedCard{NameEn: "The Sun", NameZh: "太阳", MeaningUpEn: "Joy", MeaningUpZh: "喜悦"}, cards[1])
	// Untranslatable text falls back to the source.
	assert.Equal(t, messages.PreparedCard{NameEn: "Death", NameZh: "Death", MeaningUpEn: "Endings", MeaningUpZh: "Endings"}, cards[2])
}

func TestPreCards_SourceDown(t *testing.T) {
	services := defaultServices()
	services.Cards = &fakeCards{err: errors.New("connection refused")}
	env := newTestEnv(t, services)

	res, body := env.get(t, "/api/precards")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"cards":[]}`, string(body))
}

func TestDivine(t *testing.T) {
	chat := &fakeChat{configured: true, reply: "宜穿红色。"}
	services := defaultServices()
	services.Chat = chat
	env := newTestEnv(t, services)

	res, body := env.post(t, "/api/divine",
		`{"name":"小明","birth_date":"1995-08-20 14:30","question":"今天穿什么颜色","cards":["愚人","宝剑三"]}`)
	require.Equal(t, http.StatusOK, res.StatusCode)

	resp := decode[messages.DivineResponse](t, body)
	assert.Equal(t, "宜穿红色。", resp.Reply)
	assert.Contains(t, resp.BaziSummary, "命，五行属")

	chat.mu.Lock()
	defer chat.mu.Unlock()
	assert.Contains(t, chat.system, "塔罗")
	assert.Contains(t, chat.user, "小明")
	assert.Contains(t, chat.user, "1. 过去/根源：愚人")
	assert.Contains(t, chat.user, "3. 未来/建议：未知")
}

func TestDivine_Errors(t *testing.T) {
	tests := []struct {
		name       string
		chat       *fakeChat
		body       string
		wantStatus int
		wantError  string
		wantReply  string
	}{
		{
			name:       "bad date",
			chat:       &fakeChat{configured: true},
			body:       `{"name":"a","birth_date":"yesterday","question":"q","cards":[]}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "日期格式错误",
			wantReply:  "请检查出生日期格式是否正确",
		},
		{
			name:       "impossible date",
			chat:       &fakeChat{configured: true},
			body:       `{"name":"a","birth_date":"1995-13-40","question":"q","cards":[]}`,
			wantStatus: http.StatusInternalServerError,
			wantError:  "八字计算失败",
			wantReply:  "命理计算出现错误，请重试",
		},
		{
			name:       "missing key",
			chat:       &fakeChat{},
			body:       `{"name":"a","birth_date":"1995-08-20","question":"q","cards":[]}`,
			wantStatus: http.StatusInternalServerError,
			wantError:  "API密钥未配置",
			wantReply:  "系统配置错误，请联系管理员",
		},
		{
			name:       "model failure",
			chat:       &fakeChat{configured: true, err: errors.New("rate limited")},
			body:       `{"name":"a","birth_date":"1995-08-20","question":"q","cards":[]}`,
			wantStatus: http.StatusInternalServerError,
			wantError:  "AI模型调用失败: ",
			wantReply:  "AI占卜服务暂时不可用",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			services := defaultServices()
			services.Chat = tt.chat
			env := newTestEnv(t, services)

			res, body := env.post(t, "/api/divine", tt.body)
			assert.Equal(t, tt.wantStatus, res.StatusCode)

			resp := decode[messages.ErrorResponse](t, body)
			assert.Contains(t, resp.Error, tt.wantError)
			assert.Contains(t, resp.Reply, tt.wantReply)
		})
	}
}

func TestProcessInput_WithSpeech(t *testing.T) {
	services := defaultServices()
	services.Chat = &fakeChat{configured: true, reply: "今天运势不错"}
	services.Speech = &fakeSpeech{configured: true, audio: []byte("RIFF-audio")}
	env := newTestEnv(t, services)

	res, body := env.post(t, "/api/process_input", `{"text":"我今天运势如何"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)

	resp := decode[messages.ProcessInputResponse](t, body)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "今天运势不错", resp.AIText)
	require.True(t, strings.HasPrefix(resp.AudioURL, "/api/audio/"), resp.AudioURL)

	res, audio := env.get(t, resp.AudioURL)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "audio/wav", res.Header.Get("Content-Type"))
	assert.Equal(t, []byte("RIFF-audio"), audio)
}

func TestProcessInput_SpeechFailureDegrades(t *testing.T) {
	services := defaultServices()
	services.Chat = &fakeChat{configured: true, reply: "好"}
	services.Speech = &fakeSpeech{configured: true, err: errors.New("quota")}
	env := newTestEnv(t, services)

	res, body := env.post(t, "/api/process_input", `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)

	resp := decode[messages.ProcessInputResponse](t, body)
	assert.Equal(t, "好", resp.AIText)
	assert.Empty(t, resp.AudioURL)
}

func TestProcessInput_BadRequest(t *testing.T) {
	env := newTestEnv(t, defaultServices())

	res, _ := env.post(t, "/api/process_input", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestAudio_Unknown(t *testing.T) {
	env := newTestEnv(t, defaultServices())

	res, _ := env.get(t, "/api/audio/8f14e45f-ceea-467f-a0e6-5d4a8f1a6a01")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestPanicIsRecovered(t *testing.T) {
	services := defaultServices()
	services.Cards = &fakeCards{panic: true}
	env := newTestEnv(t, services)

	res, body := env.get(t, "/api/precards")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)

	resp := decode[messages.ErrorResponse](t, body)
	assert.Contains(t, resp.Error, "card deck on fire")
	assert.Equal(t, "系统出现未知错误，请重试", resp.Reply)
}

func TestStaticFiles(t *testing.T) {
	env := newTestEnv(t, defaultServices())
	dir := env.srv.config.StaticDir

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>tarot</h1>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "includes", "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "includes", "css", "site.css"), []byte("body{}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "prediction", "17"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prediction", "17", "index.html"), []byte("card 17"), 0o644))

	res, body := env.get(t, "/")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "<h1>tarot</h1>", string(body))

	res, body = env.get(t, "/includes/css/site.css")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "body{}", string(body))

	res, body = env.get(t, "/prediction/17/")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, bytes.Contains(body, []byte("card 17")))

	res, _ = env.get(t, "/includes/css/")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = env.get(t, "/favicon.ico")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t, defaultServices())

	req, err := http.NewRequest(http.MethodOptions, env.http.URL+"/api/divine", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.NotEmpty(t, res.Header.Get("Access-Control-Allow-Origin"))
}
