package playground

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codekids/pyquest/pkg/auth"
	"github.com/codekids/pyquest/pkg/celebrate"
	"github.com/codekids/pyquest/pkg/lessons"
	"github.com/codekids/pyquest/pkg/runstore"
	"github.com/codekids/pyquest/pkg/shared"
)

type credit struct {
	sessionID string
	lessonID  string
	reward    lessons.Reward
}

type recordingNotifier struct {
	mu      sync.Mutex
	credits []credit
}

func (n *recordingNotifier) Credit(ctx context.Context, sessionID, lessonID string, reward lessons.Reward) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.credits = append(n.credits, credit{sessionID, lessonID, reward})
	return nil
}

func newTestServer(t *testing.T) (*Server, *recordingNotifier) {
	t.Helper()
	catalog, err := lessons.Default()
	if err != nil {
		t.Fatalf("lessons.Default: %v", err)
	}
	store, err := runstore.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("runstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	notifier := &recordingNotifier{}
	srv := NewServer(catalog, store, notifier)
	srv.chatDelay = func(*lessons.Lesson) time.Duration { return 0 }
	srv.seed = func() int64 { return 1 }
	return srv, notifier
}

func tokenFor(t *testing.T, sessionID string) string {
	t.Helper()
	token, err := auth.GenerateGuestToken(sessionID)
	if err != nil {
		t.Fatalf("GenerateGuestToken: %v", err)
	}
	return token
}

// post sends body as JSON to path with the given guest token.
func post(t *testing.T, srv *Server, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeRun(t *testing.T, w *httptest.ResponseRecorder) RunResponse {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp RunResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestRunFinishedAndChecked(t *testing.T) {
	srv, _ := newTestServer(t)
	token := tokenFor(t, "s1")

	resp := decodeRun(t, post(t, srv, "/api/run", token, runRequest{LessonID: "hello", Source: `print("Hello, World!")`}))
	if resp.Status != "finished" {
		t.Fatalf("status = %s", resp.Status)
	}
	if resp.Check == nil || !resp.Check.Passed {
		t.Errorf("check = %+v", resp.Check)
	}
	if resp.Celebration == "" {
		t.Error("passing run should be celebrated")
	}

	resp = decodeRun(t, post(t, srv, "/api/run", token, runRequest{LessonID: "hello", Source: `print("Hello")`}))
	if resp.Check == nil || resp.Check.Passed || resp.Check.Line != 1 {
		t.Errorf("wrong output check = %+v", resp.Check)
	}
	if resp.Celebration != "" {
		t.Errorf("failed check celebrated with %q", resp.Celebration)
	}
}

func TestRunFailureIsClassified(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := decodeRun(t, post(t, srv, "/api/run", tokenFor(t, "s1"), runRequest{
		LessonID: "variables",
		Source:   "name = \"Luna\"\nprint(nmae)",
	}))
	if resp.Status != "failed" {
		t.Fatalf("status = %s", resp.Status)
	}
	if resp.Error == nil || resp.Error.Title == "" {
		t.Fatalf("error = %+v", resp.Error)
	}
	if resp.Line != 2 {
		t.Errorf("line = %d, want 2", resp.Line)
	}
	if resp.Output == nil {
		t.Error("output should be an empty list, not null")
	}
}

func TestRunRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	token := tokenFor(t, "s1")
	tests := []struct {
		name   string
		token  string
		body   interface{}
		status int
	}{
		{"no token", "", runRequest{LessonID: "hello", Source: "print(1)"}, http.StatusUnauthorized},
		{"unknown lesson", token, runRequest{LessonID: "nope", Source: "print(1)"}, http.StatusNotFound},
		{"unknown field", token, map[string]string{"lessonId": "hello", "code": "print(1)"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, srv, "/api/run", tt.token, tt.body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/run status = %d", w.Code)
	}
}

func TestPauseAndResume(t *testing.T) {
	srv, _ := newTestServer(t)
	token := tokenFor(t, "s1")
	lesson, _ := srv.catalog.Get("input")

	resp := decodeRun(t, post(t, srv, "/api/run", token, runRequest{LessonID: "input", Source: lesson.Starter}))
	if resp.Status != "waiting" || resp.Prompt != "What is your name? " || resp.ResumeToken == "" {
		t.Fatalf("run = %+v", resp)
	}

	resumed := decodeRun(t, post(t, srv, "/api/resume", token, resumeRequest{ResumeToken: resp.ResumeToken, Input: "Max"}))
	want := []string{"What is your name? ", "Nice to meet you, Max!"}
	if resumed.Status != "finished" || !reflect.DeepEqual(resumed.Output, want) {
		t.Fatalf("resume = %+v", resumed)
	}
	if resumed.Check == nil || !resumed.Check.Passed {
		t.Errorf("check = %+v", resumed.Check)
	}

	again := post(t, srv, "/api/resume", token, resumeRequest{ResumeToken: resp.ResumeToken, Input: "Max"})
	if again.Code != http.StatusGone {
		t.Errorf("second resume status = %d, want %d", again.Code, http.StatusGone)
	}
}

func TestResumeThroughSeveralPrompts(t *testing.T) {
	srv, _ := newTestServer(t)
	token := tokenFor(t, "s1")
	lesson, _ := srv.catalog.Get("chatbot")

	resp := decodeRun(t, post(t, srv, "/api/run", token, runRequest{LessonID: "chatbot", Source: lesson.Starter}))
	for _, answer := range []string{"Max", "10"} {
		if resp.Status != "waiting" {
			t.Fatalf("expected a prompt before answering %q, got %+v", answer, resp)
		}
		resp = decodeRun(t, post(t, srv, "/api/resume", token, resumeRequest{ResumeToken: resp.ResumeToken, Input: answer}))
	}
	if resp.Status != "finished" || resp.Check == nil || !resp.Check.Passed {
		t.Fatalf("final = %+v", resp)
	}
	if count, _ := srv.store.Count(context.Background()); count != 0 {
		t.Errorf("%d suspended runs left behind", count)
	}
}

func TestResumeRequiresOwningSession(t *testing.T) {
	srv, _ := newTestServer(t)
	owner := tokenFor(t, "owner")
	lesson, _ := srv.catalog.Get("input")
	resp := decodeRun(t, post(t, srv, "/api/run", owner, runRequest{LessonID: "input", Source: lesson.Starter}))

	w := post(t, srv, "/api/resume", tokenFor(t, "intruder"), resumeRequest{ResumeToken: resp.ResumeToken, Input: "x"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign session status = %d", w.Code)
	}
	resumed := decodeRun(t, post(t, srv, "/api/resume", owner, resumeRequest{ResumeToken: resp.ResumeToken, Input: "Max"}))
	if resumed.Status != "finished" {
		t.Errorf("owner could not resume after a rejected attempt: %+v", resumed)
	}

	w = post(t, srv, "/api/resume", owner, resumeRequest{ResumeToken: "garbage", Input: "x"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d", w.Code)
	}
	w = post(t, srv, "/api/resume", owner, resumeRequest{ResumeToken: owner, Input: "x"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("guest token as resume token status = %d", w.Code)
	}
}

func TestQuizComplete(t *testing.T) {
	srv, notifier := newTestServer(t)
	w := post(t, srv, "/api/quiz/complete", tokenFor(t, "s1"), quizRequest{LessonID: "loops"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp QuizResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	lesson, _ := srv.catalog.Get("loops")
	if !resp.Success || resp.Reward != lesson.Reward || resp.Celebration == "" {
		t.Errorf("resp = %+v", resp)
	}
	want := []credit{{"s1", "loops", lesson.Reward}}
	if !reflect.DeepEqual(notifier.credits, want) {
		t.Errorf("credits = %+v, want %+v", notifier.credits, want)
	}

	if w := post(t, srv, "/api/quiz/complete", tokenFor(t, "s1"), quizRequest{LessonID: "nope"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown lesson status = %d", w.Code)
	}
}

func TestLessonEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/lessons", nil))
	var summaries []lessons.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(summaries) != len(srv.catalog.All()) || summaries[0].ID != "hello" {
		t.Errorf("summaries = %+v", summaries)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/lesson?id=hello", nil))
	var lesson lessons.Lesson
	if err := json.Unmarshal(w.Body.Bytes(), &lesson); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if lesson.ID != "hello" || !strings.Contains(lesson.Starter, "print") {
		t.Errorf("lesson = %+v", lesson)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/lesson?id=missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing lesson status = %d", w.Code)
	}
}

func TestRunRateLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.limiter = newRateLimiter(2, time.Minute)
	token := tokenFor(t, "s1")
	for i := 0; i < 2; i++ {
		if w := post(t, srv, "/api/run", token, runRequest{LessonID: "hello", Source: "print(1)"}); w.Code != http.StatusOK {
			t.Fatalf("run %d status = %d", i, w.Code)
		}
	}
	if w := post(t, srv, "/api/run", token, runRequest{LessonID: "hello", Source: "print(1)"}); w.Code != http.StatusTooManyRequests {
		t.Errorf("third run status = %d", w.Code)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || rl.Allow("a") {
		t.Fatal("limit of 1 not enforced")
	}
	if !rl.Allow("b") {
		t.Error("limits must be per key")
	}
	now = now.Add(2 * time.Minute)
	if !rl.Allow("a") {
		t.Error("window did not reset")
	}
	if !newRateLimiter(0, time.Minute).Allow("x") {
		t.Error("zero limit should disable the limiter")
	}
}

func TestCelebrationsArePerSession(t *testing.T) {
	srv, _ := newTestServer(t)
	a1 := srv.celebrate("a", celebrate.KindRunPassed)
	b1 := srv.celebrate("b", celebrate.KindRunPassed)
	if a1 != b1 {
		t.Errorf("same seed, fresh sessions: %q vs %q", a1, b1)
	}
	if a2 := srv.celebrate("a", celebrate.KindRunPassed); a2 == a1 {
		t.Errorf("session a saw %q twice in a row", a1)
	}
}

func dialChat(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Origin", "http://localhost:8080")
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/ws/chat?lesson=chatbot", header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) shared.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg shared.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func expectMessage(t *testing.T, conn *websocket.Conn, typ shared.MessageType, text string) shared.Message {
	t.Helper()
	msg := readMessage(t, conn)
	if msg.Type != typ || msg.Text != text {
		t.Fatalf("got %s %q, want %s %q", msg.Type, msg.Text, typ, text)
	}
	return msg
}

func TestChatConversation(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	conn := dialChat(t, ts.URL, tokenFor(t, "chatter"))
	lesson, _ := srv.catalog.Get("chatbot")

	if err := conn.WriteJSON(shared.Message{Type: shared.MessageTypeRun, Source: lesson.Starter}); err != nil {
		t.Fatal(err)
	}
	expectMessage(t, conn, shared.MessageTypeOutput, "Hi! I am Robo.")
	expectMessage(t, conn, shared.MessageTypePrompt, "What is your name? ")

	conn.WriteJSON(shared.Message{Type: shared.MessageTypeInput, Text: "Max"})
	expectMessage(t, conn, shared.MessageTypeOutput, "Hello Max!")
	expectMessage(t, conn, shared.MessageTypePrompt, "How old are you? ")

	conn.WriteJSON(shared.Message{Type: shared.MessageTypeInput, Text: "10"})
	expectMessage(t, conn, shared.MessageTypeOutput, "Wow, double digits!")
	expectMessage(t, conn, shared.MessageTypeOutput, "Next year you will be 11.")
	done := readMessage(t, conn)
	if done.Type != shared.MessageTypeDone || !done.Passed || done.Celebration == "" {
		t.Errorf("done = %+v", done)
	}
}

func TestChatErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	conn := dialChat(t, ts.URL, tokenFor(t, "chatter"))

	conn.WriteJSON(shared.Message{Type: shared.MessageTypeInput, Text: "hello?"})
	if msg := readMessage(t, conn); msg.Type != shared.MessageTypeError || msg.Text == "" {
		t.Errorf("input before run = %+v", msg)
	}

	conn.WriteJSON(shared.Message{Type: shared.MessageTypeRun, Source: "print(\"hi\"\n"})
	msg := readMessage(t, conn)
	if msg.Type != shared.MessageTypeError || msg.Error == nil || msg.Line != 1 {
		t.Errorf("broken program = %+v", msg)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	if msg := readMessage(t, conn); msg.Type != shared.MessageTypeError {
		t.Errorf("malformed frame = %+v", msg)
	}
}

func TestChatRejectsForeignOrigin(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tokenFor(t, "s1"))
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/chat", header)
	if err == nil {
		t.Fatal("dial from a foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %+v", resp)
	}
}
