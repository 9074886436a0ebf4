package http

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-match-service/internal/app"
	"quiz-match-service/internal/auth"
	"quiz-match-service/internal/domain"
	"quiz-match-service/internal/infra/memory"
)

func TestWebSocketMatchFlow(t *testing.T) {
	server, verifier := newTestServer(t)
	defer server.Close()

	token, err := verifier.Sign("host-1", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	host := dial(t, server, "?token="+token)
	defer host.Close()

	send(t, host, "create_match", map[string]any{"quizId": "1"})
	_, created := readUntil(t, host, "match_created")
	code, _ := created["matchCode"].(string)
	if len(code) != 6 {
		t.Fatalf("expected match code, got %v", created)
	}
	readUntil(t, host, "you_are_host")

	player := dial(t, server, "")
	defer player.Close()
	send(t, player, "join_lobby", map[string]any{"matchCode": strings.ToLower(code), "displayName": "Alice"})
	_, joined := readUntil(t, player, "join_success")
	if joined["playerToken"] == "" || joined["matchCode"] != code {
		t.Fatalf("unexpected join_success %v", joined)
	}
	_, lobby := readUntil(t, host, "lobby_update")
	if parts, _ := lobby["participants"].([]any); len(parts) < 1 {
		t.Fatalf("expected participants in lobby update, got %v", lobby)
	}

	// A player cannot start the match; the request is ignored.
	send(t, player, "start_match", map[string]any{"matchCode": code})
	send(t, player, "ping_user", map[string]any{"pingSentAt": 42})
	_, pong := readUntil(t, player, "pong_user")
	if pong["pingSentAt"] != float64(42) {
		t.Fatalf("unexpected pong %v", pong)
	}

	send(t, host, "start_match", map[string]any{"matchCode": code})
	readUntil(t, player, "match_started")
	_, question := readUntil(t, player, "round_question")
	if _, leaked := question["options"].([]any)[0].(map[string]any)["correct"]; leaked {
		t.Fatalf("round_question must not reveal the correct option: %v", question)
	}

	send(t, player, "player_answer", map[string]any{
		"matchCode":     code,
		"questionId":    "10",
		"answerId":      101,
		"timeRemaining": 5,
	})
	_, result := readUntil(t, player, "answer_result")
	if result["isCorrect"] != true || result["score"] != float64(150) {
		t.Fatalf("unexpected answer_result %v", result)
	}
	_, answered := readUntil(t, host, "player_answered")
	if answered["name"] != "Alice" {
		t.Fatalf("unexpected player_answered %v", answered)
	}
	_, roundResult := readUntil(t, player, "question_result")
	if roundResult["newScore"] != float64(150) {
		t.Fatalf("unexpected question_result %v", roundResult)
	}
}

func TestWebSocketRejectsAnonymousCreate(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	conn := dial(t, server, "")
	defer conn.Close()

	send(t, conn, "create_match", map[string]any{"quizId": 1})
	readUntil(t, conn, "auth_error")

	send(t, conn, "join_match", map[string]any{"matchCode": "NOPE00", "displayName": "Bob"})
	_, payload := readUntil(t, conn, "match_not_found")
	if payload["matchCode"] != "NOPE00" {
		t.Fatalf("unexpected match_not_found payload %v", payload)
	}

	send(t, conn, "bogus", nil)
	_, errPayload := readUntil(t, conn, "error")
	if errPayload["message"] != "unsupported message type" {
		t.Fatalf("unexpected error payload %v", errPayload)
	}
}

func TestHealthAndQREndpoints(t *testing.T) {
	server, verifier := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("unexpected healthz %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(server.URL + "/matches/NOPE00/qr.png")
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown match, got %d", resp.StatusCode)
	}

	token, _ := verifier.Sign("host-1", time.Hour)
	host := dial(t, server, "?token="+token)
	defer host.Close()
	send(t, host, "create_match", map[string]any{"quizId": 1})
	_, created := readUntil(t, host, "match_created")
	code := created["matchCode"].(string)

	resp, err = http.Get(server.URL + "/matches/" + code + "/qr.png")
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	png, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected qr response %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("expected png body")
	}
}

func TestHostAdvancesRoundOverWebSocket(t *testing.T) {
	server, verifier := newTestServer(t)
	defer server.Close()

	token, _ := verifier.Sign("host-1", time.Hour)
	host := dial(t, server, "?token="+token)
	defer host.Close()
	send(t, host, "create_match", map[string]any{"quizId": 1})
	_, created := readUntil(t, host, "match_created")
	code := created["matchCode"].(string)

	player := dial(t, server, "")
	defer player.Close()
	send(t, player, "join_lobby", map[string]any{"matchCode": code, "displayName": "Alice"})
	readUntil(t, player, "join_success")

	send(t, player, "next_round", map[string]any{"matchCode": code})
	_, denied := readUntil(t, player, "error")
	if denied["message"] != "not authorized for this match" {
		t.Fatalf("expected unauthorized error, got %v", denied)
	}

	send(t, host, "start_match", map[string]any{"matchCode": code})
	readUntil(t, player, "round_question")
	send(t, host, "next_round", map[string]any{"matchCode": code})
	_, result := readUntil(t, player, "question_result")
	if result["isCorrect"] != false || result["newScore"] != float64(0) {
		t.Fatalf("unexpected question_result %v", result)
	}
}

func TestQuizRefreshRequiresHostToken(t *testing.T) {
	server, verifier := newTestServer(t)
	defer server.Close()

	resp, err := http.Post(server.URL+"/quizzes/1/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	token, _ := verifier.Sign("host-1", time.Hour)
	for path, want := range map[string]int{
		"/quizzes/1/refresh":   http.StatusNoContent,
		"/quizzes/abc/refresh": http.StatusBadRequest,
	} {
		req, _ := http.NewRequest(http.MethodPost, server.URL+path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("refresh %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *auth.Verifier) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuiz()), time.Minute)
	hub := NewHub(64, logger)
	service := app.NewMatchService(memory.NewMatchStore(), quizRepo, memory.NewResultRecorder(), hub, app.WithLogger(logger))
	verifier := auth.NewVerifier("test-secret", "quiz-match-service")
	wsHandler := NewWSHandler(service, hub, verifier, logger)
	router := NewRouter(wsHandler, service, RouterConfig{PublicURL: "http://quiz.local"}, logger)
	return httptest.NewServer(router), verifier
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil skips messages until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, expect string) (string, map[string]any) {
	t.Helper()
	for i := 0; i < 20; i++ {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %s: %v", expect, err)
		}
		if msg.Type == expect {
			return msg.Type, msg.Payload
		}
	}
	t.Fatalf("did not receive %s", expect)
	return "", nil
}

func sampleQuiz() map[domain.ID]domain.Quiz {
	return map[domain.ID]domain.Quiz{
		1: {
			ID:    1,
			Title: "Arithmetic",
			Questions: []domain.Question{
				{
					ID:        10,
					Text:      "What is 2 + 2?",
					TimeLimit: 10,
					Options: []domain.AnswerOption{
						{ID: 100, Text: "3", Correct: false},
						{ID: 101, Text: "4", Correct: true},
						{ID: 102, Text: "5", Correct: false},
					},
				},
			},
		},
	}
}
