package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"buzzer-quiz-service/internal/app"
	"buzzer-quiz-service/internal/domain"
	"buzzer-quiz-service/internal/infra/memory"
	"github.com/gorilla/websocket"
)

func TestWebSocketAnswerFlow(t *testing.T) {
	service := newTestService()
	session, err := service.CreateSession(context.Background(), app.CreateSessionRequest{HostID: "host-1", QuizID: "quiz-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	server := newTestServer(service)
	defer server.Close()

	host := dial(t, server)
	defer host.Close()
	send(t, host, "join-session", map[string]any{"code": session.Code, "role": "host"})
	readUntil(t, host, "participants-list")

	student := dial(t, server)
	defer student.Close()
	send(t, student, "join-session", map[string]any{"code": session.Code, "role": "student", "name": "Alice"})
	_, joined := readUntil(t, student, "session-joined")
	participant, ok := joined["participant"].(map[string]any)
	if !ok || participant["name"] != "Alice" {
		t.Fatalf("expected participant Alice in session-joined, got %+v", joined)
	}
	readUntil(t, student, "participants-list")

	send(t, host, "start-quiz", nil)
	readUntil(t, student, "question-started")
	readUntil(t, student, "question-open")

	send(t, student, "submit-answer", map[string]any{"questionId": "q1", "answer": "4"})
	_, result := readUntil(t, student, "answer-received")
	if result["isCorrect"] != true || result["points"] != float64(100) {
		t.Fatalf("expected correct answer worth 100, got %+v", result)
	}
	_, lb := readUntil(t, host, "leaderboard-update")
	entries, _ := lb["leaderboard"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected one leaderboard entry, got %+v", lb)
	}
}

func TestWebSocketErrorsGoToSenderOnly(t *testing.T) {
	service := newTestService()
	session, err := service.CreateSession(context.Background(), app.CreateSessionRequest{HostID: "host-1", QuizID: "quiz-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	server := newTestServer(service)
	defer server.Close()

	student := dial(t, server)
	defer student.Close()
	send(t, student, "join-session", map[string]any{"code": session.Code, "role": "student", "name": "Bob"})
	readUntil(t, student, "participants-list")

	send(t, student, "start-quiz", nil)
	_, payload := readUntil(t, student, "error")
	if payload["message"] != domain.ErrPermissionDenied.Error() {
		t.Fatalf("expected permission denied, got %+v", payload)
	}
}

func TestWebSocketRejectsMalformedAnalyticsRequest(t *testing.T) {
	service := newTestService()
	session, err := service.CreateSession(context.Background(), app.CreateSessionRequest{HostID: "host-1", QuizID: "quiz-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	server := newTestServer(service)
	defer server.Close()

	host := dial(t, server)
	defer host.Close()
	send(t, host, "join-session", map[string]any{"code": session.Code, "role": "host"})
	readUntil(t, host, "participants-list")

	send(t, host, "get-analytics", 42)
	_, payload := readUntil(t, host, "error")
	if payload["message"] != "invalid get-analytics payload" {
		t.Fatalf("expected invalid payload error, got %+v", payload)
	}
}

func TestWebSocketRequiresJoinFirst(t *testing.T) {
	server := newTestServer(newTestService())
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	send(t, conn, "start-quiz", nil)
	readUntil(t, conn, "error")
}

func TestWebSocketUnknownSession(t *testing.T) {
	server := newTestServer(newTestService())
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	send(t, conn, "join-session", map[string]any{"code": "ZZZ-999", "role": "student", "name": "Carol"})
	_, payload := readUntil(t, conn, "error")
	if payload["message"] != domain.ErrSessionNotFound.Error() {
		t.Fatalf("expected session not found, got %+v", payload)
	}
}

func newTestService() *app.QuizService {
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuiz()), time.Minute)
	return app.NewQuizService(memory.NewStore(), quizRepo, memory.NewSessionRegistry(), memory.NewSnapshotStore())
}

func newTestServer(service *app.QuizService) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(service).ServeWS)
	NewAPIHandler(service, nil).Register(mux)
	return httptest.NewServer(mux)
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws"
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

// readUntil skips broadcasts until a message of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) (string, map[string]any) {
	t.Helper()
	for i := 0; i < 20; i++ {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg.Type, msg.Payload
		}
	}
	t.Fatalf("did not receive %s", want)
	return "", nil
}

func sampleQuiz() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Arithmetic",
			Questions: []domain.Question{
				{
					ID:            "q1",
					Text:          "What is 2 + 2?",
					Type:          domain.QuestionMultipleChoice,
					Options:       []string{"3", "4", "5"},
					CorrectAnswer: "4",
					Points:        100,
					TimeLimit:     30,
				},
				{
					ID:            "q2",
					Text:          "Name the capital of France",
					Type:          domain.QuestionBuzzer,
					CorrectAnswer: "Paris",
					Points:        200,
					TimeLimit:     20,
				},
			},
		},
	}
}
