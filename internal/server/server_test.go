package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/christopherjohns/nodchat/internal/chat"
	"github.com/christopherjohns/nodchat/internal/message"
	"github.com/christopherjohns/nodchat/internal/ratelimit"
	"github.com/christopherjohns/nodchat/internal/reply"
	"github.com/christopherjohns/nodchat/internal/room"
	"github.com/christopherjohns/nodchat/internal/user"
	"github.com/christopherjohns/nodchat/internal/ws"
	"github.com/mama165/sdk-go/logs"
	"golang.org/x/crypto/bcrypt"
)

const adminToken = "admin-secret"

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	users := user.NewDirectory(user.NewMemoryStore(), "nodbot", bcrypt.MinCost, log)
	svc := chat.NewService(chat.DefaultConfig(), room.NewRegistry(), message.NewStore(0), users, reply.Static("beep"), log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	opts = append([]Option{
		WithAdminToken(adminToken),
		WithWebsocket(http.NotFoundHandler(), ws.NewConnManager(log)),
	}, opts...)
	return New(":0", svc, users, user.NewTokens("test-secret", time.Hour), log, opts...)
}

func do(srv *Server, method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)
	return w
}

func decodeMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body.Message
}

func login(t *testing.T, srv *Server, username string) string {
	t.Helper()
	if w := do(srv, http.MethodPost, "/api/register", `{"username":"`+username+`","password":"pw"}`); w.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d", username, w.Code)
	}
	w := do(srv, http.MethodPost, "/api/login", `{"username":"`+username+`","password":"pw"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d", username, w.Code)
	}
	var resp loginResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode login: %v", err)
	}
	return resp.Token
}

func createRoom(t *testing.T, srv *Server, name string) string {
	t.Helper()
	w := do(srv, http.MethodPost, "/api/rooms", `{"roomName":"`+name+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create room: status %d", w.Code)
	}
	var r room.Room
	if err := json.NewDecoder(w.Body).Decode(&r); err != nil {
		t.Fatalf("failed to decode room: %v", err)
	}
	return r.ID
}

func TestPing(t *testing.T) {
	srv := newTestServer(t)
	w := do(srv, http.MethodGet, "/ping", "")
	if w.Code != http.StatusOK || w.Body.String() != "pong" {
		t.Errorf("expected 200 pong, got %d %q", w.Code, w.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	createRoom(t, srv, "general")

	w := do(srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var body healthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", body.Status)
	}
	if body.Chat.Rooms != 1 {
		t.Errorf("expected 1 room, got %d", body.Chat.Rooms)
	}
	if body.Connections == nil {
		t.Error("expected connection stats")
	}
}

func TestListRoomsEmpty(t *testing.T) {
	srv := newTestServer(t)
	w := do(srv, http.MethodGet, "/api/rooms", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty JSON array, got %s", w.Body.String())
	}
}

func TestCreateRoomAppearsInList(t *testing.T) {
	srv := newTestServer(t)
	createRoom(t, srv, "Room A")
	createRoom(t, srv, "Room B")

	w := do(srv, http.MethodGet, "/api/rooms", "")
	var rooms []room.Summary
	if err := json.NewDecoder(w.Body).Decode(&rooms); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(rooms) != 2 || rooms[0].Name != "Room A" || rooms[1].Name != "Room B" {
		t.Errorf("expected rooms in creation order, got %+v", rooms)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	srv := newTestServer(t)
	createRoom(t, srv, "general")

	tests := []struct {
		body string
		want string
	}{
		{`{"roomName":""}`, "Room name is required"},
		{`{"roomName":"   "}`, "Room name is required"},
		{`{"roomName":"general"}`, "Room name already taken"},
	}
	for _, tt := range tests {
		w := do(srv, http.MethodPost, "/api/rooms", tt.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tt.body, w.Code)
			continue
		}
		if got := decodeMessage(t, w); got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.body, tt.want, got)
		}
	}
}

func TestCreateRoomInvalidJSON(t *testing.T) {
	srv := newTestServer(t)
	w := do(srv, http.MethodPost, "/api/rooms", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "alice")
	if token == "" {
		t.Fatal("expected a session token")
	}

	w := do(srv, http.MethodPost, "/api/register", `{"username":"alice","password":"other"}`)
	if w.Code != http.StatusBadRequest || decodeMessage(t, w) != "Username taken" {
		t.Errorf("expected Username taken, got %d", w.Code)
	}

	w = do(srv, http.MethodPost, "/api/login", `{"username":"alice","password":"wrong"}`)
	if w.Code != http.StatusUnauthorized || decodeMessage(t, w) != "Invalid credentials" {
		t.Errorf("expected 401 Invalid credentials, got %d", w.Code)
	}
}

func TestRegisterRejects(t *testing.T) {
	srv := newTestServer(t)
	tests := []struct {
		body string
		want string
	}{
		{`{"username":"","password":"pw"}`, "Username and password are required"},
		{`{"username":"bob","password":""}`, "Username and password are required"},
		{`{"username":"NodBot","password":"pw"}`, "Username is reserved"},
	}
	for _, tt := range tests {
		w := do(srv, http.MethodPost, "/api/register", tt.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tt.body, w.Code)
			continue
		}
		if got := decodeMessage(t, w); got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.body, tt.want, got)
		}
	}
}

func TestRegisterMultibytePasswordTooLong(t *testing.T) {
	srv := newTestServer(t)
	body := `{"username":"alice","password":"` + strings.Repeat("é", 40) + `"}`

	w := do(srv, http.MethodPost, "/api/register", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := decodeMessage(t, w); got != "Password is too long" {
		t.Errorf("expected %q, got %q", "Password is too long", got)
	}
}

func TestRegisterRateLimited(t *testing.T) {
	srv := newTestServer(t, WithAuthLimiter(ratelimit.NewIPLimiter(1, time.Minute)))

	do(srv, http.MethodPost, "/api/register", `{"username":"alice","password":"pw"}`)
	w := do(srv, http.MethodPost, "/api/register", `{"username":"bob","password":"pw"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
}

func TestProfileFlow(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "alice")
	auth := []string{"Authorization", "Bearer " + token}

	w := do(srv, http.MethodGet, "/api/user/alice/profile-pic", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before upload, got %d", w.Code)
	}

	img := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)
	w = do(srv, http.MethodPost, "/api/upload-profile", `{"imageBase64":"`+img+`"}`, auth...)
	if w.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(srv, http.MethodGet, "/api/user/alice/profile-pic", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}

	w = do(srv, http.MethodPost, "/api/user/bio", `{"bio":"hello there"}`, auth...)
	if w.Code != http.StatusOK {
		t.Fatalf("bio: expected 200, got %d", w.Code)
	}

	w = do(srv, http.MethodGet, "/api/user/alice", "")
	var profile user.Profile
	if err := json.NewDecoder(w.Body).Decode(&profile); err != nil {
		t.Fatalf("failed to decode profile: %v", err)
	}
	if profile.Bio != "hello there" || !profile.HasProfilePicture {
		t.Errorf("unexpected profile %+v", profile)
	}
}

func TestUploadRequiresToken(t *testing.T) {
	srv := newTestServer(t)
	w := do(srv, http.MethodPost, "/api/upload-profile", `{"imageBase64":"AAAA"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv, "alice")
	text := base64.StdEncoding.EncodeToString([]byte("just some text"))

	w := do(srv, http.MethodPost, "/api/upload-profile", `{"imageBase64":"`+text+`"}`, "Authorization", "Bearer "+token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	w = do(srv, http.MethodPost, "/api/upload-profile", `{"imageBase64":"%%%"}`, "Authorization", "Bearer "+token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad base64, got %d", w.Code)
	}
}

func TestUnknownUser(t *testing.T) {
	srv := newTestServer(t)
	if w := do(srv, http.MethodGet, "/api/user/ghost", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestMembersAndMessages(t *testing.T) {
	srv := newTestServer(t)
	id := createRoom(t, srv, "general")

	if w := do(srv, http.MethodPost, "/api/rooms/"+id+"/members", `{"username":"alice"}`); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := do(srv, http.MethodPost, "/api/rooms/missing/members", `{"username":"alice"}`); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown room, got %d", w.Code)
	}
	if w := do(srv, http.MethodPost, "/api/rooms/"+id+"/members", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without username, got %d", w.Code)
	}

	w := do(srv, http.MethodGet, "/api/rooms/"+id+"/messages", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty history, got %d %s", w.Code, w.Body.String())
	}
	if w := do(srv, http.MethodGet, "/api/rooms/missing/messages", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestReports(t *testing.T) {
	srv := newTestServer(t)
	do(srv, http.MethodPost, "/api/report", `{"username":"mallory"}`)
	do(srv, http.MethodPost, "/api/report", `{"username":"mallory"}`)
	do(srv, http.MethodPost, "/api/report", `{"username":"eve"}`)

	w := do(srv, http.MethodGet, "/api/reports", "")
	var reports []string
	if err := json.NewDecoder(w.Body).Decode(&reports); err != nil {
		t.Fatalf("failed to decode reports: %v", err)
	}
	if len(reports) != 2 || reports[0] != "mallory" || reports[1] != "eve" {
		t.Errorf("expected [mallory eve], got %v", reports)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	srv := newTestServer(t)
	if w := do(srv, http.MethodDelete, "/api/admin/users/alice", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if w := do(srv, http.MethodDelete, "/api/admin/users/alice", "", "Authorization", "Bearer nope"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", w.Code)
	}

	disabled := newTestServer(t, WithAdminToken(""))
	if w := do(disabled, http.MethodGet, "/api/admin/connections", "", "Authorization", "Bearer "+adminToken); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 when admin API is disabled, got %d", w.Code)
	}
}

func TestAdminPurgeUser(t *testing.T) {
	srv := newTestServer(t)
	login(t, srv, "alice")
	admin := []string{"Authorization", "Bearer " + adminToken}

	if w := do(srv, http.MethodDelete, "/api/admin/users/alice", "", admin...); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := do(srv, http.MethodGet, "/api/user/alice", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected purged user to be gone, got %d", w.Code)
	}
	if w := do(srv, http.MethodDelete, "/api/admin/users/alice", "", admin...); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second purge, got %d", w.Code)
	}
}

func TestAdminDeleteRoom(t *testing.T) {
	srv := newTestServer(t)
	id := createRoom(t, srv, "doomed")
	admin := []string{"Authorization", "Bearer " + adminToken}

	if w := do(srv, http.MethodDelete, "/api/admin/rooms/"+id, "", admin...); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := do(srv, http.MethodDelete, "/api/admin/rooms/"+id, "", admin...); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for deleted room, got %d", w.Code)
	}
	if w := do(srv, http.MethodGet, "/api/admin/connections", "", admin...); w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty connection list, got %d %s", w.Code, w.Body.String())
	}
}
