package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-api/internal/config"
	"github.com/noah-isme/gema-chat-api/internal/database"
	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/handler"
	"github.com/noah-isme/gema-chat-api/internal/middleware"
	"github.com/noah-isme/gema-chat-api/internal/repository"
	"github.com/noah-isme/gema-chat-api/internal/router"
	"github.com/noah-isme/gema-chat-api/internal/service"
)

const testSecret = "router-test-secret"

type memoryStorage struct{}

func (memoryStorage) Upload(_ context.Context, name, kind, checksum string, _ io.Reader) (string, error) {
	return fmt.Sprintf("https://cdn.example.com/%s/%s-%s", kind, checksum[:8], name), nil
}

type stack struct {
	app     *fiber.App
	baseURL string
}

// newStack assembles the full HTTP and websocket surface over an in-memory SQLite database.
func newStack(t *testing.T) *stack {
	t.Helper()
	logger := zerolog.Nop()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Connect(fmt.Sprintf("sqlite://file:router_%s?mode=memory&cache=shared", name), zerolog.Nop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })

	validate := validator.New(validator.WithRequiredStructEnabled())
	messageRepo := repository.NewMessageRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	userRepo := repository.NewUserRepository(db)

	hub := service.NewChatHub(nil, nil, "", logger)
	presence := service.NewPresenceService(userRepo, hub, logger)
	dispatcher := service.NewDispatcher(presence, hub, logger)
	messages := service.NewMessageService(messageRepo, groupRepo, userRepo, service.NewThreadLinker(messageRepo), nil, dispatcher, validate, logger)
	delivery := service.NewDeliveryService(messageRepo, groupRepo, dispatcher, 500, logger)
	reactions := service.NewReactionService(messageRepo, repository.NewReactionRepository(db), groupRepo, dispatcher, logger)
	groups := service.NewGroupService(groupRepo, dispatcher, service.NewLogMailer(logger), validate, time.Hour, logger)
	uploads := service.NewUploadService(memoryStorage{}, repository.NewUploadRepository(db), 1, logger)
	chat := service.NewChatService(service.ChatServiceDeps{
		Hub:        hub,
		Presence:   presence,
		Dispatcher: dispatcher,
		Messages:   messages,
		Delivery:   delivery,
		Reactions:  reactions,
		Groups:     groups,
		Validator:  validate,
	}, logger)

	cfg := config.Config{AppName: "GEMA Chat API", AppEnv: "test"}
	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:         handler.NewChatHandler(chat, logger),
		MessageHandler:      handler.NewMessageHandler(messages, delivery, reactions, logger),
		ConversationHandler: handler.NewConversationHandler(messages, delivery, logger),
		GroupHandler:        handler.NewGroupHandler(groups, messages, delivery, logger),
		UploadHandler:       handler.NewUploadHandler(uploads, logger),
		JWTMiddleware:       middleware.JWTProtected(testSecret),
		HealthProbes: []handler.HealthProbe{
			{Name: "database", Check: func(ctx context.Context) error { return sqlDB.PingContext(ctx) }},
		},
	})

	baseURL, shutdown := startFiberServer(t, app)
	t.Cleanup(shutdown)
	return &stack{app: app, baseURL: baseURL}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *stack) call(t *testing.T, userID, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.baseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	return s.send(t, req)
}

func (s *stack) send(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

type socket struct {
	conn *websocket.Conn
}

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (s *stack) connect(t *testing.T, userID string) *socket {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.baseURL, "http") + "/api/v2/chat/ws?access_token=" + token(t, userID)
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	conn, resp, err := dialer.Dial(url, http.Header{"X-Correlation-ID": {"e2e-" + userID}})
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	ws := &socket{conn: conn}
	// presence is registered once the user shows up in an online list.
	ws.awaitMatch(t, dto.EventOnlineUsers, func(data json.RawMessage) bool {
		var payload dto.OnlineUsersPayload
		return json.Unmarshal(data, &payload) == nil && contains(payload.Users, userID)
	})
	return ws
}

func (ws *socket) emit(t *testing.T, event, requestID string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, ws.conn.WriteJSON(dto.ClientEvent{Event: event, RequestID: requestID, Data: raw}))
}

func (ws *socket) await(t *testing.T, name string) json.RawMessage {
	t.Helper()
	return ws.awaitMatch(t, name, func(json.RawMessage) bool { return true })
}

func (ws *socket) awaitMatch(t *testing.T, name string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	require.NoError(t, ws.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var event wireEvent
		if err := ws.conn.ReadJSON(&event); err != nil {
			t.Fatalf("waiting for %s: %v", name, err)
		}
		if event.Event == name && match(event.Data) {
			return event.Data
		}
	}
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	schemaPath, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err)
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile("file://" + filepath.ToSlash(schemaPath))
	require.NoError(t, err)
	return schema
}

func validateContract(t *testing.T, schema *jsonschema.Schema, body []byte) {
	t.Helper()
	var payload interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NoError(t, schema.Validate(payload), string(body))
}

func dataOf(t *testing.T, body []byte, target interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func TestDirectMessageFlowOverHTTPAndWebsocket(t *testing.T) {
	s := newStack(t)
	alice := s.connect(t, "alice")
	bob := s.connect(t, "bob")

	status, body := s.call(t, "alice", http.MethodPost, "/api/v2/messages", dto.SendMessageRequest{ReceiverID: "bob", Content: "hello <script>x</script>bob"})
	require.Equal(t, http.StatusCreated, status, string(body))
	validateContract(t, compileSchema(t, "message.schema.json"), body)

	var sent dto.MessageResponse
	dataOf(t, body, &sent)
	require.Equal(t, "sent", sent.Status)
	require.NotContains(t, sent.Content, "<script>")

	var received dto.MessageResponse
	require.NoError(t, json.Unmarshal(bob.await(t, dto.EventNewMessage), &received))
	require.Equal(t, sent.ID, received.ID)

	bob.emit(t, dto.EventAckDelivered, "ack-1", dto.AckDeliveredPayload{MessageID: sent.ID})
	var ack dto.AckPayload
	require.NoError(t, json.Unmarshal(bob.await(t, dto.EventAck), &ack))
	require.Equal(t, "ack-1", ack.RequestID)

	var delivered dto.MessageDeliveredPayload
	require.NoError(t, json.Unmarshal(alice.await(t, dto.EventMessageDelivered), &delivered))
	require.Equal(t, sent.ID, delivered.MessageID)

	status, body = s.call(t, "bob", http.MethodPost, "/api/v2/conversations/alice/read", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var read dto.ReadResponse
	dataOf(t, body, &read)
	require.Equal(t, []string{sent.ID}, read.MessageIDs)
	alice.await(t, dto.EventMessagesRead)

	status, body = s.call(t, "alice", http.MethodGet, "/api/v2/conversations/bob", nil)
	require.Equal(t, http.StatusOK, status)
	var history []dto.MessageResponse
	dataOf(t, body, &history)
	require.Len(t, history, 1)
	require.Equal(t, "read", history[0].Status)
}

func TestGroupFlowOverHTTPAndWebsocket(t *testing.T) {
	s := newStack(t)
	bob := s.connect(t, "bob")

	status, body := s.call(t, "alice", http.MethodPost, "/api/v2/groups", dto.CreateGroupRequest{Name: "Study group", Members: []string{"bob"}})
	require.Equal(t, http.StatusCreated, status, string(body))
	validateContract(t, compileSchema(t, "group.schema.json"), body)

	var group dto.GroupResponse
	dataOf(t, body, &group)
	bob.await(t, dto.EventMemberAdded)

	bob.emit(t, dto.EventJoinGroupChannel, "join-1", dto.GroupChannelPayload{GroupID: group.ID})
	bob.await(t, dto.EventAck)

	status, body = s.call(t, "alice", http.MethodPost, "/api/v2/messages", dto.SendMessageRequest{GroupID: group.ID, Content: "welcome"})
	require.Equal(t, http.StatusCreated, status, string(body))
	validateContract(t, compileSchema(t, "message.schema.json"), body)

	var groupMessage dto.MessageResponse
	require.NoError(t, json.Unmarshal(bob.await(t, dto.EventNewGroupMessage), &groupMessage))
	require.Equal(t, "welcome", groupMessage.Content)

	bob.emit(t, dto.EventToggleReaction, "react-1", dto.ToggleReactionPayload{MessageID: groupMessage.ID, Emoji: "🎉"})
	bob.await(t, dto.EventReactionsUpdated)

	status, body = s.call(t, "alice", http.MethodPost, "/api/v2/groups/"+group.ID+"/invite", nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	var invite dto.InviteResponse
	dataOf(t, body, &invite)

	status, body = s.call(t, "carol", http.MethodPost, "/api/v2/groups/join/"+strings.ToLower(invite.Code), nil)
	require.Equal(t, http.StatusOK, status, string(body))
	dataOf(t, body, &group)
	require.Len(t, group.Members, 3)

	status, _ = s.call(t, "mallory", http.MethodGet, "/api/v2/groups/"+group.ID+"/messages", nil)
	require.Equal(t, http.StatusForbidden, status)
}

func TestAttachmentUploadFeedsMessage(t *testing.T) {
	s := newStack(t)

	png := append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 32)...)
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "diagram.png")
	require.NoError(t, err)
	_, err = part.Write(png)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/api/v2/uploads", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))

	status, raw := s.send(t, req)
	require.Equal(t, http.StatusCreated, status, string(raw))
	var upload dto.UploadResponse
	dataOf(t, raw, &upload)
	require.Equal(t, service.AttachmentImage, upload.Kind)

	status, raw = s.call(t, "alice", http.MethodPost, "/api/v2/messages", dto.SendMessageRequest{
		ReceiverID:     "bob",
		AttachmentURL:  upload.URL,
		AttachmentType: upload.MimeType,
	})
	require.Equal(t, http.StatusCreated, status, string(raw))
	var message dto.MessageResponse
	dataOf(t, raw, &message)
	require.Equal(t, "image", message.Type)
}

func TestErrorEnvelopeContract(t *testing.T) {
	s := newStack(t)
	schema := compileSchema(t, "error.schema.json")

	status, body := s.call(t, "alice", http.MethodGet, "/api/v2/messages/00000000-0000-0000-0000-000000000000", nil)
	require.Equal(t, http.StatusNotFound, status)
	validateContract(t, schema, body)

	status, body = s.call(t, "", http.MethodGet, "/api/v2/groups", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	validateContract(t, schema, body)

	status, body = s.call(t, "alice", http.MethodPost, "/api/v2/messages", dto.SendMessageRequest{ReceiverID: "bob", GroupID: "g1", Content: "both"})
	require.Equal(t, http.StatusBadRequest, status)
	validateContract(t, schema, body)
}

func TestWebsocketRequiresToken(t *testing.T) {
	s := newStack(t)
	url := "ws" + strings.TrimPrefix(s.baseURL, "http") + "/api/v2/chat/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestPresenceHealthAndMetricsEndpoints(t *testing.T) {
	s := newStack(t)
	s.connect(t, "alice")

	status, body := s.call(t, "bob", http.MethodGet, "/api/v2/presence/online", nil)
	require.Equal(t, http.StatusOK, status)
	var online dto.OnlineUsersPayload
	dataOf(t, body, &online)
	require.Equal(t, []string{"alice"}, online.Users)

	status, body = s.call(t, "", http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(body), `"database":"up"`)

	status, body = s.call(t, "", http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(body), "http_requests_total")
	require.Contains(t, string(body), "chat_connections_active")
}

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	return "http://" + listener.Addr().String(), shutdown
}
