package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-api/internal/dto"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Details json.RawMessage `json:"details"`
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}

// authenticatedApp mounts routes behind a fake principal.
func authenticatedApp(userID string, prefix string, register func(fiber.Router)) *fiber.App {
	app := fiber.New()
	group := app.Group(prefix, func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user_id", userID)
		}
		return c.Next()
	})
	register(group)
	return app
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func multipartRequest(t *testing.T, target, field, name string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, envelope) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	var payload envelope
	decodeResponse(t, resp, &payload)
	return resp, payload
}

type stubMessageService struct {
	lastUser   string
	lastID     string
	lastSend   dto.SendMessageRequest
	lastEdit   dto.EditMessageRequest
	lastQuery  dto.HistoryQuery
	lastPeer   string
	lastSearch dto.SearchQuery
	message    dto.MessageResponse
	messages   []dto.MessageResponse
	thread     dto.ThreadResponse
	err        error
}

func (s *stubMessageService) Send(_ context.Context, senderID string, req dto.SendMessageRequest) (dto.MessageResponse, error) {
	s.lastUser, s.lastSend = senderID, req
	return s.message, s.err
}

func (s *stubMessageService) Get(_ context.Context, viewerID, messageID string) (dto.MessageResponse, error) {
	s.lastUser, s.lastID = viewerID, messageID
	return s.message, s.err
}

func (s *stubMessageService) Edit(_ context.Context, actorID, messageID string, req dto.EditMessageRequest) (dto.MessageResponse, error) {
	s.lastUser, s.lastID, s.lastEdit = actorID, messageID, req
	return s.message, s.err
}

func (s *stubMessageService) Delete(_ context.Context, actorID, messageID string) (dto.MessageResponse, error) {
	s.lastUser, s.lastID = actorID, messageID
	return s.message, s.err
}

func (s *stubMessageService) Thread(_ context.Context, viewerID, messageID string) (dto.ThreadResponse, error) {
	s.lastUser, s.lastID = viewerID, messageID
	return s.thread, s.err
}

func (s *stubMessageService) Conversation(_ context.Context, viewerID, peerID string, query dto.HistoryQuery) ([]dto.MessageResponse, error) {
	s.lastUser, s.lastPeer, s.lastQuery = viewerID, peerID, query
	return s.messages, s.err
}

func (s *stubMessageService) GroupHistory(_ context.Context, viewerID, groupID string, query dto.HistoryQuery) ([]dto.MessageResponse, error) {
	s.lastUser, s.lastID, s.lastQuery = viewerID, groupID, query
	return s.messages, s.err
}

func (s *stubMessageService) Search(_ context.Context, viewerID string, query dto.SearchQuery) ([]dto.MessageResponse, error) {
	s.lastUser, s.lastSearch = viewerID, query
	return s.messages, s.err
}

type stubDeliveryService struct {
	lastUser string
	lastID   string
	delivery dto.DeliveryResponse
	read     dto.ReadResponse
	err      error
}

func (s *stubDeliveryService) MarkDelivered(_ context.Context, recipientID, messageID string) (dto.DeliveryResponse, error) {
	s.lastUser, s.lastID = recipientID, messageID
	return s.delivery, s.err
}

func (s *stubDeliveryService) MarkConversationRead(_ context.Context, readerID, senderID string) (dto.ReadResponse, error) {
	s.lastUser, s.lastID = readerID, senderID
	return s.read, s.err
}

func (s *stubDeliveryService) MarkGroupRead(_ context.Context, readerID, groupID string) (dto.ReadResponse, error) {
	s.lastUser, s.lastID = readerID, groupID
	return s.read, s.err
}

type stubReactionService struct {
	lastUser  string
	lastID    string
	lastEmoji string
	result    dto.ReactionsResponse
	err       error
}

func (s *stubReactionService) Toggle(_ context.Context, userID, messageID, emoji string) (dto.ReactionsResponse, error) {
	s.lastUser, s.lastID, s.lastEmoji = userID, messageID, emoji
	return s.result, s.err
}

func (s *stubReactionService) List(_ context.Context, userID, messageID string) (dto.ReactionsResponse, error) {
	s.lastUser, s.lastID = userID, messageID
	return s.result, s.err
}

type stubGroupService struct {
	calls    []string
	lastArgs []string
	group    dto.GroupResponse
	groups   []dto.GroupResponse
	invite   dto.InviteResponse
	err      error
}

func (s *stubGroupService) record(name string, args ...string) {
	s.calls = append(s.calls, name)
	s.lastArgs = args
}

func (s *stubGroupService) Create(_ context.Context, creatorID string, req dto.CreateGroupRequest) (dto.GroupResponse, error) {
	s.record("Create", creatorID, req.Name)
	return s.group, s.err
}

func (s *stubGroupService) Get(_ context.Context, viewerID, groupID string) (dto.GroupResponse, error) {
	s.record("Get", viewerID, groupID)
	return s.group, s.err
}

func (s *stubGroupService) ListMine(_ context.Context, userID string) ([]dto.GroupResponse, error) {
	s.record("ListMine", userID)
	return s.groups, s.err
}

func (s *stubGroupService) Update(_ context.Context, actorID, groupID string, req dto.UpdateGroupRequest) (dto.GroupResponse, error) {
	name := ""
	if req.Name != nil {
		name = *req.Name
	}
	s.record("Update", actorID, groupID, name)
	return s.group, s.err
}

func (s *stubGroupService) Delete(_ context.Context, actorID, groupID string) error {
	s.record("Delete", actorID, groupID)
	return s.err
}

func (s *stubGroupService) AddMember(_ context.Context, actorID, groupID string, req dto.AddMemberRequest) (dto.GroupResponse, error) {
	s.record("AddMember", actorID, groupID, req.UserID, req.Role)
	return s.group, s.err
}

func (s *stubGroupService) RemoveMember(_ context.Context, actorID, groupID, userID string) (dto.GroupResponse, error) {
	s.record("RemoveMember", actorID, groupID, userID)
	return s.group, s.err
}

func (s *stubGroupService) UpdateMemberRole(_ context.Context, actorID, groupID, userID string, req dto.UpdateMemberRoleRequest) (dto.GroupResponse, error) {
	s.record("UpdateMemberRole", actorID, groupID, userID, req.Role)
	return s.group, s.err
}

func (s *stubGroupService) Leave(_ context.Context, userID, groupID string) (dto.GroupResponse, error) {
	s.record("Leave", userID, groupID)
	return s.group, s.err
}

func (s *stubGroupService) CreateInvite(_ context.Context, actorID, groupID string, req dto.InviteRequest) (dto.InviteResponse, error) {
	s.record("CreateInvite", append([]string{actorID, groupID}, req.Emails...)...)
	return s.invite, s.err
}

func (s *stubGroupService) JoinByInvite(_ context.Context, userID, code string) (dto.GroupResponse, error) {
	s.record("JoinByInvite", userID, code)
	return s.group, s.err
}

func (s *stubGroupService) Authorize(_ context.Context, userID, groupID string) error {
	s.record("Authorize", userID, groupID)
	return s.err
}

type stubUploadService struct {
	lastUser string
	lastName string
	response dto.UploadResponse
	err      error
}

func (s *stubUploadService) Upload(_ context.Context, file *multipart.FileHeader, userID string) (dto.UploadResponse, error) {
	s.lastUser = userID
	if file != nil {
		s.lastName = file.Filename
	}
	return s.response, s.err
}
