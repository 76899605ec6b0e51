package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
	"messenger-service/internal/telemetry"
)

func setupConversationRouter(handler *ConversationHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/conversations", handler.ListConversations)
	r.POST("/conversations/direct", handler.StartDirect)
	r.POST("/conversations/group", handler.CreateGroup)
	r.GET("/conversations/:conversation_id/messages", handler.GetMessages)
	r.GET("/messages/unread/counts", handler.UnreadCounts)
	return r
}

func TestListConversationsSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewConversationHandler(convRepo, msgRepo, userRepo, nil)
	router := setupConversationRouter(handler)

	lastID := 9
	convRepo.On("ListForUser", mock.Anything, 1).Return([]models.Conversation{
		{ID: 3, Participants: []int{1, 2}, LastMessageID: &lastID},
	}, nil).Once()
	userRepo.On("Usernames", mock.Anything, []int{1, 2}).Return(map[int]string{1: "alice", 2: "bob"}, nil).Once()
	msgRepo.On("GetMessage", mock.Anything, 9).Return(models.Message{ID: 9, ConversationID: 3, SenderID: 2, Content: "hi"}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []struct {
			ID               int `json:"id"`
			OtherParticipant *struct {
				ID       int    `json:"id"`
				Username string `json:"username"`
			} `json:"otherParticipant"`
			LastMessage *struct {
				Content string `json:"content"`
			} `json:"lastMessage"`
		} `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	require.NotNil(t, resp.Conversations[0].OtherParticipant)
	assert.Equal(t, 2, resp.Conversations[0].OtherParticipant.ID)
	assert.Equal(t, "bob", resp.Conversations[0].OtherParticipant.Username)
	require.NotNil(t, resp.Conversations[0].LastMessage)
	assert.Equal(t, "hi", resp.Conversations[0].LastMessage.Content)

	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestListConversationsRepoError(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserRepositoryMock), nil)
	router := setupConversationRouter(handler)

	convRepo.On("ListForUser", mock.Anything, 1).Return(([]models.Conversation)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStartDirectSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewConversationHandler(convRepo, new(mocks.MessageRepositoryMock), userRepo, nil)
	router := setupConversationRouter(handler)

	userRepo.On("Exists", mock.Anything, 2).Return(true, nil).Once()
	convRepo.On("CreateOrGetDirect", mock.Anything, 1, 2).Return(models.Conversation{ID: 3, Participants: []int{1, 2}}, nil).Once()

	body := bytes.NewBufferString(`{"otherUserId":2}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	convRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestStartDirectRejectsSelf(t *testing.T) {
	handler := NewConversationHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), new(mocks.UserRepositoryMock), nil)
	router := setupConversationRouter(handler)

	body := bytes.NewBufferString(`{"otherUserId":1}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartDirectUnknownUser(t *testing.T) {
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewConversationHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), userRepo, nil)
	router := setupConversationRouter(handler)

	userRepo.On("Exists", mock.Anything, 2).Return(false, nil).Once()

	body := bytes.NewBufferString(`{"otherUserId":2}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateGroupSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewConversationHandler(convRepo, new(mocks.MessageRepositoryMock), userRepo, nil)
	router := setupConversationRouter(handler)

	userRepo.On("Exists", mock.Anything, 2).Return(true, nil).Once()
	userRepo.On("Exists", mock.Anything, 3).Return(true, nil).Once()
	convRepo.On("CreateGroup", mock.Anything, 1, "team", []int{2, 3}).Return(models.Conversation{ID: 7, IsGroupChat: true, GroupName: "team"}, nil).Once()

	body := bytes.NewBufferString(`{"groupName":" team ","participants":[2,3]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/group", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	convRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestCreateGroupValidation(t *testing.T) {
	handler := NewConversationHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), new(mocks.UserRepositoryMock), nil)
	router := setupConversationRouter(handler)

	for name, payload := range map[string]string{
		"blank name":      `{"groupName":"   ","participants":[2]}`,
		"name too long":   `{"groupName":"` + string(bytes.Repeat([]byte("x"), models.MaxGroupNameLength+1)) + `","participants":[2]}`,
		"no participants": `{"groupName":"team","participants":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/conversations/group", bytes.NewBufferString(payload))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateGroupEmitsAudit(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.messenger", "messenger-service", "test")
	handler := NewConversationHandler(convRepo, new(mocks.MessageRepositoryMock), userRepo, emitter)
	router := setupConversationRouter(handler)

	userRepo.On("Exists", mock.Anything, 2).Return(true, nil).Once()
	convRepo.On("CreateGroup", mock.Anything, 1, "team", []int{2}).Return(models.Conversation{ID: 7, IsGroupChat: true, GroupName: "team"}, nil).Once()

	var envelope telemetry.AuditEnvelope
	publisher.On("Publish", mock.Anything, "audit.messenger", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		envelope = args.Get(2).(telemetry.AuditEnvelope)
	}).Return(nil).Once()

	body := bytes.NewBufferString(`{"groupName":"team","participants":[2]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/group", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	publisher.AssertExpectations(t)
	assert.Equal(t, "audit_log", envelope.EventType)
	assert.Equal(t, "INFO", envelope.Payload.Level)
	assert.Equal(t, "Group created", envelope.Payload.Text)
	require.NotNil(t, envelope.UserID)
	assert.Equal(t, 1, *envelope.UserID)
	assert.NotEmpty(t, envelope.RequestID)
}

func TestStartDirectEmitsAuditOnFailure(t *testing.T) {
	userRepo := new(mocks.UserRepositoryMock)
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.messenger", "messenger-service", "test")
	handler := NewConversationHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), userRepo, emitter)
	router := setupConversationRouter(handler)

	userRepo.On("Exists", mock.Anything, 2).Return(false, nil).Once()

	var envelope telemetry.AuditEnvelope
	publisher.On("Publish", mock.Anything, "audit.messenger", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		envelope = args.Get(2).(telemetry.AuditEnvelope)
	}).Return(nil).Once()

	body := bytes.NewBufferString(`{"otherUserId":2}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	publisher.AssertExpectations(t)
	assert.Equal(t, "ERROR", envelope.Payload.Level)
	assert.Equal(t, "user not found", envelope.Payload.Text)
}

func TestGetMessagesSanitizesTombstones(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewConversationHandler(convRepo, msgRepo, userRepo, nil)
	router := setupConversationRouter(handler)

	convRepo.On("IsParticipant", mock.Anything, 3, 1).Return(true, nil).Once()
	msgRepo.On("ListForConversation", mock.Anything, 3).Return([]models.Message{
		{ID: 5, ConversationID: 3, SenderID: 2, Content: "hello", Timestamp: time.Now()},
		{ID: 6, ConversationID: 3, SenderID: 2, Content: "secret", IsDeleted: true, Timestamp: time.Now()},
	}, nil).Once()
	userRepo.On("Usernames", mock.Anything, []int{2}).Return(map[int]string{2: "bob"}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/3/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []struct {
			ID             int    `json:"id"`
			Content        string `json:"content"`
			IsDeleted      bool   `json:"isDeleted"`
			SenderUsername string `json:"senderUsername"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "hello", resp.Messages[0].Content)
	assert.Equal(t, "bob", resp.Messages[0].SenderUsername)
	assert.True(t, resp.Messages[1].IsDeleted)
	assert.Empty(t, resp.Messages[1].Content)
}

func TestGetMessagesForbiddenForNonParticipant(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewConversationHandler(convRepo, msgRepo, new(mocks.UserRepositoryMock), nil)
	router := setupConversationRouter(handler)

	convRepo.On("IsParticipant", mock.Anything, 3, 1).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/3/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	msgRepo.AssertNotCalled(t, "ListForConversation", mock.Anything, mock.Anything)
}

func TestUnreadCountsEmpty(t *testing.T) {
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewConversationHandler(new(mocks.ConversationRepositoryMock), msgRepo, new(mocks.UserRepositoryMock), nil)
	router := setupConversationRouter(handler)

	msgRepo.On("UnreadCountsByConversation", mock.Anything, 1).Return(([]models.UnreadSummary)(nil), nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/unread/counts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"counts":[]}`, rec.Body.String())
}

func TestUnreadCountsSuccess(t *testing.T) {
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewConversationHandler(new(mocks.ConversationRepositoryMock), msgRepo, new(mocks.UserRepositoryMock), nil)
	router := setupConversationRouter(handler)

	msgRepo.On("UnreadCountsByConversation", mock.Anything, 1).Return([]models.UnreadSummary{
		{ConversationID: 3, Unread: 4},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/unread/counts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Counts []models.UnreadSummary `json:"counts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Counts, 1)
	assert.Equal(t, 3, resp.Counts[0].ConversationID)
	assert.Equal(t, 4, resp.Counts[0].Unread)
}
