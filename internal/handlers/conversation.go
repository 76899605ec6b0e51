package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
	"messenger-service/internal/telemetry"
)

// ConversationHandler manages the conversation CRUD surface. Realtime state
// changes go through the websocket layer; these routes only read and create.
type ConversationHandler struct {
	convRepo repositories.ConversationRepository
	msgRepo  repositories.MessageRepository
	userRepo repositories.UserRepository
	audit    *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository, userRepo repositories.UserRepository, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		userRepo: userRepo,
		audit:    audit,
	}
}

type participantView struct {
	ID       int    `json:"id"`
	Username string `json:"username,omitempty"`
}

type conversationResponse struct {
	models.Conversation
	ParticipantDetails []participantView `json:"participantDetails"`
	LastMessage        *models.Message   `json:"lastMessage,omitempty"`
	OtherParticipant   *participantView  `json:"otherParticipant,omitempty"`
}

// ListConversations returns the caller's conversations, most recently active
// first, with last messages and display names resolved.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetInt("userID")

	convs, err := h.convRepo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	participantIDs := lo.Uniq(lo.Flatten(lo.Map(convs, func(conv models.Conversation, _ int) []int {
		return conv.Participants
	})))
	usernames, err := h.userRepo.Usernames(c.Request.Context(), participantIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user info"})
		return
	}

	responses := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		resp := conversationResponse{
			Conversation: conv,
			ParticipantDetails: lo.Map(conv.Participants, func(id int, _ int) participantView {
				return participantView{ID: id, Username: usernames[id]}
			}),
		}

		if conv.LastMessageID != nil {
			if last, err := h.msgRepo.GetMessage(c.Request.Context(), *conv.LastMessageID); err == nil {
				sanitized := last.Sanitized()
				resp.LastMessage = &sanitized
			}
		}

		if !conv.IsGroupChat {
			if other, ok := lo.Find(conv.Participants, func(id int) bool { return id != userID }); ok {
				resp.OtherParticipant = &participantView{ID: other, Username: usernames[other]}
			}
		}

		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, gin.H{"conversations": responses})
}

// StartDirect returns the direct conversation with another user, creating it
// on first request. Repeated requests resolve to the same conversation.
func (h *ConversationHandler) StartDirect(c *gin.Context) {
	var req struct {
		OtherUserID int `json:"otherUserId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if userID == req.OtherUserID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot create conversation with yourself"})
		return
	}

	exists, err := h.userRepo.Exists(c.Request.Context(), req.OtherUserID)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify user"})
		return
	}
	if !exists {
		h.emitAudit(c, "ERROR", "user not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	conv, err := h.convRepo.CreateOrGetDirect(c.Request.Context(), userID, req.OtherUserID)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	h.emitAudit(c, "INFO", "Direct conversation started")
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// CreateGroup creates a group conversation with the caller as admin.
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		GroupName    string `json:"groupName" binding:"required"`
		Participants []int  `json:"participants" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := strings.TrimSpace(req.GroupName)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group name cannot be empty"})
		return
	}
	if len([]rune(name)) > models.MaxGroupNameLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group name is too long"})
		return
	}
	if len(req.Participants) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one participant is required"})
		return
	}

	for _, id := range lo.Uniq(req.Participants) {
		exists, err := h.userRepo.Exists(c.Request.Context(), id)
		if err != nil {
			h.emitAudit(c, "ERROR", "internal error")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify participants"})
			return
		}
		if !exists {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown participant " + strconv.Itoa(id)})
			return
		}
	}

	userID := c.GetInt("userID")
	conv, err := h.convRepo.CreateGroup(c.Request.Context(), userID, name, req.Participants)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}

	h.emitAudit(c, "INFO", "Group created")
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

// GetMessages returns the ordered history of a conversation for a
// participant. Tombstoned messages come back with their content blanked.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	userID := c.GetInt("userID")
	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	msgs, err := h.msgRepo.ListForConversation(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	senderIDs := lo.Uniq(lo.Map(msgs, func(m models.Message, _ int) int { return m.SenderID }))
	usernames, err := h.userRepo.Usernames(c.Request.Context(), senderIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load senders"})
		return
	}

	type messageResponse struct {
		models.Message
		SenderUsername string `json:"senderUsername,omitempty"`
	}

	responses := lo.Map(msgs, func(m models.Message, _ int) messageResponse {
		return messageResponse{Message: m.Sanitized(), SenderUsername: usernames[m.SenderID]}
	})

	c.JSON(http.StatusOK, gin.H{"messages": responses})
}

// UnreadCounts returns the caller's unread totals grouped by conversation.
func (h *ConversationHandler) UnreadCounts(c *gin.Context) {
	userID := c.GetInt("userID")

	counts, err := h.msgRepo.UnreadCountsByConversation(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread counts"})
		return
	}
	if counts == nil {
		counts = []models.UnreadSummary{}
	}

	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (h *ConversationHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
