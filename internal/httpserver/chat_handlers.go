package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"pollchat/internal/domain"
	"pollchat/internal/service"
)

type fileRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type sendRequest struct {
	Content     string       `json:"content"`
	File        *fileRequest `json:"file"`
	IsEncrypted bool         `json:"is_encrypted"`
	ClientMsgID string       `json:"client_msg_id"`
}

type sendResponse struct {
	Success   bool            `json:"success"`
	MessageID int64           `json:"message_id"`
	Message   *domain.Message `json:"message"`
}

// handleSend godoc
// @Summary      Send a message
// @Description  Append a text or file message to a friend or group chat
// @Tags         chats
// @Accept       json
// @Produce      json
// @Param        chatType path string true "friend or group"
// @Param        chatID   path int    true "peer user id or group id"
// @Param        input    body sendRequest true "Message"
// @Success      201  {object}  sendResponse
// @Failure      400  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Router       /chats/{chatType}/{chatID}/messages [post]
func handleSend(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			unauthorized(w)
			return
		}
		chatType, chatID, err := chatParams(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}

		in := service.SendInput{
			ChatType:    chatType,
			ChatID:      chatID,
			Content:     req.Content,
			IsEncrypted: req.IsEncrypted,
			ClientMsgID: req.ClientMsgID,
		}
		if req.File != nil {
			in.File = &service.FileRef{Path: req.File.Path, Name: req.File.Name, Size: req.File.Size}
		}

		msg, err := msgSvc.Send(r.Context(), currentUser.ID, in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sendResponse{Success: true, MessageID: msg.ID, Message: msg})
	}
}

type pollResponse struct {
	Success        bool              `json:"success"`
	Messages       []*domain.Message `json:"messages"`
	HasMore        bool              `json:"has_more"`
	Watermark      int64             `json:"watermark"`
	PollIntervalMS int64             `json:"poll_interval_ms"`
}

// handlePoll godoc
// @Summary      Poll for new messages
// @Description  Messages with id greater than since, oldest first
// @Tags         chats
// @Produce      json
// @Param        chatType path  string true  "friend or group"
// @Param        chatID   path  int    true  "peer user id or group id"
// @Param        since    query int    false "highest message id already seen"
// @Success      200  {object}  pollResponse
// @Router       /chats/{chatType}/{chatID}/messages [get]
func handlePoll(feed *service.FeedService, interval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			unauthorized(w)
			return
		}
		chatType, chatID, err := chatParams(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		since, err := queryInt(r, "since", 0)
		if err != nil {
			writeError(w, r, err)
			return
		}

		batch, err := feed.FetchSince(r.Context(), currentUser.ID, chatType, chatID, since)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pollResponse{
			Success:        true,
			Messages:       batch.Messages,
			HasMore:        batch.HasMore,
			Watermark:      batch.Watermark,
			PollIntervalMS: interval.Milliseconds(),
		})
	}
}

type historyResponse struct {
	Success  bool              `json:"success"`
	Messages []*domain.Message `json:"messages"`
}

// handleHistory godoc
// @Summary      Message history
// @Description  One page of a chat in chronological order; offset counts back from the newest message
// @Tags         chats
// @Produce      json
// @Param        chatType path  string true  "friend or group"
// @Param        chatID   path  int    true  "peer user id or group id"
// @Param        limit    query int    false "page size"
// @Param        offset   query int    false "messages to skip from the newest"
// @Success      200  {object}  historyResponse
// @Failure      400  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Router       /chats/{chatType}/{chatID}/history [get]
func handleHistory(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			unauthorized(w)
			return
		}
		chatType, chatID, err := chatParams(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			writeError(w, r, err)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeError(w, r, err)
			return
		}

		msgs, err := msgSvc.History(r.Context(), currentUser.ID, chatType, chatID, int(limit), int(offset))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if msgs == nil {
			msgs = []*domain.Message{}
		}
		writeJSON(w, http.StatusOK, historyResponse{Success: true, Messages: msgs})
	}
}

// handleAcknowledge godoc
// @Summary      Mark a chat as read
// @Description  Reset the unread counter of a chat and mark a friend's messages read
// @Tags         chats
// @Produce      json
// @Param        chatType path string true "friend or group"
// @Param        chatID   path int    true "peer user id or group id"
// @Success      200  {object}  okResponse
// @Failure      400  {object}  errorResponse
// @Failure      403  {object}  errorResponse
// @Router       /chats/{chatType}/{chatID}/read [post]
func handleAcknowledge(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			unauthorized(w)
			return
		}
		chatType, chatID, err := chatParams(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := convSvc.Acknowledge(r.Context(), currentUser.ID, chatType, chatID); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse{Success: true})
	}
}
