package httpserver

import (
	"encoding/json"
	"net/http"

	"pollchat/internal/domain"
	"pollchat/internal/service"
)

type recallRequest struct {
	ChatType  string `json:"chat_type"`
	MessageID int64  `json:"message_id"`
}

type recallResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleRecall godoc
// @Summary      Recall a message
// @Description  Delete one of your own messages within the recall window
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        input body recallRequest true "Message to recall"
// @Success      200  {object}  recallResponse
// @Failure      404  {object}  recallResponse
// @Failure      422  {object}  recallResponse
// @Router       /recall [post]
func handleRecall(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			unauthorized(w)
			return
		}
		var req recallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if req.ChatType == "" {
			req.ChatType = string(domain.ChatFriend)
		}
		chatType, err := domain.ParseChatType(req.ChatType)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, recallResponse{Message: domain.PublicMessage(err)})
			return
		}

		if err := msgSvc.Recall(r.Context(), currentUser.ID, chatType, req.MessageID); err != nil {
			writeJSON(w, statusFor(domain.KindOf(err)), recallResponse{Message: domain.PublicMessage(err)})
			return
		}
		writeJSON(w, http.StatusOK, recallResponse{Success: true, Message: "message recalled"})
	}
}

type markReadRequest struct {
	IDs []int64 `json:"ids"`
}

// handleMarkRead godoc
// @Summary      Mark messages read
// @Description  Mark the given messages addressed to you as read
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        input body markReadRequest true "Message ids"
// @Success      200  {object}  okResponse
// @Failure      400  {object}  errorResponse
// @Router       /messages/read [post]
func handleMarkRead(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			unauthorized(w)
			return
		}
		var req markReadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if err := msgSvc.MarkRead(r.Context(), currentUser.ID, req.IDs); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse{Success: true})
	}
}

type unreadResponse struct {
	Success bool                    `json:"success"`
	Count   int                     `json:"count"`
	Chats   []*domain.UnreadCounter `json:"chats"`
}

// handleUnread godoc
// @Summary      Unread counts
// @Description  Total unread friend messages and the per chat counters
// @Tags         messages
// @Produce      json
// @Success      200  {object}  unreadResponse
// @Failure      500  {object}  errorResponse
// @Router       /messages/unread [get]
func handleUnread(msgSvc *service.MessageService, convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			unauthorized(w)
			return
		}
		count, err := msgSvc.UnreadCount(r.Context(), currentUser.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		chats, err := convSvc.UnreadCounters(r.Context(), currentUser.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, unreadResponse{Success: true, Count: count, Chats: chats})
	}
}
