package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pollchat/internal/domain"
	"pollchat/internal/service"
)

type sessionsResponse struct {
	Success  bool                     `json:"success"`
	Sessions []*domain.SessionSummary `json:"sessions"`
	Groups   []*domain.GroupSummary   `json:"groups"`
}

// handleListSessions godoc
// @Summary      Conversation list
// @Description  Friend sessions and groups with previews and unread counts
// @Tags         sessions
// @Produce      json
// @Success      200  {object}  sessionsResponse
// @Failure      500  {object}  errorResponse
// @Router       /sessions [get]
func handleListSessions(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			unauthorized(w)
			return
		}
		ov, err := convSvc.ListForUser(r.Context(), currentUser.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionsResponse{Success: true, Sessions: ov.Sessions, Groups: ov.Groups})
	}
}

// handleClearSession godoc
// @Summary      Clear a session's unread count
// @Tags         sessions
// @Produce      json
// @Param        sessionID path int true "session id"
// @Success      200  {object}  okResponse
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /sessions/{sessionID}/clear [post]
func handleClearSession(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			unauthorized(w)
			return
		}
		sessionID, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
		if err != nil {
			badRequest(w, "invalid session id")
			return
		}
		if err := convSvc.ClearUnread(r.Context(), currentUser.ID, sessionID); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse{Success: true})
	}
}
