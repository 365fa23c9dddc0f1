package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"pollchat/internal/domain"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error_message"`
}

type okResponse struct {
	Success bool `json:"success"`
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindPolicy:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with only its public message. Services have
// already logged storage causes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindStorage {
		hlog.FromRequest(r).Debug().Err(err).Msg("request failed")
	}
	writeJSON(w, statusFor(kind), errorResponse{Error: domain.PublicMessage(err)})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
}

// chatParams reads {chatType} and {chatID} from the route.
func chatParams(r *http.Request) (domain.ChatType, int64, error) {
	chatType, err := domain.ParseChatType(chi.URLParam(r, "chatType"))
	if err != nil {
		return "", 0, err
	}
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil || chatID <= 0 {
		return "", 0, domain.New(domain.KindValidation, "invalid chat id")
	}
	return chatType, chatID, nil
}

// queryInt returns the integer query parameter name, or def when absent.
func queryInt(r *http.Request, name string, def int64) (int64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, domain.New(domain.KindValidation, "invalid "+name+" parameter")
	}
	return v, nil
}
