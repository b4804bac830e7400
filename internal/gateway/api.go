// ABOUTME: HTTP API handlers for conversations, messages, the expert queue and update pulls
// ABOUTME: Maps service errors onto status codes and renders JSON responses

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/helpdesk-gateway/internal/auth"
	"github.com/2389/helpdesk-gateway/internal/helpdesk"
	"github.com/2389/helpdesk-gateway/internal/store"
	"github.com/2389/helpdesk-gateway/internal/updates"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// CreateConversationRequest is the JSON request body for POST /conversations.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// SendMessageRequest is the JSON request body for POST /messages.
type SendMessageRequest struct {
	ConversationID flexibleID `json:"conversationId"`
	Content        string     `json:"content"`
}

// UpdateProfileRequest is the JSON request body for PUT /expert/profile.
type UpdateProfileRequest struct {
	Bio                string   `json:"bio"`
	KnowledgeBaseLinks []string `json:"knowledgeBaseLinks"`
}

// successResponse is returned by state-changing routes without a body of their own.
type successResponse struct {
	Success bool `json:"success"`
}

// flexibleID accepts an id sent either as a JSON string or a JSON number,
// since ids are rendered as strings but older clients send numbers.
type flexibleID int64

func (id *flexibleID) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return errors.New("id must be an integer")
	}
	*id = flexibleID(n)
	return nil
}

// apiRoutes builds the authenticated route table.
func (g *Gateway) apiRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /conversations", g.handleListConversations)
	mux.HandleFunc("POST /conversations", g.handleCreateConversation)
	mux.HandleFunc("GET /conversations/{id}", g.handleGetConversation)
	mux.HandleFunc("GET /conversations/{id}/messages", g.handleListMessages)

	mux.HandleFunc("POST /messages", g.handleSendMessage)
	mux.HandleFunc("PUT /messages/{id}/read", g.handleMarkRead)

	mux.Handle("GET /expert/queue", g.requireExpert(g.handleExpertQueue))
	mux.Handle("POST /expert/conversations/{id}/claim", g.requireExpert(g.handleClaim))
	mux.Handle("POST /expert/conversations/{id}/unclaim", g.requireExpert(g.handleUnclaim))
	mux.Handle("POST /expert/conversations/{id}/resolve", g.requireExpert(g.handleResolve))
	mux.Handle("GET /expert/profile", g.requireExpert(g.handleGetProfile))
	mux.Handle("PUT /expert/profile", g.requireExpert(g.handleUpdateProfile))
	mux.Handle("GET /expert/assignments/history", g.requireExpert(g.handleAssignmentHistory))

	mux.HandleFunc("GET /api/conversations/updates", g.handleConversationUpdates)
	mux.HandleFunc("GET /api/messages/updates", g.handleMessageUpdates)
	mux.HandleFunc("GET /api/expert-queue/updates", g.handleExpertQueueUpdates)
	mux.HandleFunc("GET /api/updates/stream", g.handleStream)

	return mux
}

// requireExpert rejects callers without an expert profile with 403.
func (g *Gateway) requireExpert(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := auth.MustFromContext(r.Context()).UserID
		if err := g.helpdesk.RequireExpert(r.Context(), userID); err != nil {
			g.sendServiceError(w, err, "expert profile required")
			return
		}
		next(w, r)
	})
}

// handleListConversations handles GET /conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustFromContext(r.Context()).UserID
	convs, err := g.helpdesk.ListConversations(r.Context(), userID)
	if err != nil {
		g.sendServiceError(w, err, "")
		return
	}
	g.sendJSON(w, http.StatusOK, convs)
}

// handleCreateConversation handles POST /conversations.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	userID := auth.MustFromContext(r.Context()).UserID
	conv, err := g.helpdesk.CreateConversation(r.Context(), userID, req.Title)
	if err != nil {
		g.sendServiceError(w, err, "")
		return
	}
	g.sendJSON(w, http.StatusCreated, conv)
}

// handleGetConversation handles GET /conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := g.pathID(w, r)
	if !ok {
		return
	}

	userID := auth.MustFromContext(r.Context()).UserID
	conv, err := g.helpdesk.GetConversation(r.Context(), userID, id)
	if err != nil {
		g.sendServiceError(w, err, "conversation not found")
		return
	}
	g.sendJSON(w, http.StatusOK, conv)
}

// handleListMessages handles GET /conversations/{id}/messages.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := g.pathID(w, r)
	if !ok {
		return
	}

	msgs, err := g.helpdesk.ListMessages(r.Context(), id)
	if err != nil {
		g.sendServiceError(w, err, "conversation not found")
		return
	}
	g.sendJSON(w, http.StatusOK, msgs)
}

// handleSendMessage handles POST /messages.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	userID := auth.MustFromContext(r.Context()).UserID
	msg, err := g.helpdesk.SendMessage(r.Context(), userID, int64(req.ConversationID), req.Content)
	if err != nil {
		g.sendServiceError(w, err, "conversation not found")
		return
	}
	g.sendJSON(w, http.StatusCreated, msg)
}

// handleMarkRead handles PUT /messages/{id}/read.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := g.pathID(w, r)
	if !ok {
		return
	}

	userID := auth.MustFromContext(r.Context()).UserID
	if err := g.helpdesk.MarkRead(r.Context(), userID, id); err != nil {
		g.sendServiceError(w, err, "message not found")
		return
	}
	g.sendJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleExpertQueue handles GET /expert/queue.
func (g *Gateway) handleExpertQueue(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustFromContext(r.Context()).UserID
	queue, err := g.helpdesk.Queue(r.Context(), userID)
	if err != nil {
		g.sendServiceError(w, err, "")
		return
	}
	g.sendJSON(w, http.StatusOK, queue)
}

// handleClaim handles POST /expert/conversations/{id}/claim.
func (g *Gateway) handleClaim(w http.ResponseWriter, r *http.Request) {
	g.assignmentAction(w, r, g.helpdesk.Claim)
}

// handleUnclaim handles POST /expert/conversations/{id}/unclaim.
func (g *Gateway) handleUnclaim(w http.ResponseWriter, r *http.Request) {
	g.assignmentAction(w, r, g.helpdesk.Unclaim)
}

// handleResolve handles POST /expert/conversations/{id}/resolve.
func (g *Gateway) handleResolve(w http.ResponseWriter, r *http.Request) {
	g.assignmentAction(w, r, g.helpdesk.Resolve)
}

func (g *Gateway) assignmentAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, expertID, conversationID int64) error) {
	id, ok := g.pathID(w, r)
	if !ok {
		return
	}

	userID := auth.MustFromContext(r.Context()).UserID
	if err := action(r.Context(), userID, id); err != nil {
		g.sendServiceError(w, err, "conversation not found")
		return
	}
	g.sendJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleGetProfile handles GET /expert/profile.
func (g *Gateway) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustFromContext(r.Context()).UserID
	profile, err := g.helpdesk.Profile(r.Context(), userID)
	if err != nil {
		g.sendServiceError(w, err, "expert profile not found")
		return
	}
	g.sendJSON(w, http.StatusOK, profile)
}

// handleUpdateProfile handles PUT /expert/profile.
func (g *Gateway) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	userID := auth.MustFromContext(r.Context()).UserID
	profile, err := g.helpdesk.UpdateProfile(r.Context(), userID, req.Bio, req.KnowledgeBaseLinks)
	if err != nil {
		g.sendServiceError(w, err, "expert profile not found")
		return
	}
	g.sendJSON(w, http.StatusOK, profile)
}

// handleAssignmentHistory handles GET /expert/assignments/history.
func (g *Gateway) handleAssignmentHistory(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustFromContext(r.Context()).UserID
	history, err := g.helpdesk.AssignmentHistory(r.Context(), userID)
	if err != nil {
		g.sendServiceError(w, err, "")
		return
	}
	g.sendJSON(w, http.StatusOK, history)
}

// handleConversationUpdates handles GET /api/conversations/updates.
func (g *Gateway) handleConversationUpdates(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.callerParam(w, r, "userId")
	if !ok {
		return
	}
	since, ok := g.sinceParam(w, r)
	if !ok {
		return
	}
	convs, err := g.queries.ConversationsSince(r.Context(), userID, since)
	if err != nil {
		g.sendServiceError(w, err, "")
		return
	}
	g.sendJSON(w, http.StatusOK, convs)
}

// handleMessageUpdates handles GET /api/messages/updates.
func (g *Gateway) handleMessageUpdates(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.callerParam(w, r, "userId")
	if !ok {
		return
	}
	since, ok := g.sinceParam(w, r)
	if !ok {
		return
	}
	msgs, err := g.queries.MessagesSince(r.Context(), userID, since)
	if err != nil {
		g.sendServiceError(w, err, "")
		return
	}
	g.sendJSON(w, http.StatusOK, msgs)
}

// handleExpertQueueUpdates handles GET /api/expert-queue/updates.
// The queue is wrapped in a one-element array for client compatibility.
func (g *Gateway) handleExpertQueueUpdates(w http.ResponseWriter, r *http.Request) {
	expertID, ok := g.callerParam(w, r, "expertId")
	if !ok {
		return
	}
	if err := g.helpdesk.RequireExpert(r.Context(), expertID); err != nil {
		g.sendServiceError(w, err, "")
		return
	}
	since, ok := g.sinceParam(w, r)
	if !ok {
		return
	}
	queue, err := g.queries.ExpertQueueSince(r.Context(), expertID, since)
	if err != nil {
		g.sendServiceError(w, err, "")
		return
	}
	g.sendJSON(w, http.StatusOK, []helpdesk.QueuePayload{queue})
}

// callerParam checks that the named query parameter is the caller's own id.
// Requests for another user's updates get 401.
func (g *Gateway) callerParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	userID := auth.MustFromContext(r.Context()).UserID
	if r.URL.Query().Get(name) != strconv.FormatInt(userID, 10) {
		g.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}
	return userID, true
}

// sinceParam parses the optional since watermark, answering 400 when malformed.
func (g *Gateway) sinceParam(w http.ResponseWriter, r *http.Request) (*time.Time, bool) {
	since, err := updates.ParseSince(r.URL.Query().Get("since"))
	if err != nil {
		g.sendServiceError(w, err, "")
		return nil, false
	}
	return since, true
}

// pathID parses the {id} path segment. Ids that cannot exist are reported as not found.
func (g *Gateway) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return 0, false
	}
	return id, true
}

// decodeJSON decodes the request body into dst, answering 400 on malformed input.
func (g *Gateway) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// sendServiceError maps service and store errors onto HTTP status codes.
// notFound overrides the message for store.ErrNotFound.
func (g *Gateway) sendServiceError(w http.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		if notFound == "" {
			notFound = "not found"
		}
		g.sendJSONError(w, http.StatusNotFound, notFound)
	case errors.Is(err, updates.ErrInvalidTimestamp):
		g.sendJSONError(w, http.StatusBadRequest, "invalid timestamp format")
	case errors.Is(err, helpdesk.ErrNotExpert):
		g.sendJSONError(w, http.StatusForbidden, "expert profile required")
	case errors.Is(err, helpdesk.ErrForbidden), errors.Is(err, store.ErrNotAssignee):
		g.sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, helpdesk.ErrInvalidInput),
		errors.Is(err, store.ErrAlreadyAssigned),
		errors.Is(err, store.ErrInvalidState):
		g.sendJSONError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
