package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"chatcore/internal/util"
	"chatcore/pkg/domain"
)

const maxBodyBytes = 1 << 20

// handleWebhook authenticates and applies one identity-provider delivery.
// Verification failure is all-or-nothing: a 400 with zero side effects.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	event, err := s.webhook.Verify(body, r.Header)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("webhook rejected", "err", err)
		writeError(w, http.StatusBadRequest, "invalid webhook")
		return
	}
	if err := s.app.ApplyIdentityEvent(r.Context(), event); err != nil {
		// The provider retries on non-2xx, so a transient store failure
		// surfaces as 500 and the delivery comes back.
		util.LoggerFromContext(r.Context()).Error("apply identity event", "err", err)
		writeError(w, http.StatusInternalServerError, "event not applied")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// handleMe returns the provisioned user for the verified identity, or null
// when provisioning has not caught up yet.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, externalID string) {
	user, found, err := s.app.GetCurrentUser(externalID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type grantRequest struct {
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (s *Server) handleGrantCredits(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req grantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.GrantCredits(user.ID, req.Amount, req.IdempotencyKey); err != nil {
		writeAppError(w, err)
		return
	}
	fresh, _, err := s.app.GetCurrentUser(user.ExternalID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"credits": fresh.Credits})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request, _ domain.User) {
	activeOnly := r.URL.Query().Get("all") == ""
	models, err := s.app.ListModels(activeOnly)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleSeedModels(w http.ResponseWriter, r *http.Request) {
	count, err := s.app.SeedModels()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"inserted": count})
}

type createConversationRequest struct {
	ModelID string `json:"modelId"`
	Title   string `json:"title"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req createConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	conversation, err := s.app.CreateConversation(user, req.ModelID, req.Title)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conversation)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, user domain.User) {
	conversations, err := s.app.ListConversations(user, queryInt(r, "limit"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

type appendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req appendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.app.AppendMessage(user, r.PathValue("id"),
		domain.MessageRole(req.Role), req.Content, domain.MessageStatus(req.Status))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	afterSeq, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	msgs, err := s.app.ListMessages(user, r.PathValue("id"), afterSeq, queryInt(r, "limit"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type messageStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleMessageStatus(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req messageStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.TransitionMessageStatus(user, r.PathValue("id"), domain.MessageStatus(req.Status)); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

type messageUsageRequest struct {
	Tokens int `json:"tokens"`
}

func (s *Server) handleMessageUsage(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req messageUsageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.RecordUsage(user, r.PathValue("id"), req.Tokens); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type enqueueImageRequest struct {
	Prompt         string `json:"prompt"`
	Resolution     int    `json:"resolution"`
	ConversationID string `json:"conversationId"`
}

func (s *Server) handleEnqueueImage(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req enqueueImageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	job, err := s.app.EnqueueImage(r.Context(), user, req.Prompt, req.Resolution, req.ConversationID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request, user domain.User) {
	jobs, err := s.app.ListImageJobs(user, queryInt(r, "limit"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request, user domain.User) {
	job, err := s.app.GetImageJob(user, r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleFileURL(w http.ResponseWriter, r *http.Request, _ domain.User) {
	url, err := s.app.FileURL(r.Context(), r.PathValue("key"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleClaimJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.app.ClaimJob(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type completeJobRequest struct {
	ResultRef string `json:"resultRef"`
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	var req completeJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.CompleteJob(r.Context(), r.PathValue("id"), req.ResultRef); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

type failJobRequest struct {
	Error string `json:"error"`
}

func (s *Server) handleFailJob(w http.ResponseWriter, r *http.Request) {
	var req failJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.FailJob(r.Context(), r.PathValue("id"), req.Error); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}
