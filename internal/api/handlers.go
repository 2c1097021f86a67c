package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/ghostpost/internal/ingest"
	"github.com/ignite/ghostpost/internal/llm"
	"github.com/ignite/ghostpost/internal/mailer"
	"github.com/ignite/ghostpost/internal/pkg/logger"
	"github.com/ignite/ghostpost/internal/reply"
	"github.com/ignite/ghostpost/internal/security"
	"github.com/ignite/ghostpost/internal/store"
)

// handleHealth reports process and dependency status. Always 200; the
// body carries per-component state.
//
//	GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"database": "up", "redis": "up"}
	status := "healthy"

	if err := s.store.DB().PingContext(ctx); err != nil {
		checks["database"] = "down"
		status = "unhealthy"
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = "down"
		if status == "healthy" {
			status = "degraded"
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
		"checks": checks,
	})
}

// handleTriage returns the scored action list.
//
//	GET /api/triage?limit=10
func (s *Server) handleTriage(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	snap, err := s.triage.GetTriageData(r.Context(), limit)
	if err != nil {
		logger.Error("triage failed", "error", err)
		respondError(w, http.StatusInternalServerError, "triage failed")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

type ingestRequest struct {
	From        string             `json:"from"`
	To          []string           `json:"to"`
	Subject     string             `json:"subject"`
	BodyPlain   string             `json:"body_plain"`
	BodyHTML    string             `json:"body_html,omitempty"`
	Date        *time.Time         `json:"date,omitempty"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
}

// handleIngest is the mail-provider webhook: one inbound message in,
// stored email out.
//
//	POST /api/ingest
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.From == "" {
		respondError(w, http.StatusBadRequest, "from is required")
		return
	}

	email, err := s.pipeline.Ingest(r.Context(), ingest.Inbound{
		From:        req.From,
		To:          req.To,
		Subject:     req.Subject,
		BodyPlain:   req.BodyPlain,
		BodyHTML:    req.BodyHTML,
		Date:        req.Date,
		ReceivedAt:  time.Now().UTC(),
		Attachments: req.Attachments,
	})
	if err != nil {
		logger.Error("ingest failed", "error", err)
		respondError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"email_id":  email.ID,
		"thread_id": email.ThreadID,
	})
}

type sendRequest struct {
	ThreadID *int64   `json:"thread_id,omitempty"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
}

type sendResponse struct {
	Sent      bool     `json:"sent"`
	MessageID string   `json:"message_id,omitempty"`
	EmailID   int64    `json:"email_id,omitempty"`
	Reasons   []string `json:"reasons,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// handleSend runs the send gate and, on allow, delivers the message,
// stores the outbound email, advances the thread and bumps the rate
// counter.
//
//	POST /api/send
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.To) == 0 || req.Body == "" {
		respondError(w, http.StatusBadRequest, "to and body are required")
		return
	}

	ctx := r.Context()
	decision := s.gate.CheckSendAllowed(ctx, req.To, req.Body, req.ThreadID)
	if !decision.Allowed {
		respondJSON(w, http.StatusForbidden, sendResponse{
			Reasons:  decision.Reasons,
			Warnings: decision.Warnings,
		})
		return
	}

	messageID, err := s.sender.Send(ctx, mailer.Message{
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err != nil {
		logger.Error("send failed", "error", err)
		respondError(w, http.StatusBadGateway, "mail provider send failed")
		return
	}

	emailID, err := s.recordOutbound(ctx, req, messageID)
	if err != nil {
		// Delivered but not fully recorded; surface the send anyway.
		logger.Error("outbound bookkeeping failed", "message_id", messageID, "error", err)
	}

	respondJSON(w, http.StatusOK, sendResponse{
		Sent:      true,
		MessageID: messageID,
		EmailID:   emailID,
		Warnings:  decision.Warnings,
	})
}

// recordOutbound persists the sent email, advances the thread state,
// bumps the hourly counter and writes the audit trail.
func (s *Server) recordOutbound(ctx context.Context, req sendRequest, messageID string) (int64, error) {
	var emailID int64
	if req.ThreadID != nil {
		email := &store.Email{
			ThreadID:    *req.ThreadID,
			ToAddresses: store.NewAddressList(req.To...),
			BodyPlain:   req.Body,
			IsSent:      true,
			IsRead:      true,
			ReceivedAt:  time.Now().UTC(),
		}
		if err := s.store.CreateEmail(ctx, email); err != nil {
			return 0, err
		}
		emailID = email.ID

		if err := s.threads.RecordOutboundSent(ctx, security.GateActor, *req.ThreadID); err != nil {
			return emailID, err
		}
	}

	if _, err := s.rate.IncrementSendRate(ctx, security.GateActor); err != nil {
		logger.Warn("rate counter increment failed", "error", err)
	}
	s.events.LogAction(ctx, security.GateActor, "email_sent", messageID, map[string]interface{}{
		"to_count": len(req.To),
		"subject":  req.Subject,
	})
	return emailID, nil
}

type replyRequest struct {
	Instructions string `json:"instructions,omitempty"`
	Style        string `json:"style,omitempty"`
}

// handleReply drafts a reply for the thread and queues it for approval.
//
//	POST /api/threads/{id}/reply
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	threadID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid thread id")
		return
	}

	var req replyRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	ctx := r.Context()
	result, err := s.composer.GenerateReply(ctx, threadID, req.Instructions, req.Style)
	switch {
	case errors.Is(err, reply.ErrThreadNotFound):
		respondError(w, http.StatusNotFound, "thread not found")
		return
	case errors.Is(err, reply.ErrNoEmails):
		respondError(w, http.StatusConflict, "no emails in thread")
		return
	case errors.Is(err, llm.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "reply generation not available")
		return
	case err != nil:
		logger.Error("reply generation failed", "thread_id", threadID, "error", err)
		respondError(w, http.StatusInternalServerError, "reply generation failed")
		return
	}

	draft := &store.Draft{
		ThreadID: threadID,
		To:       store.NewAddressList(result.To...),
		Subject:  result.Subject,
		Body:     result.Body,
		Status:   store.DraftPending,
	}
	if err := s.store.CreateDraft(ctx, draft); err != nil {
		logger.Error("draft store failed", "thread_id", threadID, "error", err)
		respondError(w, http.StatusInternalServerError, "draft store failed")
		return
	}
	s.notifier.NotifyDraftReady(ctx, threadID, draft.ID, result.Subject)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"draft_id": draft.ID,
		"reply":    result,
	})
}

// handleContextRefresh regenerates the full context directory.
//
//	POST /api/context/refresh
func (s *Server) handleContextRefresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := s.projector.WriteAllContextFiles(r.Context()); err != nil {
		logger.Error("context refresh failed", "error", err)
		respondError(w, http.StatusInternalServerError, "context refresh failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"refreshed":   true,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// handleSecurityEvents lists unresolved security events.
//
//	GET /api/security/events
func (s *Server) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListPendingSecurityEvents(r.Context())
	if err != nil {
		logger.Error("security event list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "security event list failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

// handleResolveEvent marks a security event dismissed or approved.
//
//	POST /api/security/events/{id}/resolve
func (s *Server) handleResolveEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Resolution != store.ResolutionDismissed && req.Resolution != store.ResolutionApproved {
		respondError(w, http.StatusBadRequest, "resolution must be dismissed or approved")
		return
	}

	if err := s.store.ResolveSecurityEvent(r.Context(), eventID, req.Resolution); err != nil {
		logger.Error("event resolve failed", "event_id", eventID, "error", err)
		respondError(w, http.StatusInternalServerError, "event resolve failed")
		return
	}
	s.events.LogAction(r.Context(), "user", "security_event_resolved",
		strconv.FormatInt(eventID, 10), map[string]interface{}{"resolution": req.Resolution})
	respondJSON(w, http.StatusOK, map[string]interface{}{"resolved": true})
}
