package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/retailstream/concierge/runtime/chat/admission"
	"github.com/retailstream/concierge/runtime/chat/provider"
	"github.com/retailstream/concierge/runtime/chat/session"
)

type (
	// turner runs one conversational turn, streaming output to the writer.
	// Satisfied by *pipeline.Splicer.
	turner interface {
		Turn(ctx context.Context, conversationID, content string, out io.Writer) error
	}

	server struct {
		splicer  turner
		provider provider.Client
		sessions session.Store
		origin   string
	}

	messageRequest struct {
		Content string `json:"content"`
	}

	conversationResponse struct {
		ConversationID string `json:"conversationId"`
	}

	historyResponse struct {
		Messages []session.Turn `json:"messages"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

// newHandler mounts the API routes, the health check and the CORS policy.
// ctx carries the configured logger for request logging.
func newHandler(ctx context.Context, s *server, checker health.Checker, debugLogs bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/conversations", s.createConversation)
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.postMessage)
	mux.HandleFunc("GET /api/conversations/{id}/history", s.getHistory)
	mux.HandleFunc("DELETE /api/conversations/{id}/history", s.clearHistory)
	mux.Handle("GET /healthz", health.Handler(checker))
	mux.Handle("GET /livez", health.Handler(health.NewChecker()))

	var handler http.Handler = mux
	handler = s.cors(handler)
	if debugLogs {
		handler = debug.HTTP()(handler)
	}
	handler = log.HTTP(ctx)(handler)
	return handler
}

func (s *server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) createConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := s.provider.CreateConversation(ctx)
	if err != nil {
		log.Errorf(ctx, err, "creating conversation")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "could not create conversation"})
		return
	}
	if _, err := s.sessions.Create(ctx, id); err != nil {
		log.Errorf(ctx, err, "registering conversation %s", id)
	}
	writeJSON(w, http.StatusCreated, conversationResponse{ConversationID: id})
}

func (s *server) postMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "content is required"})
		return
	}

	// Headers must go out before the first streamed byte; failures past this
	// point surface inside the stream, not as a status code.
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")

	err := s.splicer.Turn(ctx, id, req.Content, w)
	switch {
	case err == nil:
	case errors.Is(err, admission.ErrTurnActive):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "a reply is already being generated for this conversation"})
	default:
		log.Errorf(ctx, err, "starting turn for conversation %s", id)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "could not start a reply"})
	}
}

func (s *server) getHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	turns, err := s.sessions.History(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "conversation not found"})
	case err != nil:
		log.Errorf(ctx, err, "loading history for conversation %s", id)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load history"})
	default:
		if turns == nil {
			turns = []session.Turn{}
		}
		writeJSON(w, http.StatusOK, historyResponse{Messages: turns})
	}
}

func (s *server) clearHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	err := s.sessions.Clear(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "conversation not found"})
	case err != nil:
		log.Errorf(ctx, err, "clearing history for conversation %s", id)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not clear history"})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf(context.Background(), err, "encoding response")
	}
}
