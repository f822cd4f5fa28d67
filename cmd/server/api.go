package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi"
	"github.com/google/uuid"

	"github.com/glimmer-ai/lorekeeper/pkg/db"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/chunker"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/engine"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/interchange"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/prompt"
	"github.com/glimmer-ai/lorekeeper/pkg/knowledge/vectorizer"
)

type apiServer struct {
	logger     *log.Logger
	store      *db.Store
	vectorizer *vectorizer.Service
	engine     *engine.Engine
}

func (a *apiServer) routes(router *chi.Mux) {
	router.Route("/api", func(r chi.Router) {
		r.Post("/evaluate", a.handleEvaluate)
		r.Post("/entries", a.handleCreateEntry)
		r.Post("/entries/{id}/revectorize", a.handleRevectorize)
		r.Get("/entries/{id}/sync", a.handleCheckSync)
		r.Post("/entries/{id}/repair", a.handleRepair)
		r.Post("/conversations/{id}/end", a.handleEndConversation)
		r.Post("/import/lorebook", a.handleImportLorebook)
		r.Get("/export/lorebook", a.handleExportLorebook)
		r.Post("/import/card", a.handleImportCard)
		r.Post("/import/card/png", a.handleImportCardPNG)
		r.Post("/export/card", a.handleExportCard)
		r.Post("/export/card/png", a.handleExportCardPNG)
	})
}

func (a *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("Failed to encode response", "error", err)
	}
}

func (a *apiServer) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusForParseError separates container-level defects (bad input) from
// schema-level ones so callers can tell them apart.
func statusForParseError(err error) int {
	if errors.Is(err, interchange.ErrNotContainer) || errors.Is(err, interchange.ErrUnrecognizedSchema) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

type evaluateRequest struct {
	ConversationID string                `json:"conversation_id"`
	BotID          string                `json:"bot_id"`
	PersonaID      string                `json:"persona_id"`
	Turn           int                   `json:"turn"`
	CollectionID   string                `json:"collection_id"`
	Messages       []knowledge.Message   `json:"messages"`
	Budget         knowledge.Budget      `json:"budget"`
	Bot            prompt.BotProfile     `json:"bot"`
	Persona        prompt.PersonaProfile `json:"persona"`
}

type evaluateResponse struct {
	SystemPrompt    string              `json:"system_prompt"`
	Messages        []knowledge.Message `json:"messages"`
	ActivatedCount  int                 `json:"activated_count"`
	EstimatedTokens int                 `json:"estimated_tokens"`
	EvaluatedCount  int                 `json:"evaluated_count"`
	Degraded        bool                `json:"degraded"`
}

func (a *apiServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := a.store.ListEntriesByCollection(r.Context(), req.CollectionID)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	result, err := a.engine.Evaluate(r.Context(), engine.Request{
		ConversationID: req.ConversationID,
		BotID:          req.BotID,
		PersonaID:      req.PersonaID,
		Turn:           req.Turn,
		Entries:        entries,
		Messages:       req.Messages,
		Budget:         req.Budget,
	})
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	built := prompt.Build(prompt.BuildInput{
		Bot:         req.Bot,
		Persona:     req.Persona,
		Activations: result.Activations,
		History:     req.Messages,
	})
	a.writeJSON(w, http.StatusOK, evaluateResponse{
		SystemPrompt:    built.SystemPrompt,
		Messages:        built.Messages,
		ActivatedCount:  built.ActivatedCount,
		EstimatedTokens: built.EstimatedTokens,
		EvaluatedCount:  result.EvaluatedCount,
		Degraded:        result.Degraded,
	})
}

type createEntryRequest struct {
	knowledge.Entry
	ContentType chunker.ContentType `json:"content_type"`
}

type createEntryResponse struct {
	Entry                  knowledge.Entry `json:"entry"`
	VectorizationAttempted bool            `json:"vectorization_attempted"`
}

func (a *apiServer) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	entry := req.Entry.Normalized()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if err := a.store.CreateEntry(r.Context(), entry); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	attempted := a.vectorizer.VectorizeInBackground(entry, req.ContentType)
	a.writeJSON(w, http.StatusCreated, createEntryResponse{
		Entry:                  entry,
		VectorizationAttempted: attempted,
	})
}

func (a *apiServer) handleRevectorize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	contentType := chunker.ContentType(r.URL.Query().Get("content_type"))
	chunkCount, err := a.vectorizer.Revectorize(r.Context(), id, contentType)
	if err != nil {
		if errors.Is(err, knowledge.ErrEntryNotFound) {
			a.writeError(w, http.StatusNotFound, err)
			return
		}
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int{"chunk_count": chunkCount})
}

func (a *apiServer) handleCheckSync(w http.ResponseWriter, r *http.Request) {
	report, err := a.vectorizer.CheckSync(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, report)
}

func (a *apiServer) handleRepair(w http.ResponseWriter, r *http.Request) {
	contentType := chunker.ContentType(r.URL.Query().Get("content_type"))
	report, err := a.vectorizer.Repair(r.Context(), chi.URLParam(r, "id"), contentType)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, report)
}

func (a *apiServer) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.EndConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handleImportLorebook(w http.ResponseWriter, r *http.Request) {
	collectionID := r.URL.Query().Get("collection_id")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := interchange.ImportLorebook(body, collectionID, a.logger)
	if err != nil {
		a.writeError(w, statusForParseError(err), err)
		return
	}
	if err := a.persistImported(r, entries); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int{"imported": len(entries)})
}

func (a *apiServer) handleExportLorebook(w http.ResponseWriter, r *http.Request) {
	entries, err := a.store.ListEntriesByCollection(r.Context(), r.URL.Query().Get("collection_id"))
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	payload, err := interchange.ExportLorebook(entries)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (a *apiServer) handleImportCard(w http.ResponseWriter, r *http.Request) {
	collectionID := r.URL.Query().Get("collection_id")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	card, err := interchange.ImportCard(body, collectionID, a.logger)
	if err != nil {
		a.writeError(w, statusForParseError(err), err)
		return
	}
	if err := a.persistImported(r, card.Entries); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, card)
}

func (a *apiServer) handleImportCardPNG(w http.ResponseWriter, r *http.Request) {
	collectionID := r.URL.Query().Get("collection_id")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	payload, err := interchange.ExtractCardFromPNG(body)
	if err != nil {
		a.writeError(w, statusForParseError(err), err)
		return
	}
	card, err := interchange.ImportCard(payload, collectionID, a.logger)
	if err != nil {
		a.writeError(w, statusForParseError(err), err)
		return
	}
	if err := a.persistImported(r, card.Entries); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, card)
}

type exportCardRequest struct {
	CollectionID string           `json:"collection_id"`
	Card         interchange.Card `json:"card"`
	ImageBase64  string           `json:"image_base64,omitempty"`
}

func (a *apiServer) handleExportCard(w http.ResponseWriter, r *http.Request) {
	payload, _, err := a.renderCard(w, r)
	if err != nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (a *apiServer) handleExportCardPNG(w http.ResponseWriter, r *http.Request) {
	payload, req, err := a.renderCard(w, r)
	if err != nil {
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	embedded, err := interchange.EmbedCardInPNG(image, payload)
	if err != nil {
		a.writeError(w, statusForParseError(err), err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{
		"image_base64": base64.StdEncoding.EncodeToString(embedded),
	})
}

// renderCard loads the collection's entries into the request card and
// renders the wrapped format. Error responses are already written when
// err is non-nil.
func (a *apiServer) renderCard(w http.ResponseWriter, r *http.Request) ([]byte, *exportCardRequest, error) {
	var req exportCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return nil, nil, err
	}
	entries, err := a.store.ListEntriesByCollection(r.Context(), req.CollectionID)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return nil, nil, err
	}
	req.Card.Entries = entries
	payload, err := interchange.ExportCard(&req.Card)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return nil, nil, err
	}
	return payload, &req, nil
}

func (a *apiServer) persistImported(r *http.Request, entries []knowledge.Entry) error {
	now := time.Now().UTC()
	for _, entry := range entries {
		entry.ID = uuid.New().String()
		entry.CreatedAt = now
		entry.UpdatedAt = now
		if err := a.store.CreateEntry(r.Context(), entry); err != nil {
			return err
		}
	}
	return nil
}
