package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/portfoliokit/curator"
	"github.com/portfoliokit/curator/pkg/models"
)

const maxBodySize = 1 << 20

type collectionStatus struct {
	Running bool   `json:"running"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	collections := map[models.CollectionType]collectionStatus{}
	status := "healthy"
	for _, t := range s.registry.Types() {
		c, err := s.registry.Get(t)
		if err != nil {
			continue
		}
		st := collectionStatus{Running: c.Running(), Records: len(c.Listing())}
		if err := c.Err(); err != nil {
			st.Error = err.Error()
			status = "degraded"
		}
		if !st.Running {
			status = "degraded"
		}
		collections[t] = st
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"readOnly":    s.readOnly(),
		"time":        time.Now().Unix(),
		"collections": collections,
	})
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"collections": s.registry.Types()})
}

type listing struct {
	Collection models.CollectionType `json:"collection"`
	Records    []curator.Entry       `json:"records"`
	// Error is the last sync error of the view; the records may be stale while it is set.
	Error string `json:"error,omitempty"`
}

func listingOf(c curator.Collection) listing {
	l := listing{Collection: c.Type(), Records: c.Listing()}
	if err := c.Err(); err != nil {
		l.Error = err.Error()
	}
	return l
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, listingOf(c))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	entry, err := c.CreateJSON(r.Context(), body)
	if err != nil {
		if statusFor(err) != http.StatusBadRequest {
			s.refreshAfterFailure(r.Context(), c)
		}
		respondFailure(w, err, nil)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	if err := c.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.refreshAfterFailure(r.Context(), c)
		respondFailure(w, err, nil)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	direction, err := models.ParseDirection(vars["direction"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := c.Move(r.Context(), vars["id"], direction)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("collection", string(c.Type())).
			Str("id", vars["id"]).
			Str("direction", string(direction)).
			Msg("move failed")
		s.refreshAfterFailure(r.Context(), c)
		var result any
		if res.Outcome != "" {
			result = res
		}
		respondFailure(w, err, result)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"result":  res,
		"listing": listingOf(c),
	})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	res, err := c.Initialize(r.Context())
	if err != nil {
		s.refreshAfterFailure(r.Context(), c)
		respondFailure(w, err, res)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	res, err := c.Repair(r.Context())
	if err != nil {
		s.refreshAfterFailure(r.Context(), c)
		respondFailure(w, err, res)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	report, err := c.Audit(r.Context())
	if err != nil {
		respondFailure(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"report":     report,
		"healthy":    report.Healthy(),
		"unmigrated": report.Unmigrated(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	if err := c.Refresh(r.Context()); err != nil {
		respondFailure(w, err, listingOf(c))
		return
	}
	respondJSON(w, http.StatusOK, listingOf(c))
}

// refreshAfterFailure re-fetches a collection after a failed mutation. Its own failure is only logged.
func (s *Server) refreshAfterFailure(ctx context.Context, c curator.Collection) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Str("collection", string(c.Type())).Msg("refresh after failure failed")
	}
}
