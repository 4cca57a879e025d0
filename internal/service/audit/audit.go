package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"veilchat/internal/model"
	"veilchat/internal/transparency"
	"veilchat/internal/utils/log"
)

type (
	// EnvelopeReader resolves message ids to stored envelopes for proof
	// lookups; the audit surface never writes.
	EnvelopeReader interface {
		Get(ctx context.Context, msgID string) (*model.Envelope, error)
	}

	// Service is the read-only query surface over the transparency log.
	Service struct {
		tlog      *transparency.Log
		sths      transparency.STHStore
		envelopes EnvelopeReader
		healthy   func() bool
	}

	verifyRequest struct {
		LeafHash []byte            `json:"leaf_hash"`
		Path     []model.ProofStep `json:"path"`
		Root     []byte            `json:"root"`
		Index    uint64            `json:"index"`
	}

	verifyResponse struct {
		Valid bool `json:"valid"`
	}
)

func NewService(tlog *transparency.Log, sths transparency.STHStore, envelopes EnvelopeReader, healthy func() bool) *Service {
	if healthy == nil {
		healthy = func() bool { return true }
	}
	return &Service{tlog: tlog, sths: sths, envelopes: envelopes, healthy: healthy}
}

// Register mounts the audit routes.
func (s *Service) Register(r *mux.Router) {
	r.HandleFunc("/audit/sth/latest", s.LatestSTH()).Methods(http.MethodGet)
	r.HandleFunc("/audit/sth/history", s.STHHistory()).Methods(http.MethodGet)
	r.HandleFunc("/audit/proof", s.Proof()).Methods(http.MethodGet)
	r.HandleFunc("/audit/verify", s.Verify()).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.Health()).Methods(http.MethodGet)
}

func (s *Service) LatestSTH() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := s.sths.Latest(r.Context())
		if err != nil {
			log.Error("latest sth lookup failed", zap.Error(err))
			http.Error(w, "sth lookup failed", http.StatusInternalServerError)
			return
		}
		if rec == nil {
			http.Error(w, "no tree head yet", http.StatusNotFound)
			return
		}
		writeJSON(w, rec)
	}
}

func (s *Service) STHHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := int64(50)
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed <= 0 {
				http.Error(w, "bad limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		recs, err := s.sths.History(r.Context(), limit)
		if err != nil {
			log.Error("sth history lookup failed", zap.Error(err))
			http.Error(w, "sth lookup failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, recs)
	}
}

func (s *Service) Proof() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgID := r.URL.Query().Get("message_id")
		if msgID == "" {
			http.Error(w, "message_id required", http.StatusBadRequest)
			return
		}

		env, err := s.envelopes.Get(r.Context(), msgID)
		if err != nil {
			log.Error("proof envelope lookup failed", zap.String("msg_id", msgID), zap.Error(err))
			http.Error(w, "envelope lookup failed", http.StatusInternalServerError)
			return
		}
		if env == nil {
			http.Error(w, "no such message", http.StatusNotFound)
			return
		}

		proof, err := s.tlog.Tree().Prove(env.TreeIndex)
		if err != nil {
			http.Error(w, "no proof for message", http.StatusNotFound)
			return
		}
		writeJSON(w, proof)
	}
}

func (s *Service) Verify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
		// The path's side tags encode the leaf position, so a proof that
		// folds to the root but claims a different index is still invalid.
		valid := transparency.VerifyProof(req.LeafHash, req.Path, req.Root) &&
			transparency.ProofPosition(req.Path) == req.Index
		writeJSON(w, verifyResponse{Valid: valid})
	}
}

// Health never touches the tree write lock: tree size is read from an
// atomic snapshot so latency stays bounded under append contention.
func (s *Service) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.healthy() {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{
			"status":    "ok",
			"tree_size": s.tlog.Tree().Size(),
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encode response failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
