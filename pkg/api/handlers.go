package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sigweihq/dotclaim/pkg/constants"
	"github.com/sigweihq/dotclaim/pkg/types"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := types.StatusResponse{
		Scheme:   s.opts.Scheme.Name(),
		Sessions: s.sessions.len(),
	}
	if s.opts.Status != nil {
		resp.LedgerEndpoint = s.opts.Status.Endpoint()
		resp.LedgerLoading = s.opts.Status.Loading()
		if err := s.opts.Status.Err(); err != nil {
			resp.LedgerError = err.Error()
		}
	}
	if s.opts.Totals != nil && !resp.LedgerLoading && resp.LedgerError == "" {
		ctx, cancel := context.WithTimeout(r.Context(), constants.StorageReadTimeout)
		defer cancel()
		total, err := s.opts.Totals.TotalClaims(ctx)
		if err != nil {
			s.logger.Warn("failed to read total claims", "error", err)
		} else {
			resp.TotalClaims = total.String()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.create(r.Context())
	if err != nil {
		s.logger.Error("failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, snapshotOf(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.remove(mux.Vars(r)["id"]) {
		writeClaimError(w, errSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if _, err := sess.orchestrator.Connect(r.Context()); err != nil {
		writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(sess))
}

func (s *Server) handleDestination(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req types.DestinationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := sess.orchestrator.SetDestination(req.Address); err != nil {
		writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(sess))
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if _, err := sess.orchestrator.Check(r.Context()); err != nil {
		writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(sess))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if _, err := sess.orchestrator.Submit(r.Context()); err != nil {
		writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(sess))
}

func (s *Server) handleFinality(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if _, err := sess.orchestrator.WaitFinalized(r.Context()); err != nil {
		writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(sess))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.orchestrator.Reset(); err != nil {
		writeClaimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(sess))
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, err := s.sessions.get(mux.Vars(r)["id"])
	if err != nil {
		writeClaimError(w, err)
		return nil, false
	}
	return sess, true
}

func snapshotOf(sess *session) types.Snapshot {
	snap := sess.orchestrator.Snapshot()
	snap.ID = sess.id
	return snap
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}
