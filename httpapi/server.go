// Package httpapi exposes the signed-action and query surface described in
// spec.md §6.1 over HTTP, grounded on the teacher's chi-routed gateway
// servers.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blackyblack/identity-server/action"
	"github.com/blackyblack/identity-server/apperr"
	"github.com/blackyblack/identity-server/codec"
	"github.com/blackyblack/identity-server/observability"
	"github.com/blackyblack/identity-server/observability/logging"
	"github.com/blackyblack/identity-server/query"
)

const maxBodyBytes = 1 << 16

// Server wires the ActionService and QueryService to chi routes.
type Server struct {
	Actions *action.Service
	Queries *query.Service

	router http.Handler
}

// New constructs a configured HTTP server.
func New(actions *action.Service, queries *query.Service) *Server {
	s := &Server{Actions: actions, Queries: queries}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/vouch/{user}", s.handleVouch)
	r.Get("/idt/{user}", s.handleIDT)
	r.Post("/proof/{user}", s.handleProof)
	r.Post("/punish/{user}", s.handlePunish)
	r.Get("/is_moderator/{user}", s.handleIsModerator)
	r.Get("/moderators", s.handleListModerators)
	r.Post("/add_moderator/{user}", s.handleAddModerator)
	r.Post("/remove_moderator/{user}", s.handleRemoveModerator)
	r.Get("/is_admin/{user}", s.handleIsAdmin)
	r.Get("/admins", s.handleListAdmins)
	r.Post("/add_admin/{user}", s.handleAddAdmin)
	r.Post("/remove_admin/{user}", s.handleRemoveAdmin)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{})
	})

	return r
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		observability.HTTP().Observe(route, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// actionBody is the common POST request shape (spec.md §6.1); proof and
// punish additionally populate IDT and ProofID.
type actionBody struct {
	Signature string `json:"signature"`
	Nonce     int64  `json:"nonce"`
	Signer    string `json:"signer"`
	IDT       int64  `json:"idt"`
	ProofID   string `json:"proof_id"`
}

func readBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperr.Wrap(apperr.BadRequest, "failed to read request body", err)
	}
	defer r.Body.Close()
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.Wrap(apperr.BadRequest, "invalid JSON payload", err)
	}
	return nil
}

func (s *Server) handleVouch(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if err := readBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req := action.Request{SignerB58: body.Signer, UserB58: chi.URLParam(r, "user"), Nonce: body.Nonce, SigB64: body.Signature}
	result, err := s.Actions.Vouch(req)
	logAction("vouch", body.Signer, body.Nonce, body.Signature, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": result.From, "to": result.To, "idt": result.IDT})
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if err := readBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req := action.Request{
		SignerB58: body.Signer, UserB58: chi.URLParam(r, "user"), Nonce: body.Nonce, SigB64: body.Signature,
		Balance: body.IDT, ProofID: body.ProofID,
	}
	result, err := s.Actions.Proof(req)
	logAction("proof", body.Signer, body.Nonce, body.Signature, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": result.From, "to": result.To, "idt": result.IDT, "proof_id": result.ProofID})
}

func (s *Server) handlePunish(w http.ResponseWriter, r *http.Request) {
	var body actionBody
	if err := readBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req := action.Request{
		SignerB58: body.Signer, UserB58: chi.URLParam(r, "user"), Nonce: body.Nonce, SigB64: body.Signature,
		Balance: body.IDT, ProofID: body.ProofID,
	}
	result, err := s.Actions.Punish(req)
	logAction("punish", body.Signer, body.Nonce, body.Signature, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": result.From, "to": result.To, "idt": result.IDT, "penalty": result.Penalty})
}

func (s *Server) handleAddModerator(w http.ResponseWriter, r *http.Request) {
	s.handleRoleAction(w, r, s.Actions.AddModerator, "moderator")
}

func (s *Server) handleRemoveModerator(w http.ResponseWriter, r *http.Request) {
	s.handleRoleAction(w, r, s.Actions.RemoveModerator, "moderator")
}

func (s *Server) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	s.handleRoleAction(w, r, s.Actions.AddAdmin, "admin")
}

func (s *Server) handleRemoveAdmin(w http.ResponseWriter, r *http.Request) {
	s.handleRoleAction(w, r, s.Actions.RemoveAdmin, "admin")
}

func (s *Server) handleRoleAction(w http.ResponseWriter, r *http.Request, do func(action.Request) (action.RoleResult, error), field string) {
	var body actionBody
	if err := readBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req := action.Request{SignerB58: body.Signer, UserB58: chi.URLParam(r, "user"), Nonce: body.Nonce, SigB64: body.Signature}
	result, err := do(req)
	logAction(field, body.Signer, body.Nonce, body.Signature, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": result.From, field: result.User})
}

func (s *Server) handleIDT(w http.ResponseWriter, r *http.Request) {
	u, err := codec.DecodeIdentity(chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, err)
		return
	}
	idt, err := s.Queries.IDT(u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"idt": idt})
}

func (s *Server) handleIsModerator(w http.ResponseWriter, r *http.Request) {
	u, err := codec.DecodeIdentity(chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, err)
		return
	}
	ok, err := s.Queries.IsModerator(u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"is_moderator": ok})
}

func (s *Server) handleIsAdmin(w http.ResponseWriter, r *http.Request) {
	u, err := codec.DecodeIdentity(chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, err)
		return
	}
	ok, err := s.Queries.IsAdmin(u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"is_admin": ok})
}

func (s *Server) handleListModerators(w http.ResponseWriter, r *http.Request) {
	list, err := s.Queries.ListModerators()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeList(list))
}

func (s *Server) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	list, err := s.Queries.ListAdmins()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeList(list))
}

func encodeList(identities [][]byte) []string {
	out := make([]string, len(identities))
	for i, id := range identities {
		out[i] = codec.EncodeIdentity(id)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// logAction emits the per-request audit line spec.md §7 requires: action
// kind, signer, nonce, and error kind. The signature is never logged
// verbatim; logging.MaskField redacts it even if a caller passes it here by
// mistake.
func logAction(kind string, signer string, n int64, sig string, err error) {
	slog.Info("signed action",
		"action", kind,
		"signer", signer,
		"nonce", n,
		logging.MaskField("signature", sig),
		"kind", string(apperr.KindOf(err)),
	)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.BadRequest:
		status = http.StatusBadRequest
	case apperr.BadSignature:
		status = http.StatusUnauthorized
	case apperr.NonceConsumed:
		status = http.StatusConflict
	case apperr.NotAllowed:
		status = http.StatusForbidden
	case apperr.InvariantViolation:
		status = http.StatusUnprocessableEntity
	case apperr.NotFound:
		status = http.StatusNotFound
	}
	message := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Msg
	}
	writeJSON(w, status, map[string]any{"error": message})
}
