package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"bcpdashboard/portfolio-api/internal/audit"
	"bcpdashboard/portfolio-api/internal/auth"
	"bcpdashboard/portfolio-api/internal/config"
	"bcpdashboard/portfolio-api/internal/mutation"
)

const (
	sessionHeader = "Session-ID"
	emailHeader   = "email"
	sessionCookie = "sessionId"
	maxBodyBytes  = 1 << 20
)

type AuthService interface {
	Login(ctx context.Context, email, password string) (auth.Identity, auth.Session, error)
	Logout(ctx context.Context, sessionID string) error
	ChangePassword(ctx context.Context, sessionID, email, currentPassword, newPassword string) error
	SessionTTL() int
}

type MutationService interface {
	ApplyUpdate(ctx context.Context, req mutation.UpdateRequest) (mutation.Outcome, error)
	ApplyDelete(ctx context.Context, req mutation.DeleteRequest) (mutation.Outcome, error)
	History(ctx context.Context, req mutation.HistoryRequest) ([]audit.Entry, error)
}

type SecurityLogger interface {
	Log(e audit.Event) error
}

type Deps struct {
	Auth              AuthService
	Mutations         MutationService
	Security          SecurityLogger
	Logger            *slog.Logger
	CookieSecure      bool
	LoginRateLimitRPM int
	// TrustedProxies are the peers allowed to name the client through
	// X-Forwarded-For or X-Real-IP.
	TrustedProxies []netip.Prefix
	// Ready reports whether backing stores answer. Nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewHandler(deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

type handler struct {
	deps     Deps
	logger   *slog.Logger
	validate *validator.Validate
	clients  clientResolver
}

func NewHandler(deps Deps) http.Handler {
	h := &handler{
		deps:     deps,
		logger:   deps.Logger,
		validate: validator.New(),
		clients:  clientResolver{trusted: deps.TrustedProxies},
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", h.ready)

	limiter := newLoginLimiter(deps.LoginRateLimitRPM)
	mux.HandleFunc("/v1/auth/login", post(limiter.wrap(h.login, h.clients.addr)))
	mux.HandleFunc("/v1/auth/logout", post(h.logout))
	mux.HandleFunc("/v1/auth/change-password", post(h.changePassword))

	mux.HandleFunc("/v1/portfolio/update", post(h.update))
	mux.HandleFunc("/v1/portfolio/delete", post(h.delete))
	mux.HandleFunc("/v1/portfolio/audit", get(h.history))

	return h.accessLog(mux)
}

func (h *handler) ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Ready(ctx); err != nil {
			h.logger.Warn("readiness check failed", "err", err.Error())
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	if h.deps.Auth == nil {
		writeMessage(w, http.StatusServiceUnavailable, "error", codeUnavailable)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "error", codeMissingCredentials)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		code := codeMissingCredentials
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "email" {
			code = codeInvalidEmail
		}
		writeMessage(w, http.StatusBadRequest, "error", code)
		return
	}

	identity, session, err := h.deps.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		status, code := http.StatusInternalServerError, codeLoginError
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			status, code = http.StatusBadRequest, codeInvalidCredentials
		case errors.Is(err, auth.ErrInactiveAccount):
			status, code = http.StatusBadRequest, codeInactiveUser
		case errors.Is(err, auth.ErrInvalidPassword):
			status, code = http.StatusUnauthorized, codeInvalidCredentials
		default:
			h.logger.Error("login failed", "request_id", requestIDFromContext(r.Context()), "err", err.Error())
		}
		h.security(r, req.Email, audit.ActionLogin, "failure", code)
		writeMessage(w, status, "error", code)
		return
	}
	h.security(r, req.Email, audit.ActionLogin, "success", "")

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.ID,
		Path:     "/",
		MaxAge:   h.deps.Auth.SessionTTL(),
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.deps.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message":          messageText(codeLoggedIn),
		"sessionId":        session.ID,
		"expiresAt":        session.ExpiresAt.UTC().Format(time.RFC3339),
		"userId":           identity.ID,
		"userName":         identity.UserName,
		"email":            identity.Email,
		"organizationId":   identity.OrganizationID,
		"organizationName": identity.OrganizationName,
		"roleId":           identity.RoleID,
		"roleName":         identity.RoleName,
	})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	if h.deps.Auth == nil {
		writeMessage(w, http.StatusServiceUnavailable, "error", codeUnavailable)
		return
	}
	sessionID := sessionFromRequest(r)
	if sessionID == "" {
		writeMessage(w, http.StatusBadRequest, "message", mutation.CodeMissingHeaders)
		return
	}
	actor := strings.TrimSpace(r.Header.Get(emailHeader))
	if err := h.deps.Auth.Logout(r.Context(), sessionID); err != nil {
		h.logger.Error("logout failed", "request_id", requestIDFromContext(r.Context()), "err", err.Error())
		h.security(r, actor, audit.ActionLogout, "failure", "")
		writeMessage(w, http.StatusInternalServerError, "error", codeUnavailable)
		return
	}
	h.security(r, actor, audit.ActionLogout, "success", "")
	clearSessionCookie(w, h.deps.CookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

type sessionHeaders struct {
	SessionID string `validate:"required"`
	Email     string `validate:"required,email"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,nefield=CurrentPassword"`
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	if h.deps.Auth == nil {
		writeMessage(w, http.StatusServiceUnavailable, "error", codeUnavailable)
		return
	}
	hdr := sessionHeaders{SessionID: sessionFromRequest(r), Email: strings.TrimSpace(r.Header.Get(emailHeader))}
	if err := h.validate.Struct(hdr); err != nil {
		writeMessage(w, http.StatusBadRequest, "message", mutation.CodeMissingHeaders)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "message", mutation.CodeInvalidRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeMessage(w, http.StatusBadRequest, "message", mutation.CodeInvalidRequest)
		return
	}

	err := h.deps.Auth.ChangePassword(r.Context(), hdr.SessionID, hdr.Email, req.CurrentPassword, req.NewPassword)
	if err != nil {
		status, code := http.StatusInternalServerError, codePasswordError
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			status, code = http.StatusBadRequest, codeWeakPassword
		case errors.Is(err, auth.ErrSessionExpired):
			status, code = http.StatusUnauthorized, mutation.CodeSessionExpired
		case errors.Is(err, auth.ErrInvalidPassword):
			status, code = http.StatusUnauthorized, codeInvalidCredentials
		case isSessionRejection(err):
			status, code = http.StatusUnauthorized, mutation.CodeUnauthorized
		default:
			h.logger.Error("change password failed", "request_id", requestIDFromContext(r.Context()), "err", err.Error())
		}
		h.security(r, hdr.Email, audit.ActionChangePassword, "failure", code)
		writeMessage(w, status, "message", code)
		return
	}
	h.security(r, hdr.Email, audit.ActionChangePassword, "success", "")
	w.WriteHeader(http.StatusNoContent)
}

// mutationBody keeps the body fields raw so the claimed identity can be
// compared before the remaining fields are checked for shape.
type mutationBody struct {
	Email          json.RawMessage `json:"email"`
	UserID         json.RawMessage `json:"userId"`
	OrganizationID json.RawMessage `json:"organizationId"`
	EditedRow      json.RawMessage `json:"editedRow"`
	ID             json.RawMessage `json:"ID"`
}

// bodyIdentity is the validated shape of the optional identity fields.
type bodyIdentity struct {
	UserID         int64 `validate:"gte=0"`
	OrganizationID int64 `validate:"gte=0"`
}

// email returns the body email, or "" when it is absent or not a string.
func (b mutationBody) email() string {
	var email string
	if err := decodeRaw(b.Email, &email); err != nil {
		return ""
	}
	return strings.TrimSpace(email)
}

func (h *handler) identity(b mutationBody) (bodyIdentity, error) {
	var id bodyIdentity
	if err := decodeRaw(b.UserID, &id.UserID); err != nil {
		return bodyIdentity{}, fmt.Errorf("userId: %w", err)
	}
	if err := decodeRaw(b.OrganizationID, &id.OrganizationID); err != nil {
		return bodyIdentity{}, fmt.Errorf("organizationId: %w", err)
	}
	if err := h.validate.Struct(id); err != nil {
		return bodyIdentity{}, err
	}
	return id, nil
}

// decodeMutationBody reports false after writing the response when the body
// is not a JSON object at all.
func decodeMutationBody(w http.ResponseWriter, r *http.Request) (mutationBody, bool) {
	var body mutationBody
	if err := decodeJSON(w, r, &body); err != nil {
		if missingHeaders(r) {
			writeMessage(w, http.StatusBadRequest, "message", mutation.CodeMissingHeaders)
			return mutationBody{}, false
		}
		writeMessage(w, http.StatusBadRequest, "message", mutation.CodeInvalidRequest)
		return mutationBody{}, false
	}
	return body, true
}

func (h *handler) update(w http.ResponseWriter, r *http.Request) {
	if h.deps.Mutations == nil {
		writeMessage(w, http.StatusServiceUnavailable, "message", codeUnavailable)
		return
	}
	body, ok := decodeMutationBody(w, r)
	if !ok {
		return
	}
	id, bodyErr := h.identity(body)
	var editedRow map[string]any
	if bodyErr == nil {
		if err := decodeRaw(body.EditedRow, &editedRow); err != nil {
			bodyErr = fmt.Errorf("editedRow: %w", err)
		}
	}

	outcome, err := h.deps.Mutations.ApplyUpdate(r.Context(), mutation.UpdateRequest{
		SessionID:      sessionFromRequest(r),
		HeaderEmail:    strings.TrimSpace(r.Header.Get(emailHeader)),
		Email:          body.email(),
		UserID:         id.UserID,
		OrganizationID: id.OrganizationID,
		EditedRow:      editedRow,
		BodyErr:        bodyErr,
	})
	if err != nil {
		h.writeMutationError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "message", string(outcome))
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	if h.deps.Mutations == nil {
		writeMessage(w, http.StatusServiceUnavailable, "message", codeUnavailable)
		return
	}
	body, ok := decodeMutationBody(w, r)
	if !ok {
		return
	}
	id, bodyErr := h.identity(body)
	var recordID any
	if bodyErr == nil {
		if err := decodeRaw(body.ID, &recordID); err != nil {
			bodyErr = fmt.Errorf("ID: %w", err)
		}
	}

	outcome, err := h.deps.Mutations.ApplyDelete(r.Context(), mutation.DeleteRequest{
		SessionID:      sessionFromRequest(r),
		HeaderEmail:    strings.TrimSpace(r.Header.Get(emailHeader)),
		Email:          body.email(),
		UserID:         id.UserID,
		OrganizationID: id.OrganizationID,
		RecordID:       recordID,
		BodyErr:        bodyErr,
	})
	if err != nil {
		h.writeMutationError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "message", string(outcome))
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	if h.deps.Mutations == nil {
		writeMessage(w, http.StatusServiceUnavailable, "message", codeUnavailable)
		return
	}
	recordID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("id")), 10, 64)
	if err != nil {
		if missingHeaders(r) {
			writeMessage(w, http.StatusBadRequest, "message", mutation.CodeMissingHeaders)
			return
		}
		writeMessage(w, http.StatusBadRequest, "message", mutation.CodeInvalidRequest)
		return
	}
	entries, err := h.deps.Mutations.History(r.Context(), mutation.HistoryRequest{
		SessionID:   sessionFromRequest(r),
		HeaderEmail: strings.TrimSpace(r.Header.Get(emailHeader)),
		RecordID:    recordID,
	})
	if err != nil {
		h.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *handler) writeMutationError(w http.ResponseWriter, err error) {
	var me *mutation.Error
	if !errors.As(err, &me) {
		writeMessage(w, http.StatusInternalServerError, "message", mutation.CodeUpdateError)
		return
	}
	writeMessage(w, statusForKind(me.Kind), "message", me.Code)
}

func statusForKind(k mutation.Kind) int {
	switch k {
	case mutation.KindValidation:
		return http.StatusBadRequest
	case mutation.KindAuth:
		return http.StatusUnauthorized
	case mutation.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func isSessionRejection(err error) bool {
	for _, target := range []error{
		auth.ErrMissingSession,
		auth.ErrUnknownSession,
		auth.ErrSessionMismatch,
		auth.ErrSessionSuperseded,
		auth.ErrInactiveAccount,
		auth.ErrUserNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (h *handler) security(r *http.Request, actor, action, outcome, detail string) {
	if h.deps.Security == nil {
		return
	}
	err := h.deps.Security.Log(audit.Event{
		Actor:     actor,
		Action:    action,
		Outcome:   outcome,
		RemoteIP:  h.clients.addr(r),
		RequestID: requestIDFromContext(r.Context()),
		Detail:    detail,
	})
	if err != nil {
		h.logger.Error("security log write failed", "action", action, "err", err.Error())
	}
}

func post(next http.HandlerFunc) http.HandlerFunc {
	return method(http.MethodPost, next)
}

func get(next http.HandlerFunc) http.HandlerFunc {
	return method(http.MethodGet, next)
}

func method(m string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			w.Header().Set("Allow", m)
			writeMessage(w, http.StatusMethodNotAllowed, "error", codeMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// sessionFromRequest prefers the Session-ID header over the cookie.
func sessionFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(sessionHeader)); v != "" {
		return v
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func missingHeaders(r *http.Request) bool {
	return sessionFromRequest(r) == "" || strings.TrimSpace(r.Header.Get(emailHeader)) == ""
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(dst)
}

// decodeRaw leaves dst untouched for an absent field.
func decodeRaw(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dst)
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeMessage renders {key: text, "code": code} with the text looked up
// from the message table.
func writeMessage(w http.ResponseWriter, status int, key, code string) {
	writeJSON(w, status, map[string]string{key: messageText(code), "code": code})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (h *handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", reqID,
		)
	})
}

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(requestIDKey{}).(string); ok {
		return s
	}
	return ""
}

// clientResolver names the client of a request. The socket peer is the
// client unless it is a trusted proxy, in which case the nearest untrusted
// X-Forwarded-For hop (or X-Real-IP) is used.
type clientResolver struct {
	trusted []netip.Prefix
}

func (c clientResolver) addr(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	ip, err := netip.ParseAddr(peer)
	if err != nil || !c.isTrusted(ip) {
		return peer
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		hops := strings.Split(fwd, ",")
		client := ip
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			client = hop
			if !c.isTrusted(hop) {
				break
			}
		}
		return client.Unmap().String()
	}
	if realIP, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return realIP.Unmap().String()
	}
	return peer
}

func (c clientResolver) isTrusted(ip netip.Addr) bool {
	ip = ip.Unmap()
	for _, p := range c.trusted {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil {
		return host
	}
	return remoteAddr
}
