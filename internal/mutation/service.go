package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"bcpdashboard/portfolio-api/internal/audit"
	"bcpdashboard/portfolio-api/internal/auth"
	"bcpdashboard/portfolio-api/internal/portfolio"
)

// Outcome is the success message key of a completed operation.
type Outcome string

const (
	OutcomeRowUpdated Outcome = "ROW_UPDATED"
	OutcomeNoChanges  Outcome = "NO_CHANGES"
	OutcomeRowDeleted Outcome = "ROW_DELETED"
)

// SessionValidator resolves a presented session to the identity owning it,
// failing unless that identity's email equals claimedEmail.
type SessionValidator interface {
	Validate(ctx context.Context, sessionID, claimedEmail string) (auth.Identity, error)
}

// UpdateRequest carries the claimed identity in both header and body.
// UserID and OrganizationID are optional; when set they must name the
// session owner. BodyErr records body fields of the wrong shape; it is
// reported as an invalid request only once the caller is authorized.
type UpdateRequest struct {
	SessionID      string
	HeaderEmail    string
	Email          string
	UserID         int64
	OrganizationID int64
	EditedRow      map[string]any
	BodyErr        error
}

type DeleteRequest struct {
	SessionID      string
	HeaderEmail    string
	Email          string
	UserID         int64
	OrganizationID int64
	RecordID       any
	BodyErr        error
}

type HistoryRequest struct {
	SessionID   string
	HeaderEmail string
	RecordID    int64
}

// Service authorizes and applies record mutations, writing one audit entry
// for every mutation that changed a row.
type Service struct {
	sessions SessionValidator
	records  portfolio.Executor
	audit    audit.Recorder
	logger   *slog.Logger
}

func NewService(sessions SessionValidator, records portfolio.Executor, recorder audit.Recorder, logger *slog.Logger) (*Service, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session validator is required")
	}
	if records == nil {
		return nil, fmt.Errorf("record executor is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sessions: sessions, records: records, audit: recorder, logger: logger}, nil
}

func (s *Service) ApplyUpdate(ctx context.Context, req UpdateRequest) (Outcome, error) {
	log := s.logger.With("op", "update")

	identity, authErr := s.authorize(ctx, claim{
		sessionID:   req.SessionID,
		headerEmail: req.HeaderEmail,
		bodyEmail:   req.Email,
		userID:      req.UserID,
		orgID:       req.OrganizationID,
	})
	if authErr != nil {
		return "", s.reject(log, authErr)
	}
	log = log.With("user_id", identity.ID, "org_id", identity.OrganizationID)

	if req.BodyErr != nil {
		return "", s.reject(log, newError(KindValidation, CodeInvalidRequest, req.BodyErr))
	}
	if req.EditedRow == nil {
		return "", s.reject(log, newError(KindValidation, CodeInvalidRequest, errors.New("editedRow is required")))
	}
	recordID, err := ParseRecordID(req.EditedRow[portfolio.IDField])
	if err != nil {
		return "", s.reject(log, newError(KindValidation, CodeInvalidRequest, err))
	}
	log = log.With("record_id", recordID)

	fields := make(map[string]any, len(req.EditedRow))
	for k, v := range req.EditedRow {
		if k != portfolio.IDField {
			fields[k] = v
		}
	}

	res, err := s.records.ApplyPartialUpdate(ctx, recordID, fields)
	switch {
	case errors.Is(err, portfolio.ErrEmptyUpdate):
		log.Info("update carried no values")
		return OutcomeNoChanges, nil
	case errors.Is(err, portfolio.ErrUnknownField), errors.Is(err, portfolio.ErrInvalidValue), errors.Is(err, portfolio.ErrIdentifierField):
		return "", s.reject(log, newError(KindValidation, CodeInvalidField, err))
	case err != nil:
		return "", s.reject(log, newError(KindStorage, CodeUpdateError, err))
	}
	if !res.Changed {
		return OutcomeNoChanges, nil
	}

	entry, err := s.audit.Record(ctx, audit.Entry{
		OrganizationID: identity.OrganizationID,
		ModifiedBy:     identity.ID,
		Action:         audit.ActionUpdate,
		RecordID:       recordID,
		Fields:         audit.MapFields(portfolio.Values(res.Applied)),
	})
	if err != nil {
		return "", s.reject(log, newError(KindAuditGap, CodeAuditError, err))
	}
	log.Info("record updated", "audit_id", entry.ID, "fields", len(res.Applied))
	return OutcomeRowUpdated, nil
}

func (s *Service) ApplyDelete(ctx context.Context, req DeleteRequest) (Outcome, error) {
	log := s.logger.With("op", "delete")

	identity, authErr := s.authorize(ctx, claim{
		sessionID:   req.SessionID,
		headerEmail: req.HeaderEmail,
		bodyEmail:   req.Email,
		userID:      req.UserID,
		orgID:       req.OrganizationID,
	})
	if authErr != nil {
		return "", s.reject(log, authErr)
	}
	log = log.With("user_id", identity.ID, "org_id", identity.OrganizationID)

	if req.BodyErr != nil {
		return "", s.reject(log, newError(KindValidation, CodeInvalidRequest, req.BodyErr))
	}
	recordID, err := ParseRecordID(req.RecordID)
	if err != nil {
		return "", s.reject(log, newError(KindValidation, CodeInvalidRequest, err))
	}
	log = log.With("record_id", recordID)

	res, err := s.records.Delete(ctx, recordID)
	if err != nil {
		return "", s.reject(log, newError(KindStorage, CodeDeleteError, err))
	}
	if !res.Changed {
		return "", s.reject(log, newError(KindNotFound, CodeRecordNotFound, nil))
	}

	entry, err := s.audit.Record(ctx, audit.Entry{
		OrganizationID: identity.OrganizationID,
		ModifiedBy:     identity.ID,
		Action:         audit.ActionDelete,
		RecordID:       recordID,
	})
	if err != nil {
		return "", s.reject(log, newError(KindAuditGap, CodeAuditError, err))
	}
	log.Info("record deleted", "audit_id", entry.ID)
	return OutcomeRowDeleted, nil
}

// History lists the audit entries of a record within the caller's
// organization.
func (s *Service) History(ctx context.Context, req HistoryRequest) ([]audit.Entry, error) {
	log := s.logger.With("op", "history")

	identity, authErr := s.authorize(ctx, claim{
		sessionID:   req.SessionID,
		headerEmail: req.HeaderEmail,
		bodyEmail:   req.HeaderEmail,
	})
	if authErr != nil {
		return nil, s.reject(log, authErr)
	}
	if req.RecordID <= 0 {
		return nil, s.reject(log, newError(KindValidation, CodeInvalidRequest, errors.New("record id must be positive")))
	}
	entries, err := s.audit.ListByRecord(ctx, identity.OrganizationID, req.RecordID)
	if err != nil {
		return nil, s.reject(log.With("user_id", identity.ID, "record_id", req.RecordID), newError(KindStorage, CodeAuditReadError, err))
	}
	return entries, nil
}

type claim struct {
	sessionID   string
	headerEmail string
	bodyEmail   string
	userID      int64
	orgID       int64
}

// authorize requires both headers, a body email equal to the header email,
// and a live session owned by that email. Body user and organization ids
// must match the owner when supplied.
func (s *Service) authorize(ctx context.Context, c claim) (auth.Identity, *Error) {
	if strings.TrimSpace(c.sessionID) == "" || strings.TrimSpace(c.headerEmail) == "" {
		return auth.Identity{}, newError(KindValidation, CodeMissingHeaders, nil)
	}
	if c.bodyEmail != c.headerEmail {
		return auth.Identity{}, newError(KindAuth, CodeUnauthorized, errors.New("body email does not match header email"))
	}

	identity, err := s.sessions.Validate(ctx, c.sessionID, c.headerEmail)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrMissingSession):
		return auth.Identity{}, newError(KindValidation, CodeMissingHeaders, err)
	case errors.Is(err, auth.ErrSessionExpired):
		return auth.Identity{}, newError(KindAuth, CodeSessionExpired, err)
	case errors.Is(err, auth.ErrUnknownSession),
		errors.Is(err, auth.ErrSessionMismatch),
		errors.Is(err, auth.ErrSessionSuperseded),
		errors.Is(err, auth.ErrInactiveAccount),
		errors.Is(err, auth.ErrUserNotFound):
		return auth.Identity{}, newError(KindAuth, CodeUnauthorized, err)
	default:
		return auth.Identity{}, newError(KindStorage, CodeSessionStoreDown, err)
	}

	if c.userID != 0 && c.userID != identity.ID {
		return auth.Identity{}, newError(KindAuth, CodeUnauthorized, fmt.Errorf("body user %d is not session owner %d", c.userID, identity.ID))
	}
	if c.orgID != 0 && c.orgID != identity.OrganizationID {
		return auth.Identity{}, newError(KindAuth, CodeUnauthorized, fmt.Errorf("body organization %d is not owner organization %d", c.orgID, identity.OrganizationID))
	}
	return identity, nil
}

func (s *Service) reject(log *slog.Logger, e *Error) error {
	attrs := []any{"kind", e.Kind.String(), "code", e.Code}
	if e.Err != nil {
		attrs = append(attrs, "err", e.Err.Error())
	}
	switch e.Kind {
	case KindStorage, KindAuditGap:
		log.Error("mutation failed", attrs...)
	case KindAuth:
		log.Warn("mutation rejected", attrs...)
	default:
		log.Info("mutation rejected", attrs...)
	}
	return e
}

// ParseRecordID accepts the identifier forms a decoded JSON body can carry.
func ParseRecordID(v any) (int64, error) {
	var id int64
	switch x := v.(type) {
	case nil:
		return 0, errors.New("record id is required")
	case int:
		id = int64(x)
	case int64:
		id = x
	case float64:
		if x != math.Trunc(x) || x > math.MaxInt64 || x < math.MinInt64 {
			return 0, fmt.Errorf("record id %v is not an integer", x)
		}
		id = int64(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("record id %q is not an integer", x.String())
		}
		id = n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("record id %q is not an integer", x)
		}
		id = n
	default:
		return 0, fmt.Errorf("record id has unsupported type %T", v)
	}
	if id <= 0 {
		return 0, fmt.Errorf("record id %d must be positive", id)
	}
	return id, nil
}
