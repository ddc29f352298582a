package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"pak-finance/internal/ledger"
	"pak-finance/internal/plans"
	"pak-finance/internal/repo"
	"pak-finance/internal/service"

	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("malformed request body")

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, ledger.ErrInvestmentNotFound),
		errors.Is(err, ledger.ErrRequestNotFound),
		errors.Is(err, plans.ErrPlanNotFound),
		errors.Is(err, repo.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, repo.ErrVersionConflict),
		errors.Is(err, ledger.ErrRequestNotPending),
		errors.Is(err, ledger.ErrAlreadyClaimed),
		errors.Is(err, ledger.ErrPhoneTaken):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidTarget),
		errors.Is(err, ledger.ErrInvalidDecision),
		errors.Is(err, ledger.ErrInvalidRequestType),
		errors.Is(err, ledger.ErrInvalidSettings),
		errors.Is(err, ledger.ErrPhoneRequired),
		errors.Is(err, ledger.ErrNameRequired),
		errors.Is(err, ledger.ErrUnknownReferralCode),
		errors.Is(err, plans.ErrNotMatured):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("http").Inc()
		}
		writeJSONStatus(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSONStatus(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// authorize lets the owner of phone or an admin act on phone's account.
func (s *Server) authorize(phone string) error {
	sess, err := s.deps.Service.Session()
	if err != nil {
		return err
	}
	if sess.Phone != phone && !sess.IsAdmin {
		return service.ErrForbidden
	}
	return nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg ledger.Registration
	if err := decodeBody(w, r, &reg); err != nil {
		s.writeError(w, r, err)
		return
	}
	// The admin role is granted separately.
	reg.IsAdmin = false
	user, err := s.deps.Service.Register(r.Context(), reg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")
	if err := s.authorize(phone); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.deps.Service.User(phone)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, user)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")
	if err := s.authorize(phone); err != nil {
		s.writeError(w, r, err)
		return
	}
	var patch ledger.ProfilePatch
	if err := decodeBody(w, r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.deps.Service.UpdateProfile(r.Context(), phone, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, user)
}

type loginRequest struct {
	Phone string `json:"phone"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.deps.Service.Login(r.Context(), strings.TrimSpace(req.Phone))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.deps.Service.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Service.Session()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, user)
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.deps.Service.Plans())
}

// handlePublicSettings exposes what the app shows every user: payment
// accounts, game prices and the announcement.
func (s *Server) handlePublicSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.deps.Service.Settings())
}

type investRequest struct {
	PlanID string          `json:"planId"`
	Amount decimal.Decimal `json:"amount"`
}

type investResponse struct {
	Investment ledger.ActiveInvestment `json:"investment"`
	User       ledger.UserProfile      `json:"user"`
}

func (s *Server) handleInvest(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")
	if err := s.authorize(phone); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req investRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	inv, user, err := s.deps.Service.Invest(r.Context(), phone, req.PlanID, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, investResponse{Investment: inv, User: user})
}

type claimResponse struct {
	Profit    decimal.Decimal    `json:"profit"`
	Principal decimal.Decimal    `json:"principal"`
	Matured   bool               `json:"matured"`
	User      ledger.UserProfile `json:"user"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")
	if err := s.authorize(phone); err != nil {
		s.writeError(w, r, err)
		return
	}
	settlement, user, err := s.deps.Service.Claim(r.Context(), phone, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, claimResponse{
		Profit:    settlement.Profit,
		Principal: settlement.Principal,
		Matured:   settlement.Matured,
		User:      user,
	})
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")
	if err := s.authorize(phone); err != nil {
		s.writeError(w, r, err)
		return
	}
	var draft ledger.RequestDraft
	if err := decodeBody(w, r, &draft); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.deps.Service.SubmitRequest(r.Context(), phone, draft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, req)
}

func (s *Server) handleScratch(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")
	if err := s.authorize(phone); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Service.PlayScratch(r.Context(), phone)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleAdReward(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")
	if err := s.authorize(phone); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, amount, err := s.deps.Service.AdReward(r.Context(), phone)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"amount": amount, "user": user})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notifications == nil {
		writeJSON(w, []any{})
		return
	}
	writeJSON(w, s.deps.Notifications.Active(s.deps.Service.SessionPhone()))
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notifications == nil || !s.deps.Notifications.Dismiss(r.PathValue("id")) {
		writeJSONStatus(w, http.StatusNotFound, map[string]string{"error": "notification not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Service.RequireAdmin(); err != nil {
		s.writeError(w, r, err)
		return
	}
	status := ledger.RequestStatus(r.URL.Query().Get("status"))
	switch status {
	case "", ledger.StatusPending, ledger.StatusApproved, ledger.StatusRejected:
	default:
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "unknown status filter"})
		return
	}
	writeJSON(w, s.deps.Service.Requests(status))
}

type decisionResponse struct {
	Request       ledger.TransactionRequest `json:"request"`
	ReferralBonus decimal.Decimal           `json:"referralBonus"`
	Refund        decimal.Decimal           `json:"refund"`
	ReferrerPhone string                    `json:"referrerPhone,omitempty"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Service.RequireAdmin(); err != nil {
		s.writeError(w, r, err)
		return
	}
	decision := ledger.StatusApproved
	if strings.HasSuffix(r.URL.Path, "/reject") {
		decision = ledger.StatusRejected
	}
	out, err := s.deps.Service.ProcessRequest(r.Context(), r.PathValue("id"), decision)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := decisionResponse{Request: out.Request, ReferralBonus: out.ReferralBonus, Refund: out.Refund}
	if out.Referrer != nil {
		resp.ReferrerPhone = out.Referrer.Phone
	}
	writeJSON(w, resp)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Service.RequireAdmin(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, s.deps.Service.Settings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Service.RequireAdmin(); err != nil {
		s.writeError(w, r, err)
		return
	}
	// Fields missing from the body keep their stored values.
	settings := s.deps.Service.Settings()
	if err := decodeBody(w, r, &settings); err != nil {
		s.writeError(w, r, err)
		return
	}
	saved, err := s.deps.Service.UpdateSettings(r.Context(), settings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, saved)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Service.RequireAdmin(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, s.deps.Service.Users())
}

type adjustRequest struct {
	Amount decimal.Decimal      `json:"amount"`
	Target ledger.BalanceTarget `json:"target"`
}

func (s *Server) handleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Service.RequireAdmin(); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req adjustRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.deps.Service.AdjustBalance(r.Context(), r.PathValue("phone"), req.Amount, req.Target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, user)
}

type setAdminRequest struct {
	Admin bool `json:"admin"`
}

func (s *Server) handleSetAdmin(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Service.RequireAdmin(); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req setAdminRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.deps.Service.SetAdmin(r.Context(), r.PathValue("phone"), req.Admin)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, user)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Service.RequireAdmin(); err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	records, err := s.deps.Service.History(r.Context(), r.PathValue("name"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, records)
}
