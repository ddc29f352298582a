package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"pak-finance/internal/games"
	"pak-finance/internal/ledger"
	"pak-finance/internal/notify"
	"pak-finance/internal/plans"

	"github.com/shopspring/decimal"
)

// Plans lists the investment catalog.
func (s *Service) Plans() []plans.Plan {
	return s.catalog.List()
}

// Invest buys planID for phone. A zero amount buys the plan at its price.
func (s *Service) Invest(ctx context.Context, phone, planID string, amount decimal.Decimal) (ledger.ActiveInvestment, ledger.UserProfile, error) {
	plan, err := s.catalog.Lookup(planID)
	if err != nil {
		s.rejected("invest")
		return ledger.ActiveInvestment{}, ledger.UserProfile{}, fmt.Errorf("invest: %w", err)
	}
	if amount.IsZero() {
		amount = plan.Price
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.userLocked(phone)
	if err != nil {
		return ledger.ActiveInvestment{}, ledger.UserProfile{}, err
	}
	next, inv, err := s.engine.InvestInPlan(user, plan.ID, amount)
	if err != nil {
		s.rejected("invest")
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			s.notify(ctx, phone, notify.KindInfo, "Insufficient balance")
		}
		return ledger.ActiveInvestment{}, ledger.UserProfile{}, fmt.Errorf("invest in %s: %w", plan.ID, err)
	}
	if plan.Window > 0 {
		inv.NextClaimAt = inv.InvestedAt.Add(plan.Window)
		next.ActiveInvestments[len(next.ActiveInvestments)-1].NextClaimAt = inv.NextClaimAt
	}
	if err := s.saveUser(ctx, next); err != nil {
		return ledger.ActiveInvestment{}, ledger.UserProfile{}, err
	}

	if s.metrics != nil {
		s.metrics.Investments.WithLabelValues(plan.ID).Inc()
	}
	s.logger.Info("plan purchased", "phone", phone, "plan", plan.ID, "amount", amount.String(), "investment_id", inv.ID)
	s.notify(ctx, phone, notify.KindSuccess, plan.Name+" plan purchased")
	return inv, next.Clone(), nil
}

// Claim settles an investment of phone.
func (s *Service) Claim(ctx context.Context, phone, investmentID string) (plans.Settlement, ledger.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.userLocked(phone)
	if err != nil {
		return plans.Settlement{}, ledger.UserProfile{}, err
	}
	inv, ok := user.Investment(investmentID)
	if !ok {
		s.rejected("claim")
		s.logger.Warn("claim for unknown investment", "phone", phone, "investment_id", investmentID)
		return plans.Settlement{}, ledger.UserProfile{}, fmt.Errorf("claim %s: %w", investmentID, ledger.ErrInvestmentNotFound)
	}
	if inv.IsClaimed {
		s.rejected("claim")
		return plans.Settlement{}, ledger.UserProfile{}, fmt.Errorf("claim %s: %w", investmentID, ledger.ErrAlreadyClaimed)
	}
	plan, err := s.catalog.Lookup(inv.PlanID)
	if err != nil {
		// Retired plans settle at the settings rate.
		plan = plans.Plan{ID: inv.PlanID}
	}
	settlement, err := plans.Settle(plan, inv, s.engine.Now(), s.state.Settings, s.cfg.AllowEarlyClaim)
	if err != nil {
		s.rejected("claim")
		return plans.Settlement{}, ledger.UserProfile{}, fmt.Errorf("claim %s: %w", investmentID, err)
	}

	next, err := s.engine.ClaimProfit(user, investmentID, settlement.Profit, settlement.Principal, settlement.Matured)
	if err != nil {
		s.rejected("claim")
		return plans.Settlement{}, ledger.UserProfile{}, fmt.Errorf("claim %s: %w", investmentID, err)
	}
	if err := s.saveUser(ctx, next); err != nil {
		return plans.Settlement{}, ledger.UserProfile{}, err
	}

	if s.metrics != nil {
		s.metrics.Claims.WithLabelValues(inv.PlanID, strconv.FormatBool(settlement.Matured)).Inc()
	}
	s.logger.Info("profit claimed", "phone", phone, "investment_id", investmentID, "profit", settlement.Profit.String(), "matured", settlement.Matured)
	s.notify(ctx, phone, notify.KindReward, "Profit of "+rupees(settlement.Profit)+" added to your withdrawable balance")
	return settlement, next.Clone(), nil
}

// SubmitRequest files a deposit or withdrawal for admin review.
func (s *Service) SubmitRequest(ctx context.Context, phone string, draft ledger.RequestDraft) (ledger.TransactionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.userLocked(phone)
	if err != nil {
		return ledger.TransactionRequest{}, err
	}
	if draft.Type == ledger.RequestWithdraw && draft.Amount.GreaterThan(user.WithdrawableBalance) {
		s.rejected("submit_request")
		s.notify(ctx, phone, notify.KindInfo, "Insufficient balance")
		return ledger.TransactionRequest{}, fmt.Errorf("submit withdraw: %w", ledger.ErrInsufficientBalance)
	}

	next, req, err := s.engine.SubmitTransactionRequest(s.state, phone, draft)
	if err != nil {
		s.rejected("submit_request")
		return ledger.TransactionRequest{}, fmt.Errorf("submit request: %w", err)
	}
	names := []string{RecordRequests}
	if req.Type == ledger.RequestWithdraw {
		names = append(names, RecordUsers)
	}
	if err := s.commit(ctx, next, names...); err != nil {
		return ledger.TransactionRequest{}, err
	}

	if s.metrics != nil {
		s.metrics.RequestsSubmitted.WithLabelValues(string(req.Type)).Inc()
	}
	s.logger.Info("request submitted", "request_id", req.ID, "phone", phone, "type", req.Type, "amount", req.Amount.String())
	s.notify(ctx, phone, notify.KindSuccess, "Your "+string(req.Type)+" request has been submitted")
	if s.cfg.AdminNotifyPhone != "" {
		msg := fmt.Sprintf("New %s request from %s (%s): %s via %s\nID: %s", req.Type, req.UserName, req.UserPhone, rupees(req.Amount), req.Method, req.ID)
		s.notify(ctx, s.cfg.AdminNotifyPhone, notify.KindInfo, msg)
	}
	return req, nil
}

// ProcessRequest approves or rejects a pending request.
func (s *Service) ProcessRequest(ctx context.Context, requestID string, decision ledger.RequestStatus) (ledger.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, out, err := s.engine.ProcessRequest(s.state, requestID, decision)
	if err != nil {
		s.rejected("process_request")
		return ledger.Outcome{}, fmt.Errorf("process request: %w", err)
	}
	if err := s.commit(ctx, next, RecordRequests, RecordUsers); err != nil {
		return ledger.Outcome{}, err
	}

	req := out.Request
	if s.metrics != nil {
		s.metrics.RequestsProcessed.WithLabelValues(string(req.Type), string(decision)).Inc()
		if out.Referrer != nil {
			s.metrics.ReferralPayouts.Inc()
		}
	}
	s.logger.Info("request processed", "request_id", req.ID, "type", req.Type, "decision", decision, "amount", req.Amount.String())

	switch {
	case decision == ledger.StatusApproved:
		s.notify(ctx, req.UserPhone, notify.KindSuccess, fmt.Sprintf("Your %s of %s has been approved", req.Type, rupees(req.Amount)))
	case req.Type == ledger.RequestWithdraw:
		s.notify(ctx, req.UserPhone, notify.KindInfo, fmt.Sprintf("Your withdraw of %s was rejected and refunded", rupees(req.Amount)))
	default:
		s.notify(ctx, req.UserPhone, notify.KindInfo, fmt.Sprintf("Your deposit of %s was rejected", rupees(req.Amount)))
	}
	if out.Referrer != nil {
		s.notify(ctx, out.Referrer.Phone, notify.KindReward, "Referral bonus of "+rupees(out.ReferralBonus)+" credited")
	}
	return out, nil
}

// Requests returns the request log, most recent first. An empty status
// returns every request.
func (s *Service) Requests(status ledger.RequestStatus) []ledger.TransactionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []ledger.TransactionRequest{}
	for _, r := range s.state.Clone().Requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

// AdjustBalance applies a signed manual adjustment.
func (s *Service) AdjustBalance(ctx context.Context, phone string, amount decimal.Decimal, target ledger.BalanceTarget) (ledger.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.userLocked(phone)
	if err != nil {
		return ledger.UserProfile{}, err
	}
	next, err := ledger.UpdateBalance(user, amount, target)
	if err != nil {
		s.rejected("adjust_balance")
		return ledger.UserProfile{}, fmt.Errorf("adjust balance: %w", err)
	}
	if err := s.saveUser(ctx, next); err != nil {
		return ledger.UserProfile{}, err
	}
	s.countAdjustment("admin", target)
	s.logger.Info("balance adjusted", "phone", phone, "target", target, "amount", amount.String())
	return next.Clone(), nil
}

// PlayScratch plays one scratch card for phone.
func (s *Service) PlayScratch(ctx context.Context, phone string) (games.ScratchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.userLocked(phone)
	if err != nil {
		return games.ScratchResult{}, err
	}
	res, err := s.scratch.Play(user, s.state.Settings)
	if err != nil {
		s.rejected("scratch")
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			s.notify(ctx, phone, notify.KindInfo, "Insufficient balance")
		}
		return games.ScratchResult{}, fmt.Errorf("play scratch: %w", err)
	}
	if err := s.saveUser(ctx, res.User); err != nil {
		return games.ScratchResult{}, err
	}
	s.countAdjustment("scratch", ledger.TargetWallet)
	if res.Won {
		s.notify(ctx, phone, notify.KindReward, "You won "+rupees(res.Prize)+"!")
	} else {
		s.notify(ctx, phone, notify.KindInfo, "Better luck next time")
	}
	return res, nil
}

// AdReward credits an ad view to phone.
func (s *Service) AdReward(ctx context.Context, phone string) (ledger.UserProfile, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.userLocked(phone)
	if err != nil {
		return ledger.UserProfile{}, decimal.Zero, err
	}
	next, amount, err := games.AdReward(user, s.state.Settings)
	if err != nil {
		return ledger.UserProfile{}, decimal.Zero, err
	}
	if err := s.saveUser(ctx, next); err != nil {
		return ledger.UserProfile{}, decimal.Zero, err
	}
	s.countAdjustment("ad", ledger.TargetWithdrawable)
	s.notify(ctx, phone, notify.KindReward, rupees(amount)+" ad reward added")
	return next.Clone(), amount, nil
}

func (s *Service) countAdjustment(source string, target ledger.BalanceTarget) {
	if s.metrics != nil {
		s.metrics.BalanceAdjustments.WithLabelValues(source, string(target)).Inc()
	}
}

// RemindPending sends the admin a summary of requests still waiting for a
// decision. It returns how many are pending.
func (s *Service) RemindPending(ctx context.Context) (int, error) {
	pending := s.Requests(ledger.StatusPending)
	if len(pending) == 0 || s.cfg.AdminNotifyPhone == "" {
		return len(pending), nil
	}
	total := decimal.Zero
	for _, r := range pending {
		total = total.Add(r.Amount)
	}
	oldest := pending[len(pending)-1].Timestamp
	msg := fmt.Sprintf("%d request(s) pending, %s in total. Oldest since %s.", len(pending), rupees(total), oldest.Format("02 Jan 15:04"))
	s.notify(ctx, s.cfg.AdminNotifyPhone, notify.KindInfo, msg)
	return len(pending), nil
}
