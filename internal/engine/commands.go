package engine

import (
	"context"
	"math"
	"time"

	"github.com/roach88/pulse/internal/access"
	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/platform"
	"github.com/roach88/pulse/internal/reward"
	"github.com/roach88/pulse/internal/store"
)

// Initialize writes the platform configuration. It runs once per ledger;
// a second call fails with InvalidState.
func (e *Engine) Initialize(ctx context.Context, owner ledger.Participant, feePercent int) (platform.Config, error) {
	cfg, err := platform.New(owner, feePercent)
	if err != nil {
		return platform.Config{}, err
	}

	err = e.store.Update(ctx, func(tx *store.Tx) error {
		inserted, err := tx.InitPlatform(ctx, cfg)
		if err != nil {
			return err
		}
		if !inserted {
			return ledger.Errorf(ledger.ErrCodeInvalidState, "ledger already initialized")
		}
		return nil
	})
	if err != nil {
		return platform.Config{}, err
	}

	e.logger.Info("ledger initialized", "owner", cfg.Owner, "fee_percent", cfg.FeePercent)
	return cfg, nil
}

// CreatePoll escrows params.Escrow and opens a new Active poll.
//
// Validations run in order, each with its own message:
// deadline in the future, response bounds, reward type, escrow amount.
func (e *Engine) CreatePoll(ctx context.Context, caller ledger.Participant, params ledger.PollParams) (Outcome, error) {
	return e.execute(ctx, "create_poll", func(c *command) error {
		if !caller.Valid() {
			return ledger.Errorf(ledger.ErrCodeInvalidArgument, "caller is required")
		}
		if !params.Deadline.After(c.now) {
			return ledger.Errorf(ledger.ErrCodeInvalidArgument, "invalid deadline: %s is not after %s",
				params.Deadline.UTC().Format(time.RFC3339), c.now.UTC().Format(time.RFC3339))
		}
		if params.Deadline.After(ledger.LatestDeadline) {
			return ledger.Errorf(ledger.ErrCodeInvalidArgument, "invalid deadline: %s is after %s",
				params.Deadline.UTC().Format(time.RFC3339), ledger.LatestDeadline.Format(time.RFC3339))
		}
		if params.MaxResponses < 1 || params.MinResponses < 1 || params.MinResponses > params.MaxResponses {
			return ledger.Errorf(ledger.ErrCodeInvalidArgument, "invalid response bounds: min %d, max %d",
				params.MinResponses, params.MaxResponses)
		}
		if !params.RewardType.Valid() {
			return ledger.Errorf(ledger.ErrCodeInvalidArgument, "unknown reward type %q", params.RewardType)
		}
		if err := validateEscrow(params); err != nil {
			return err
		}
		for _, p := range params.Whitelist {
			if !p.Valid() {
				return ledger.Errorf(ledger.ErrCodeInvalidArgument, "empty participant in whitelist")
			}
		}

		id, err := c.tx.NextPollID(c.ctx)
		if err != nil {
			return err
		}

		fixed := params.FixedRewardAmount
		if params.RewardType != ledger.FixedPerResponse {
			fixed = 0
		}
		poll := ledger.Poll{
			ID:                id,
			Creator:           caller,
			CreatedAt:         c.now,
			Deadline:          params.Deadline.UTC(),
			MinResponses:      params.MinResponses,
			MaxResponses:      params.MaxResponses,
			RewardType:        params.RewardType,
			FixedRewardAmount: fixed,
			RequiresWhitelist: params.RequiresWhitelist,
			DataHash:          params.DataHash,
			RewardPool:        params.Escrow,
			Status:            ledger.StatusActive,
			Respondents:       []ledger.Participant{},
		}
		if err := c.tx.PutPoll(c.ctx, poll); err != nil {
			return err
		}

		c.poll = &poll
		c.emit(ledger.EventPollCreated, &poll.ID, ledger.PollCreatedPayload{
			PollID:     poll.ID,
			Creator:    poll.Creator,
			RewardType: poll.RewardType,
			RewardPool: poll.RewardPool,
			Deadline:   poll.Deadline,
		})
		c.log("poll created",
			"poll_id", poll.ID,
			"creator", poll.Creator,
			"reward_type", poll.RewardType,
			"reward_pool", poll.RewardPool,
		)

		if len(params.Whitelist) == 0 {
			return nil
		}
		added, err := c.tx.AddWhitelist(c.ctx, poll.ID, params.Whitelist)
		if err != nil {
			return err
		}
		c.emit(ledger.EventWhitelistUpdated, &poll.ID, ledger.WhitelistUpdatedPayload{
			PollID: poll.ID,
			Added:  added,
		})
		c.log("whitelist updated", "poll_id", poll.ID, "added", len(added), "removed", 0)
		return nil
	})
}

func validateEscrow(p ledger.PollParams) error {
	if p.RewardType != ledger.FixedPerResponse {
		if p.Escrow <= 0 {
			return ledger.Errorf(ledger.ErrCodeInvalidArgument, "must provide reward pool")
		}
		return nil
	}
	if p.FixedRewardAmount <= 0 {
		return ledger.Errorf(ledger.ErrCodeInvalidArgument, "fixed reward amount must be positive")
	}
	if p.FixedRewardAmount > ledger.Amount(math.MaxInt64)/ledger.Amount(p.MaxResponses) {
		return ledger.Errorf(ledger.ErrCodeInvalidArgument, "fixed reward %d times %d responses overflows",
			p.FixedRewardAmount, p.MaxResponses)
	}
	if want := p.FixedRewardAmount * ledger.Amount(p.MaxResponses); p.Escrow != want {
		return ledger.Errorf(ledger.ErrCodeInvalidArgument, "escrow %d must equal fixed reward %d times max responses %d (%d)",
			p.Escrow, p.FixedRewardAmount, p.MaxResponses, want)
	}
	return nil
}

// SubmitResponse records caller's answer. The response that fills the poll
// closes it and distributes the pool in the same command.
func (e *Engine) SubmitResponse(ctx context.Context, pollID ledger.PollID, caller ledger.Participant, dataHash string) (Outcome, error) {
	return e.execute(ctx, "submit_response", func(c *command) error {
		if !caller.Valid() {
			return ledger.Errorf(ledger.ErrCodeInvalidArgument, "caller is required")
		}
		poll, err := c.tx.GetPoll(c.ctx, pollID)
		if err != nil {
			return err
		}
		if !poll.Active() {
			return ledger.NewPollNotActive(pollID, poll.Status)
		}
		if c.now.After(poll.Deadline) {
			return ledger.Errorf(ledger.ErrCodeExpired, "poll expired").ForPoll(pollID).By(caller)
		}
		responded, err := c.tx.HasResponse(c.ctx, pollID, caller)
		if err != nil {
			return err
		}
		if responded {
			return ledger.Errorf(ledger.ErrCodeDuplicateAction, "already responded").ForPoll(pollID).By(caller)
		}
		if poll.RequiresWhitelist {
			wl, err := c.tx.Whitelist(c.ctx, pollID)
			if err != nil {
				return err
			}
			if err := access.RequireWhitelisted(poll, wl, caller); err != nil {
				return err
			}
		}

		resp := ledger.Response{
			PollID:      pollID,
			Respondent:  caller,
			Position:    poll.ResponseCount,
			DataHash:    dataHash,
			SubmittedAt: c.now,
		}
		if err := c.tx.PutResponse(c.ctx, resp); err != nil {
			return err
		}
		poll.ResponseCount++
		poll.Respondents = append(poll.Respondents, caller)

		c.emit(ledger.EventResponseSubmitted, &poll.ID, ledger.ResponseSubmittedPayload{
			PollID:     pollID,
			Respondent: caller,
			DataHash:   dataHash,
		})
		c.log("response submitted", "poll_id", pollID, "respondent", caller, "count", poll.ResponseCount)

		if poll.Full() {
			return e.close(c, &poll)
		}
		if err := c.tx.PutPoll(c.ctx, poll); err != nil {
			return err
		}
		c.poll = &poll
		return nil
	})
}

// Finalize closes a poll whose deadline has passed. Any participant may call
// it. Polls that met quorum distribute; the rest refund the creator.
func (e *Engine) Finalize(ctx context.Context, pollID ledger.PollID, caller ledger.Participant) (Outcome, error) {
	return e.execute(ctx, "finalize", func(c *command) error {
		poll, err := c.tx.GetPoll(c.ctx, pollID)
		if err != nil {
			return err
		}
		if !poll.Active() {
			return ledger.NewPollNotActive(pollID, poll.Status)
		}
		if !c.now.After(poll.Deadline) {
			return ledger.Errorf(ledger.ErrCodeInvalidState, "poll is still open until %s",
				poll.Deadline.Format(time.RFC3339)).ForPoll(pollID)
		}
		e.logger.Debug("finalizing poll", "poll_id", pollID, "caller", caller)
		return e.close(c, &poll)
	})
}

// close transitions poll to Closed and releases its pool: distribution when
// quorum is met, a full refund otherwise. Runs inside the caller's command.
func (e *Engine) close(c *command, poll *ledger.Poll) error {
	var plan reward.Plan
	quorum := poll.QuorumMet()
	if quorum {
		responses, err := c.tx.Responses(c.ctx, poll.ID)
		if err != nil {
			return err
		}
		rs := make([]reward.Respondent, len(responses))
		for i, r := range responses {
			rs[i] = reward.Respondent{Participant: r.Respondent, Rating: r.QualityRating}
		}
		plan, err = reward.Distribute(reward.Input{
			Pool:        poll.RewardPool,
			RewardType:  poll.RewardType,
			FixedReward: poll.FixedRewardAmount,
			Creator:     poll.Creator,
			Platform:    c.cfg,
			Respondents: rs,
		})
		if err != nil {
			return err
		}
	} else {
		plan = reward.RefundAll(poll.RewardPool, poll.Creator)
	}

	closedAt := c.now
	poll.Status = ledger.StatusClosed
	poll.ClosedAt = &closedAt
	if err := c.tx.PutPoll(c.ctx, *poll); err != nil {
		return err
	}

	c.release(poll.ID, plan)
	c.emit(ledger.EventPollClosed, &poll.ID, ledger.PollClosedPayload{
		PollID:        poll.ID,
		ResponseCount: poll.ResponseCount,
		Fee:           plan.Fee,
		PaidOut:       plan.PaidOut,
		Refunded:      plan.Refunded,
		QuorumMet:     quorum,
	})
	c.poll = poll

	c.log("poll closed",
		"poll_id", poll.ID,
		"responses", poll.ResponseCount,
		"quorum_met", quorum,
		"fee", plan.Fee,
		"paid_out", plan.PaidOut,
		"refunded", plan.Refunded,
	)
	return nil
}

// CancelPoll refunds the whole pool to the creator. Only the creator may
// cancel, and only before the first response.
func (e *Engine) CancelPoll(ctx context.Context, pollID ledger.PollID, caller ledger.Participant) (Outcome, error) {
	return e.execute(ctx, "cancel_poll", func(c *command) error {
		poll, err := c.tx.GetPoll(c.ctx, pollID)
		if err != nil {
			return err
		}
		if err := access.RequireCreator(poll, caller); err != nil {
			return err
		}
		if !poll.Active() {
			return ledger.NewPollNotActive(pollID, poll.Status)
		}
		if poll.ResponseCount > 0 {
			return ledger.Errorf(ledger.ErrCodeInvalidState, "cannot cancel with responses").ForPoll(pollID)
		}

		plan := reward.RefundAll(poll.RewardPool, poll.Creator)
		closedAt := c.now
		poll.Status = ledger.StatusCancelled
		poll.ClosedAt = &closedAt
		if err := c.tx.PutPoll(c.ctx, poll); err != nil {
			return err
		}

		c.release(pollID, plan)
		c.emit(ledger.EventPollCancelled, &poll.ID, ledger.PollCancelledPayload{
			PollID: pollID,
			Refund: plan.Refunded,
		})
		c.poll = &poll
		c.log("poll cancelled", "poll_id", pollID, "refund", plan.Refunded)
		return nil
	})
}

// AddToWhitelist admits participants to a poll. Re-adding is a no-op.
func (e *Engine) AddToWhitelist(ctx context.Context, pollID ledger.PollID, caller ledger.Participant, participants []ledger.Participant) (Outcome, error) {
	return e.editWhitelist(ctx, "add_to_whitelist", pollID, caller, participants, true)
}

// RemoveFromWhitelist drops participants from a poll. Removing an absent
// participant is a no-op. Responses already submitted are kept.
func (e *Engine) RemoveFromWhitelist(ctx context.Context, pollID ledger.PollID, caller ledger.Participant, participants []ledger.Participant) (Outcome, error) {
	return e.editWhitelist(ctx, "remove_from_whitelist", pollID, caller, participants, false)
}

func (e *Engine) editWhitelist(ctx context.Context, name string, pollID ledger.PollID, caller ledger.Participant, participants []ledger.Participant, add bool) (Outcome, error) {
	return e.execute(ctx, name, func(c *command) error {
		poll, err := c.tx.GetPoll(c.ctx, pollID)
		if err != nil {
			return err
		}
		if err := access.RequireCreator(poll, caller); err != nil {
			return err
		}
		if !poll.Active() {
			return ledger.NewPollNotActive(pollID, poll.Status)
		}
		for _, p := range participants {
			if !p.Valid() {
				return ledger.Errorf(ledger.ErrCodeInvalidArgument, "empty participant").ForPoll(pollID)
			}
		}

		var payload ledger.WhitelistUpdatedPayload
		payload.PollID = pollID
		if add {
			payload.Added, err = c.tx.AddWhitelist(c.ctx, pollID, participants)
		} else {
			payload.Removed, err = c.tx.RemoveWhitelist(c.ctx, pollID, participants)
		}
		if err != nil {
			return err
		}

		c.poll = &poll
		if len(payload.Added)+len(payload.Removed) == 0 {
			return nil
		}
		c.emit(ledger.EventWhitelistUpdated, &poll.ID, payload)
		c.log("whitelist updated", "poll_id", pollID, "added", len(payload.Added), "removed", len(payload.Removed))
		return nil
	})
}

// RateResponse sets the quality rating of respondent's answer. Only the
// creator may rate, only while the poll is Active. Re-rating overwrites.
func (e *Engine) RateResponse(ctx context.Context, pollID ledger.PollID, caller, respondent ledger.Participant, rating int) (Outcome, error) {
	return e.execute(ctx, "rate_response", func(c *command) error {
		poll, err := c.tx.GetPoll(c.ctx, pollID)
		if err != nil {
			return err
		}
		if err := access.RequireCreator(poll, caller); err != nil {
			return err
		}
		if rating < ledger.MinRating || rating > ledger.MaxRating {
			return ledger.Errorf(ledger.ErrCodeInvalidArgument, "invalid rating %d: must be in [%d, %d]",
				rating, ledger.MinRating, ledger.MaxRating).ForPoll(pollID)
		}
		resp, err := c.tx.GetResponse(c.ctx, pollID, respondent)
		if err != nil {
			return err
		}
		if !poll.Active() {
			return ledger.NewPollNotActive(pollID, poll.Status)
		}

		resp.QualityRating = rating
		if err := c.tx.PutResponse(c.ctx, resp); err != nil {
			return err
		}
		c.poll = &poll
		c.emit(ledger.EventResponseRated, &poll.ID, ledger.ResponseRatedPayload{
			PollID:     pollID,
			Respondent: respondent,
			Rating:     rating,
		})
		c.log("response rated", "poll_id", pollID, "respondent", respondent, "rating", rating)
		return nil
	})
}

// SetPlatformFee changes the fee applied to future distributions. Polls that
// already closed keep the fee they were distributed with.
func (e *Engine) SetPlatformFee(ctx context.Context, caller ledger.Participant, pct int) (Outcome, error) {
	return e.execute(ctx, "set_platform_fee", func(c *command) error {
		if err := access.RequireOwner(c.cfg, caller); err != nil {
			return err
		}
		if err := platform.ValidateFee(pct); err != nil {
			return err
		}
		if err := c.tx.SetFeePercent(c.ctx, pct); err != nil {
			return err
		}
		c.emit(ledger.EventPlatformFeeUpdated, nil, ledger.PlatformFeeUpdatedPayload{
			Previous: c.cfg.FeePercent,
			Current:  pct,
		})
		c.log("platform fee updated", "previous", c.cfg.FeePercent, "current", pct)
		return nil
	})
}
