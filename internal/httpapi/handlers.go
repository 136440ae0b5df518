package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/pulse/internal/engine"
	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/store"
)

const callerKey = "pulse.caller"

// requireParticipant rejects requests without a caller identity.
func (s *Server) requireParticipant(c *gin.Context) {
	p := ledger.Participant(c.GetHeader(ParticipantHeader))
	if !p.Valid() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: errorDetail{
			Code:    string(ledger.ErrCodeUnauthorized),
			Message: "missing " + ParticipantHeader + " header",
		}})
		return
	}
	c.Set(callerKey, p)
	c.Next()
}

func caller(c *gin.Context) ledger.Participant {
	return c.MustGet(callerKey).(ledger.Participant)
}

// pollID parses the :id path parameter.
func pollID(c *gin.Context) (ledger.PollID, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid poll id "+strconv.Quote(c.Param("id")))
		return 0, false
	}
	return ledger.PollID(id), true
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": ledger.EngineVersion})
}

func (s *Server) getPlatform(c *gin.Context) {
	cfg, err := s.eng.Platform(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type feeRequest struct {
	FeePercent *int `json:"fee_percent" binding:"required"`
}

func (s *Server) setPlatformFee(c *gin.Context) {
	var req feeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := s.eng.SetPlatformFee(c.Request.Context(), caller(c), *req.FeePercent)
	s.respond(c, http.StatusOK, out, err)
}

// createPollRequest is the body of POST /v1/polls.
type createPollRequest struct {
	Deadline          time.Time            `json:"deadline" binding:"required"`
	MinResponses      int                  `json:"min_responses"`
	MaxResponses      int                  `json:"max_responses"`
	RewardType        string               `json:"reward_type" binding:"required"`
	FixedRewardAmount ledger.Amount        `json:"fixed_reward_amount"`
	RequiresWhitelist bool                 `json:"requires_whitelist"`
	DataHash          string               `json:"data_hash"`
	Escrow            ledger.Amount        `json:"escrow"`
	Whitelist         []ledger.Participant `json:"whitelist,omitempty"`
}

func (s *Server) createPoll(c *gin.Context) {
	var req createPollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	rt, err := ledger.ParseRewardType(req.RewardType)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	out, err := s.eng.CreatePoll(ctx, caller(c), ledger.PollParams{
		Deadline:          req.Deadline,
		MinResponses:      req.MinResponses,
		MaxResponses:      req.MaxResponses,
		FixedRewardAmount: req.FixedRewardAmount,
		RewardType:        rt,
		RequiresWhitelist: req.RequiresWhitelist,
		DataHash:          req.DataHash,
		Escrow:            req.Escrow,
		Whitelist:         req.Whitelist,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (s *Server) listPolls(c *gin.Context) {
	polls, err := s.eng.ListPolls(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, polls)
}

func (s *Server) getPoll(c *gin.Context) {
	id, ok := pollID(c)
	if !ok {
		return
	}
	poll, err := s.eng.GetPoll(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

type submitRequest struct {
	DataHash string `json:"data_hash"`
}

func (s *Server) submitResponse(c *gin.Context) {
	id, ok := pollID(c)
	if !ok {
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := s.eng.SubmitResponse(c.Request.Context(), id, caller(c), req.DataHash)
	s.respond(c, http.StatusCreated, out, err)
}

func (s *Server) finalize(c *gin.Context) {
	id, ok := pollID(c)
	if !ok {
		return
	}
	out, err := s.eng.Finalize(c.Request.Context(), id, caller(c))
	s.respond(c, http.StatusOK, out, err)
}

func (s *Server) cancelPoll(c *gin.Context) {
	id, ok := pollID(c)
	if !ok {
		return
	}
	out, err := s.eng.CancelPoll(c.Request.Context(), id, caller(c))
	s.respond(c, http.StatusOK, out, err)
}

func (s *Server) listResponses(c *gin.Context) {
	id, ok := pollID(c)
	if !ok {
		return
	}
	responses, err := s.eng.Responses(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, responses)
}

func (s *Server) getResponse(c *gin.Context) {
	id, ok := pollID(c)
	if !ok {
		return
	}
	resp, err := s.eng.GetResponse(c.Request.Context(), id, ledger.Participant(c.Param("participant")))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type rateRequest struct {
	Rating int `json:"rating"`
}

func (s *Server) rateResponse(c *gin.Context) {
	id, ok := pollID(c)
	if !ok {
		return
	}
	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	respondent := ledger.Participant(c.Param("participant"))
	out, err := s.eng.RateResponse(c.Request.Context(), id, caller(c), respondent, req.Rating)
	s.respond(c, http.StatusOK, out, err)
}

func (s *Server) isWhitelisted(c *gin.Context) {
	id, ok := pollID(c)
	if !ok {
		return
	}
	p := ledger.Participant(c.Param("participant"))
	listed, err := s.eng.IsWhitelisted(c.Request.Context(), id, p)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"poll_id": id, "participant": p, "whitelisted": listed})
}

type whitelistRequest struct {
	Participants []ledger.Participant `json:"participants" binding:"required"`
}

func (s *Server) addToWhitelist(c *gin.Context) {
	s.editWhitelist(c, s.eng.AddToWhitelist)
}

func (s *Server) removeFromWhitelist(c *gin.Context) {
	s.editWhitelist(c, s.eng.RemoveFromWhitelist)
}

type whitelistEdit func(ctx context.Context, id ledger.PollID, caller ledger.Participant, ps []ledger.Participant) (engine.Outcome, error)

func (s *Server) editWhitelist(c *gin.Context, edit whitelistEdit) {
	id, ok := pollID(c)
	if !ok {
		return
	}
	var req whitelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := edit(c.Request.Context(), id, caller(c), req.Participants)
	s.respond(c, http.StatusOK, out, err)
}

func (s *Server) listTransfers(c *gin.Context) {
	var f store.TransferFilter
	if raw := c.Query("poll"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid poll id "+strconv.Quote(raw))
			return
		}
		pid := ledger.PollID(id)
		f.PollID = &pid
	}
	f.PendingOnly = c.Query("pending") == "true"

	transfers, err := s.eng.Transfers(c.Request.Context(), f)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, transfers)
}

func (s *Server) audit(c *gin.Context) {
	report, err := s.eng.Audit(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// respond writes a command outcome or its error.
func (s *Server) respond(c *gin.Context, status int, out engine.Outcome, err error) {
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(status, out)
}
