package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Participant is an opaque, already-authenticated caller identity.
type Participant string

// Valid reports whether the identifier is non-empty after trimming.
func (p Participant) Valid() bool {
	return strings.TrimSpace(string(p)) != ""
}

// Amount is an integral quantity of the smallest value unit.
type Amount int64

// PollID identifies a poll. IDs are assigned sequentially from 0.
type PollID uint64

// RewardType selects how a closed poll's pool is distributed.
type RewardType string

const (
	// EqualSplit divides the pool evenly between respondents.
	EqualSplit RewardType = "equal_split"
	// FixedPerResponse pays a pre-committed amount per response.
	FixedPerResponse RewardType = "fixed_per_response"
	// WeightedQuality pays in proportion to the creator's quality ratings.
	WeightedQuality RewardType = "weighted_quality"
)

// ValidRewardTypes lists the accepted reward policies in declaration order.
var ValidRewardTypes = []RewardType{EqualSplit, FixedPerResponse, WeightedQuality}

// ParseRewardType accepts the canonical snake_case names as well as the
// CamelCase names and the numeric enum codes (0, 1, 2).
func ParseRewardType(s string) (RewardType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "equal_split", "equalsplit", "0":
		return EqualSplit, nil
	case "fixed_per_response", "fixedperresponse", "1":
		return FixedPerResponse, nil
	case "weighted_quality", "weightedquality", "2":
		return WeightedQuality, nil
	}
	return "", fmt.Errorf("unknown reward type %q", s)
}

// Valid reports whether r is one of ValidRewardTypes.
func (r RewardType) Valid() bool {
	for _, v := range ValidRewardTypes {
		if r == v {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a poll.
type Status string

const (
	StatusActive    Status = "active"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// Rating bounds for explicit rate calls. Zero is reserved for "unrated".
const (
	MinRating = 1
	MaxRating = 10
)

// Poll is the ledger record for one poll.
type Poll struct {
	ID                PollID        `json:"id"`
	Creator           Participant   `json:"creator"`
	CreatedAt         time.Time     `json:"created_at"`
	Deadline          time.Time     `json:"deadline"`
	MinResponses      int           `json:"min_responses"`
	MaxResponses      int           `json:"max_responses"`
	RewardType        RewardType    `json:"reward_type"`
	FixedRewardAmount Amount        `json:"fixed_reward_amount"`
	RequiresWhitelist bool          `json:"requires_whitelist"`
	DataHash          string        `json:"data_hash"`
	RewardPool        Amount        `json:"reward_pool"`
	Status            Status        `json:"status"`
	ResponseCount     int           `json:"response_count"`
	Respondents       []Participant `json:"respondents"`
	ClosedAt          *time.Time    `json:"closed_at,omitempty"`
}

// Active reports whether the poll still accepts commands.
func (p Poll) Active() bool {
	return p.Status == StatusActive
}

// Full reports whether the poll has reached its response cap.
func (p Poll) Full() bool {
	return p.ResponseCount >= p.MaxResponses
}

// QuorumMet reports whether enough responses arrived for a payout.
func (p Poll) QuorumMet() bool {
	return p.ResponseCount >= p.MinResponses
}

// Response is one participant's answer to a poll.
type Response struct {
	PollID        PollID      `json:"poll_id"`
	Respondent    Participant `json:"respondent"`
	Position      int         `json:"position"` // 0-based submission order
	DataHash      string      `json:"data_hash"`
	QualityRating int         `json:"quality_rating"` // 0 = unrated
	SubmittedAt   time.Time   `json:"submitted_at"`
}

// Rated reports whether the creator has assigned a quality rating.
func (r Response) Rated() bool {
	return r.QualityRating > 0
}

// Whitelist is a set of participants admitted to a poll.
type Whitelist map[Participant]struct{}

// NewWhitelist builds a whitelist from the given participants.
func NewWhitelist(members ...Participant) Whitelist {
	w := make(Whitelist, len(members))
	for _, m := range members {
		w[m] = struct{}{}
	}
	return w
}

// Contains reports membership.
func (w Whitelist) Contains(p Participant) bool {
	_, ok := w[p]
	return ok
}

// LatestDeadline is the last instant the store can persist as a deadline.
var LatestDeadline = time.Unix(0, math.MaxInt64).UTC()

// PollParams carries the caller-supplied arguments of a createPoll command.
// Whitelist is admitted in the same command that opens the poll.
type PollParams struct {
	Deadline          time.Time     `json:"deadline"`
	MinResponses      int           `json:"min_responses"`
	MaxResponses      int           `json:"max_responses"`
	FixedRewardAmount Amount        `json:"fixed_reward_amount"`
	RewardType        RewardType    `json:"reward_type"`
	RequiresWhitelist bool          `json:"requires_whitelist"`
	DataHash          string        `json:"data_hash"`
	Escrow            Amount        `json:"escrow"`
	Whitelist         []Participant `json:"whitelist,omitempty"`
}
