package ledger

import "time"

// EventType names an observable ledger event.
type EventType string

const (
	EventPollCreated        EventType = "PollCreated"
	EventResponseSubmitted  EventType = "ResponseSubmitted"
	EventPollClosed         EventType = "PollClosed"
	EventPollCancelled      EventType = "PollCancelled"
	EventResponseRated      EventType = "ResponseRated"
	EventWhitelistUpdated   EventType = "WhitelistUpdated"
	EventPlatformFeeUpdated EventType = "PlatformFeeUpdated"
)

// Event is one entry of the append-only event log.
//
// Payload holds one of the *Payload structs below. Events are ordered by Seq;
// every event of a command shares its CommandID.
type Event struct {
	Seq       int64     `json:"seq"`
	CommandID string    `json:"command_id"`
	Type      EventType `json:"type"`
	PollID    *PollID   `json:"poll_id,omitempty"`
	Payload   any       `json:"payload"`
}

// PollCreatedPayload is the payload of EventPollCreated.
type PollCreatedPayload struct {
	PollID     PollID      `json:"poll_id"`
	Creator    Participant `json:"creator"`
	RewardType RewardType  `json:"reward_type"`
	RewardPool Amount      `json:"reward_pool"`
	Deadline   time.Time   `json:"deadline"`
}

// ResponseSubmittedPayload is the payload of EventResponseSubmitted.
type ResponseSubmittedPayload struct {
	PollID     PollID      `json:"poll_id"`
	Respondent Participant `json:"respondent"`
	DataHash   string      `json:"data_hash"`
}

// PollClosedPayload is the payload of EventPollClosed.
type PollClosedPayload struct {
	PollID        PollID `json:"poll_id"`
	ResponseCount int    `json:"response_count"`
	Fee           Amount `json:"fee"`
	PaidOut       Amount `json:"paid_out"`
	Refunded      Amount `json:"refunded"`
	QuorumMet     bool   `json:"quorum_met"`
}

// PollCancelledPayload is the payload of EventPollCancelled.
type PollCancelledPayload struct {
	PollID PollID `json:"poll_id"`
	Refund Amount `json:"refund"`
}

// ResponseRatedPayload is the payload of EventResponseRated.
type ResponseRatedPayload struct {
	PollID     PollID      `json:"poll_id"`
	Respondent Participant `json:"respondent"`
	Rating     int         `json:"rating"`
}

// WhitelistUpdatedPayload is the payload of EventWhitelistUpdated.
type WhitelistUpdatedPayload struct {
	PollID  PollID        `json:"poll_id"`
	Added   []Participant `json:"added,omitempty"`
	Removed []Participant `json:"removed,omitempty"`
}

// PlatformFeeUpdatedPayload is the payload of EventPlatformFeeUpdated.
type PlatformFeeUpdatedPayload struct {
	Previous int `json:"previous"`
	Current  int `json:"current"`
}
