// Package manifest loads poll definitions written in CUE.
//
// A manifest describes the question and options shown to respondents along
// with the on-ledger parameters of the poll:
//
//	poll: {
//		question: "Which logo?"
//		options: ["A", "B"]
//		duration: "48h"
//		max_responses: 20
//		reward_type: "equal_split"
//		reward_pool: 2000
//	}
//
// The question and options never reach the ledger; their fingerprint
// (fingerprint.PollData) becomes the poll's data hash.
package manifest
