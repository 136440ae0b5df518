// Package reward computes how a poll's escrowed pool is released when the poll
// closes or is cancelled.
//
// Everything here is pure: Distribute and RefundAll take the closing poll's
// numbers and return a Plan of transfers. The lifecycle engine records the plan
// inside the same transaction that closes the poll.
//
// Every plan satisfies the conservation law: fee + payouts + refunds equals the
// pool exactly. A plan that would violate it is returned as an error, which
// rolls the closing command back.
package reward
