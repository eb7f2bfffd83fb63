// Package match tracks the hub's active matches and runs the rehost/cancel
// vote protocol.
//
// Three pieces share one Registry:
//   - Poller: lists hub matches on an interval, upserts them, greets voting
//     rooms once, prunes matches that left the listing and publishes state
//     changes on the Bus. Cycles never overlap.
//   - Coordinator: applies votes with set semantics, fires the rehost or
//     cancel announcement when a ledger reaches its threshold and starts a new
//     epoch by clearing both ledgers. It also sends the one-off rating
//     imbalance notice.
//   - Bus: fan-out of Events to the Discord, Twitch, journal and websocket
//     consumers.
//
// Registry methods are each one critical section; chat sends always happen
// before or after a mutation, never inside it.
package match
