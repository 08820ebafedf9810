// Package jwt signs and verifies the short-lived tickets that bridge the two
// steps of a two-factor login: password accepted, second factor pending.
//
// Tickets carry a fixed purpose claim and are rejected by [Manager.ParseTicket]
// for any other purpose, so they cannot be replayed as another kind of token.
package jwt
