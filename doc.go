// Package auth implements account lifecycle management for a standalone
// authentication server: registration with email confirmation, password
// resets, verified email changes, and token revocation on credential
// updates.
//
// Account lifecycle:
//   - Users start disabled with a pending registration action and a
//     single-use confirmation token. Confirming the token sets the
//     password and enables the account. Password resets and email
//     changes reuse the same pending-action mechanism, each tagged with
//     its kind so a token minted for one flow cannot complete another.
//   - Pending tokens expire after a configurable confirmation window and
//     are cleared on consumption, so links are single-use.
//
// Token revocation:
//   - TokenRevoker removes every stored access/refresh token for a user
//     when their password changes or the account is deleted. Stores that
//     cannot enumerate tokens degrade to a logged no-op.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the account
//     service and Auther to describe registration, confirmation, login,
//     and revocation events. Sinks run best-effort (errors are logged)
//     so you can forward to a database or queue without blocking the
//     triggering operation.
package auth
