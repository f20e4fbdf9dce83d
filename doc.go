// Package authcore is the authentication core of the back office: it
// verifies credentials, drives the optional second factor challenge
// (authenticator codes and single-use backup codes), and issues the
// opaque session tokens the HTTP layer authenticates against.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface: [Engine], [Builder], [Config], and
// the value types ([LoginResult], [UserInfo], [SessionInfo],
// [MetricsSnapshot]). Persistence is pluggable behind
// [AccountProvider], session.Store, and challenge.Store; the bundled
// implementations live in the account, session, and challenge
// sub-packages. Nothing in the public API leaks a database handle or a
// wire encoding.
//
// # Failure posture
//
// Credential failures are deliberately indistinct: callers see
// [ErrInvalidCredentials] whether the email or the password was wrong,
// and [ErrInvalidCode] regardless of which second factor check failed.
// A session write failing after verified credentials degrades the
// login (nil session info) instead of failing it; writes that would
// weaken account security, like enrollment or backup code updates, are
// hard errors instead.
package authcore
