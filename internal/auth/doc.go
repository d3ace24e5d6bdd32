// Package auth provides JWT authentication for the gateway's HTTP API.
//
// # Token Format
//
// Tokens are HS256-signed JWTs with three claims:
//
//   - sub: the subject the token was minted for (an operator or client name)
//   - iat: issued-at timestamp
//   - exp: expiration timestamp
//
// JWTVerifier handles both minting (Generate) and validation (Verify); the
// shared secret comes from the gateway configuration.
//
// # Middleware
//
// HTTPAuthMiddleware guards API routes: it extracts the bearer token from
// the Authorization header, verifies it, and stashes the Identity in the
// request context where handlers can read it via IdentityFromContext.
//
// The gateway only installs the middleware when an API secret is configured;
// without one the API is open and the daemon logs a warning at startup.
package auth
