// Package auth authenticates callers of the execution API.
//
// Authenticators vote Yes, No or Abstain on each request and a Chain
// stops at the first Yes or No. When every authenticator abstains the
// chain either admits an anonymous caller or rejects the request.
//
// The middleware stores the resulting Identity in the request context,
// scopes storage to the caller's tenant and applies per-tier rate limits.
package auth
