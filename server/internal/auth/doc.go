// Package auth provides HTTP authentication middleware for the vigil server.
//
// Token(realm, token) guards the reporter and manager APIs. Reporters send
// the token as the basic-auth password, matching what existing reporter
// libraries do; a bearer header is accepted as well.
//
// When token == "", all requests pass through (useful for local development
// with auth disabled). When the token is incorrect or absent, the middleware
// answers 401 immediately without calling the wrapped handler.
package auth
