// Package middleware binds the OAuth client to net/http. It serves the
// login, callback, refresh, logout, userinfo and introspect endpoints on
// top of a sealed session cookie, and provides AuthenticateRequest, a
// Bearer-token guard that attaches the introspection result to the
// request context.
//
// The login and callback endpoints answer in popup response mode: the
// response body is a postMessage script rendered from a caller-supplied
// template, so a window.open login flow can hand the access token back
// to the opener.
package middleware
