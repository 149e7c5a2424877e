package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// postMessageParams are the values substituted into the popup response
// template.
type postMessageParams struct {
	ErrorCode   string
	AccessToken string
	ExpiresIn   int64
}

// renderPostMessage substitutes the parameters into the configured
// template. The template carries literal {errorCode}, {accessToken},
// {expiresIn}, {isSuccess} and {targetOrigin} placeholders; booleans are
// rendered bare and numbers unquoted because deployed popup scripts parse
// the payload as JavaScript, not as strings.
func (h *Handler) renderPostMessage(p postMessageParams) string {
	// A grant always wins over a stale error code.
	if p.AccessToken != "" {
		p.ErrorCode = ""
	}
	isSuccess := p.ErrorCode == ""

	return strings.NewReplacer(
		"{errorCode}", p.ErrorCode,
		"{accessToken}", p.AccessToken,
		"{expiresIn}", strconv.FormatInt(p.ExpiresIn, 10),
		"{isSuccess}", strconv.FormatBool(isSuccess),
		"{targetOrigin}", h.cfg.PostMessageTargetOrigin,
	).Replace(h.cfg.PostMessageTemplate)
}

// writePostMessage renders the popup payload as HTML.
func (h *Handler) writePostMessage(w http.ResponseWriter, p postMessageParams) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(h.renderPostMessage(p))); err != nil {
		h.logger.Warn("Failed to write popup response", "error", err)
	}
}
