package gateway

import (
	"net/http"
	"time"
)

// setSessionCookie issues a browser-session cookie: no Expires, no Max-Age.
func (h *Handler) setSessionCookie(w http.ResponseWriter, tok string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    tok,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.Production,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) expireSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.Production,
		SameSite: http.SameSiteStrictMode,
	})
}
