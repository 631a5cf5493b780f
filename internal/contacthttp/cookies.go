package contacthttp

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	VisitorCookie = "ll_vid"
	SessionCookie = "ll_sid"

	// browsers cap cookie lifetime at 400 days
	visitorMaxAge = 400 * 24 * time.Hour
)

// identity returns the visitor and session ids for r, minting and setting
// fresh cookies for any that are missing or malformed.
func (api *API) identity(w http.ResponseWriter, r *http.Request) (vid, sid string) {
	vid, ok := cookieID(r, VisitorCookie)
	if !ok {
		vid = uuid.NewString()
		http.SetCookie(w, api.cookie(VisitorCookie, vid, visitorMaxAge))
	}
	sid, ok = cookieID(r, SessionCookie)
	if !ok {
		sid = uuid.NewString()
		http.SetCookie(w, api.cookie(SessionCookie, sid, 0))
	}
	return vid, sid
}

func cookieID(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	id, err := uuid.Parse(c.Value)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func (api *API) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/api/contact",
		HttpOnly: true,
		Secure:   !api.insecureCookies,
		SameSite: http.SameSiteStrictMode,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge / time.Second)
	}
	return c
}
