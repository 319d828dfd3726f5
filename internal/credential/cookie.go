package credential

import (
	"net/http"
	"time"

	"consolegate/internal/domain"
)

// Cookie names shared by the console, the edge, and Go clients.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

// CookieOptions controls the attributes of credential cookies written at the edge.
type CookieOptions struct {
	Domain string
	Secure bool
	MaxAge time.Duration // zero writes session cookies
}

// ReadCookies returns whatever credential the request carries. Missing
// cookies yield empty fields.
func ReadCookies(r *http.Request) domain.Credential {
	var cred domain.Credential
	if c, err := r.Cookie(AccessCookie); err == nil {
		cred.AccessToken = c.Value
	}
	if c, err := r.Cookie(RefreshCookie); err == nil {
		cred.RefreshToken = c.Value
	}
	return cred
}

// WriteCookies sets the credential cookies on the response. The access token
// stays readable by the page; the refresh token is HttpOnly. Empty fields are
// not written. Callers compact the access token first.
func WriteCookies(w http.ResponseWriter, cred domain.Credential, opts CookieOptions) {
	if cred.AccessToken != "" {
		http.SetCookie(w, newCookie(AccessCookie, cred.AccessToken, false, opts))
	}
	if cred.RefreshToken != "" {
		http.SetCookie(w, newCookie(RefreshCookie, cred.RefreshToken, true, opts))
	}
}

// ClearCookies expires both credential cookies.
func ClearCookies(w http.ResponseWriter, opts CookieOptions) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		c := newCookie(name, "", name == RefreshCookie, opts)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

// ReplaceRequestCookies rewrites the credential cookies on an inbound request
// so handlers further down the chain see a renewed credential.
func ReplaceRequestCookies(r *http.Request, cred domain.Credential) {
	kept := make([]*http.Cookie, 0, len(r.Cookies()))
	for _, c := range r.Cookies() {
		if c.Name != AccessCookie && c.Name != RefreshCookie {
			kept = append(kept, c)
		}
	}
	r.Header.Del("Cookie")
	for _, c := range kept {
		r.AddCookie(c)
	}
	if cred.AccessToken != "" {
		r.AddCookie(&http.Cookie{Name: AccessCookie, Value: cred.AccessToken})
	}
	if cred.RefreshToken != "" {
		r.AddCookie(&http.Cookie{Name: RefreshCookie, Value: cred.RefreshToken})
	}
}

func newCookie(name, value string, httpOnly bool, opts CookieOptions) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   opts.Domain,
		Secure:   opts.Secure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteLaxMode,
	}
	if opts.MaxAge > 0 {
		c.MaxAge = int(opts.MaxAge.Seconds())
	}
	return c
}
