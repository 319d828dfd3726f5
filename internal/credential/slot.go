package credential

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync/atomic"

	"golang.org/x/net/publicsuffix"

	"consolegate/internal/domain"
)

// Slot is the storage location behind a Store.
type Slot interface {
	Load() (domain.Credential, bool)
	Save(cred domain.Credential)
	Clear()
}

// MemorySlot keeps the credential in process memory.
type MemorySlot struct {
	v atomic.Pointer[domain.Credential]
}

func (m *MemorySlot) Load() (domain.Credential, bool) {
	p := m.v.Load()
	if p == nil {
		return domain.Credential{}, false
	}
	return *p, true
}

func (m *MemorySlot) Save(cred domain.Credential) {
	m.v.Store(&cred)
}

func (m *MemorySlot) Clear() {
	m.v.Store(nil)
}

// JarSlot persists the credential as access_token / refresh_token cookies in
// an http.CookieJar scoped to the console origin, the same slot a browser
// session uses.
type JarSlot struct {
	jar    http.CookieJar
	origin *url.URL
}

// NewJarSlot creates a cookie-jar slot for the given console origin
// (e.g. "https://console.example.com").
func NewJarSlot(origin string) (*JarSlot, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("origin %q must be http or https", origin)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return &JarSlot{jar: jar, origin: &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}}, nil
}

// Jar exposes the underlying jar so an http.Client can share it.
func (s *JarSlot) Jar() http.CookieJar { return s.jar }

func (s *JarSlot) Load() (domain.Credential, bool) {
	var cred domain.Credential
	for _, c := range s.jar.Cookies(s.origin) {
		switch c.Name {
		case AccessCookie:
			cred.AccessToken = c.Value
		case RefreshCookie:
			cred.RefreshToken = c.Value
		}
	}
	return cred, cred.AccessToken != "" || cred.RefreshToken != ""
}

func (s *JarSlot) Save(cred domain.Credential) {
	s.jar.SetCookies(s.origin, []*http.Cookie{
		jarCookie(AccessCookie, cred.AccessToken),
		jarCookie(RefreshCookie, cred.RefreshToken),
	})
}

func (s *JarSlot) Clear() {
	s.jar.SetCookies(s.origin, []*http.Cookie{
		jarCookie(AccessCookie, ""),
		jarCookie(RefreshCookie, ""),
	})
}

// jarCookie builds a root-path cookie; an empty value deletes it.
func jarCookie(name, value string) *http.Cookie {
	c := &http.Cookie{Name: name, Value: value, Path: "/"}
	if value == "" {
		c.MaxAge = -1
	}
	return c
}
