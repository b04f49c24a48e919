// Package credstore persists the session cookie between invocations.
//
// The backend authenticates with an httpOnly "token" cookie. A browser keeps it in its
// cookie store; this jar keeps it in a single JSON file (0600, directory 0700).
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SessionCookie is the cookie the MuchToDo backend issues on login.
const SessionCookie = "token"

// TokenEnv overrides the stored session with a pasted token.
const TokenEnv = "MUCHTODO_TOKEN"

type storedCookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Path     string     `json:"path,omitempty"`
	Domain   string     `json:"domain,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
	HttpOnly bool       `json:"http_only,omitempty"`
}

type storedSite struct {
	URL     string                  `json:"url"`
	Cookies map[string]storedCookie `json:"cookies"`
}

type fileFormat struct {
	SavedAt time.Time              `json:"saved_at"`
	Sites   map[string]*storedSite `json:"sites"`
}

// Jar is an http.CookieJar that writes through to a file.
type Jar struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	inner   *cookiejar.Jar
	sites   map[string]*storedSite
	savedAt time.Time
}

// Open loads the jar at path. A missing file is an empty jar.
func Open(path string) (*Jar, error) {
	j := &Jar{path: path, now: time.Now}
	if err := j.reset(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return j, nil
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	var ff fileFormat
	if err := json.Unmarshal(b, &ff); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	j.savedAt = ff.SavedAt
	for key, site := range ff.Sites {
		u, err := url.Parse(site.URL)
		if err != nil {
			continue
		}
		live := make(map[string]storedCookie, len(site.Cookies))
		var cs []*http.Cookie
		for name, sc := range site.Cookies {
			if sc.Expires != nil && !sc.Expires.After(j.now()) {
				continue
			}
			live[name] = sc
			cs = append(cs, sc.httpCookie())
		}
		if len(live) == 0 {
			continue
		}
		j.sites[key] = &storedSite{URL: site.URL, Cookies: live}
		j.inner.SetCookies(u, cs)
	}
	return j, nil
}

// NewMemory returns a jar that never touches disk.
func NewMemory() *Jar {
	j := &Jar{now: time.Now}
	_ = j.reset()
	return j
}

func (j *Jar) reset() error {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("cookie jar: %w", err)
	}
	j.inner = inner
	j.sites = map[string]*storedSite{}
	return nil
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.inner.SetCookies(u, cookies)

	key := siteKey(u)
	site := j.sites[key]
	if site == nil {
		site = &storedSite{URL: key, Cookies: map[string]storedCookie{}}
		j.sites[key] = site
	}
	for _, c := range cookies {
		if c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(j.now())) {
			delete(site.Cookies, c.Name)
			continue
		}
		site.Cookies[c.Name] = fromHTTPCookie(c, j.now())
	}
	if len(site.Cookies) == 0 {
		delete(j.sites, key)
	}
	// The jar cannot return an error; a failed write only costs the next process its session.
	_ = j.save()
}

// Cookies implements http.CookieJar. The token env var wins over stored cookies.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	cs := j.inner.Cookies(u)
	if tok := envToken(); tok != "" {
		out := []*http.Cookie{{Name: SessionCookie, Value: tok}}
		for _, c := range cs {
			if c.Name != SessionCookie {
				out = append(out, c)
			}
		}
		return out
	}
	return cs
}

// Clear drops every cookie and removes the file.
func (j *Jar) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.reset(); err != nil {
		return err
	}
	j.savedAt = time.Time{}
	if j.path == "" {
		return nil
	}
	if err := os.Remove(j.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

// Info describes where the session token comes from.
type Info struct {
	Source    string     // "env" | "file" | "" when there is none
	SavedAt   time.Time  // when the file was last written
	ExpiresAt *time.Time // cookie expiry if the server sent one
}

// Info reports the session token for u, or ok=false when there is none.
func (j *Jar) Info(u *url.URL) (Info, bool) {
	if envToken() != "" {
		return Info{Source: "env"}, true
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	site := j.sites[siteKey(u)]
	if site == nil {
		return Info{}, false
	}
	sc, ok := site.Cookies[SessionCookie]
	if !ok {
		return Info{}, false
	}
	return Info{Source: "file", SavedAt: j.savedAt, ExpiresAt: sc.Expires}, true
}

func (j *Jar) save() error {
	if j.path == "" {
		return nil
	}
	if len(j.sites) == 0 {
		if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	j.savedAt = j.now()
	b, err := json.MarshalIndent(fileFormat{SavedAt: j.savedAt, Sites: j.sites}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.WriteFile(j.path, b, 0o600); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func siteKey(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func fromHTTPCookie(c *http.Cookie, now time.Time) storedCookie {
	sc := storedCookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
	switch {
	case c.MaxAge > 0:
		exp := now.Add(time.Duration(c.MaxAge) * time.Second).UTC()
		sc.Expires = &exp
	case !c.Expires.IsZero():
		exp := c.Expires.UTC()
		sc.Expires = &exp
	}
	return sc
}

func (sc storedCookie) httpCookie() *http.Cookie {
	c := &http.Cookie{
		Name:     sc.Name,
		Value:    sc.Value,
		Path:     sc.Path,
		Domain:   sc.Domain,
		Secure:   sc.Secure,
		HttpOnly: sc.HttpOnly,
	}
	if sc.Expires != nil {
		c.Expires = *sc.Expires
	}
	return c
}

func envToken() string {
	return stripBearer(strings.TrimSpace(os.Getenv(TokenEnv)))
}

func stripBearer(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "bearer ") {
		return strings.TrimSpace(s[7:])
	}
	return s
}
