package icloud

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// session is the persisted remote session: the opaque tokens plus the
// cookies the service set during authentication. Stored as JSON next to the
// data directory so an MFA-verified login survives between runs.
type session struct {
	SessionToken string        `json:"session_token,omitempty"`
	TrustToken   string        `json:"trust_token,omitempty"`
	Cookies      []savedCookie `json:"cookies,omitempty"`
}

type savedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Expires time.Time `json:"expires,omitempty"`
}

// loadSession reads the session file. A missing file yields an empty
// session, not an error.
func loadSession(path string) (session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return session{}, nil
		}
		return session{}, fmt.Errorf("reading session file: %w", err)
	}
	var s session
	if err := json.Unmarshal(data, &s); err != nil {
		return session{}, fmt.Errorf("parsing session file: %w", err)
	}
	return s, nil
}

// saveSession writes the session file with owner-only permissions.
func saveSession(path string, s session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}

// restoreCookies installs the saved cookies into the client's jar for the
// service base URL.
func restoreCookies(jar http.CookieJar, base *url.URL, s session) {
	if len(s.Cookies) == 0 {
		return
	}
	cookies := make([]*http.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Expires: c.Expires})
	}
	jar.SetCookies(base, cookies)
}

// snapshotCookies captures the jar's cookies for the service base URL.
func snapshotCookies(jar http.CookieJar, base *url.URL) []savedCookie {
	var saved []savedCookie
	for _, c := range jar.Cookies(base) {
		saved = append(saved, savedCookie{Name: c.Name, Value: c.Value, Expires: c.Expires})
	}
	return saved
}
