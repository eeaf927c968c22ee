package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// savedCookie is one session cookie kept between invocations.
type savedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Expires time.Time `json:"expires,omitzero"`
}

// loadSession reads saved session cookies. A missing file means no session.
// Expired cookies are dropped.
func loadSession(path string) ([]*http.Cookie, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var saved []savedCookie
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	now := time.Now()
	var out []*http.Cookie
	for _, s := range saved {
		if s.Value == "" || (!s.Expires.IsZero() && s.Expires.Before(now)) {
			continue
		}
		out = append(out, &http.Cookie{Name: s.Name, Value: s.Value, Path: "/", Expires: s.Expires})
	}
	return out, nil
}

// saveSession writes cookies to path, or removes the file when there are
// none. The file is readable by the owner only.
func saveSession(path string, cookies []*http.Cookie) error {
	saved := make([]savedCookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Value == "" {
			continue
		}
		saved = append(saved, savedCookie{Name: c.Name, Value: c.Value, Expires: c.Expires})
	}
	if len(saved) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
