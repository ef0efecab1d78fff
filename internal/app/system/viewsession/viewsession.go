// Package viewsession remembers which chart view a browser is using, per
// class, in a signed cookie session.
package viewsession

import (
	"errors"
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

// MinKeyLength is the shortest session signing key accepted.
const MinKeyLength = 32

// ErrWeakKey is returned when the signing key is shorter than MinKeyLength.
var ErrWeakKey = errors.New("session key must be at least 32 bytes")

const viewKeyPrefix = "chart_view:"

// Manager reads and writes view IDs in the session cookie.
type Manager struct {
	store *sessions.CookieStore
	name  string
	log   *zap.Logger
}

// New builds a Manager signing cookies named name with key. Secure should be
// true whenever the site is served over HTTPS.
func New(key, name, domain string, secure bool, logger *zap.Logger) (*Manager, error) {
	if len(key) < MinKeyLength {
		return nil, ErrWeakKey
	}
	store := sessions.NewCookieStore([]byte(key))
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   domain,
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Manager{store: store, name: name, log: logger}, nil
}

// session returns the request's session. A cookie that cannot be decoded
// (for example after a key rotation) yields a fresh session.
func (m *Manager) session(r *http.Request) *sessions.Session {
	sess, err := m.store.Get(r, m.name)
	if err != nil {
		var scErr securecookie.Error
		if errors.As(err, &scErr) && scErr.IsDecode() {
			m.log.Warn("session cookie invalid, using fresh session", zap.Error(err))
		} else {
			m.log.Error("session store error, using fresh session", zap.Error(err))
		}
	}
	return sess
}

// ViewID returns the view ID stored for classID, or "".
func (m *Manager) ViewID(r *http.Request, classID string) string {
	id, _ := m.session(r).Values[viewKeyPrefix+classID].(string)
	return id
}

// SetViewID stores viewID for classID and writes the cookie.
func (m *Manager) SetViewID(w http.ResponseWriter, r *http.Request, classID, viewID string) error {
	sess := m.session(r)
	sess.Values[viewKeyPrefix+classID] = viewID
	return sess.Save(r, w)
}
