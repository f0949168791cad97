package edge

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/hackclub/tshare/internal/auth"
)

const grantCookiePrefix = "tshare_"

// grant is the signed proof that a browser authenticated for a session.
type grant struct {
	SessionID string     `json:"sid"`
	Class     auth.Class `json:"class"`
	IssuedAt  int64      `json:"iat"`
}

// grants issues and verifies per-session grant cookies.
type grants struct {
	codec  *securecookie.SecureCookie
	maxAge time.Duration
}

// newGrants builds the cookie codec. Without a hash key a random one is
// generated, so grants do not survive a restart.
func newGrants(hashKey, blockKey []byte, maxAge time.Duration) *grants {
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(32)
	}
	if len(blockKey) == 0 {
		blockKey = nil
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(maxAge / time.Second))
	return &grants{codec: codec, maxAge: maxAge}
}

func cookieName(sessionID string) string {
	return grantCookiePrefix + sessionID
}

func (g *grants) issue(w http.ResponseWriter, r *http.Request, sessionID string, class auth.Class) error {
	name := cookieName(sessionID)
	value, err := g.codec.Encode(name, grant{SessionID: sessionID, Class: class, IssuedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("encode grant: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(g.maxAge / time.Second),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// lookup returns the class granted to this request for sessionID, if any.
func (g *grants) lookup(r *http.Request, sessionID string) (auth.Class, bool) {
	name := cookieName(sessionID)
	c, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	var gr grant
	if err := g.codec.Decode(name, c.Value, &gr); err != nil {
		return "", false
	}
	if gr.SessionID != sessionID {
		return "", false
	}
	return gr.Class, true
}
