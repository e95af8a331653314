// Package auth provides optional API key authentication.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/a-h/respond"
	"github.com/a-h/simserver/middleware"
)

// Keys maps API keys to the name of the caller that owns them.
type Keys map[string]string

// LoadFromFile reads a JSON object of API keys to user names.
func LoadFromFile(name string) (keys Keys, err error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to open keys file: %w", err)
	}
	defer f.Close()
	keys = make(Keys)
	if err = json.NewDecoder(f).Decode(&keys); err != nil {
		return nil, fmt.Errorf("auth: failed to decode keys file %q: %w", name, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("auth: keys file %q contains no keys", name)
	}
	return keys, nil
}

func New(log *slog.Logger, keys Keys, next http.Handler) *Auth {
	return &Auth{
		log:  log,
		keys: keys,
		next: next,
	}
}

type Auth struct {
	log  *slog.Logger
	keys Keys
	next http.Handler
}

type userContextKey int

const userKey userContextKey = 0

func GetUser(r *http.Request) (user string, ok bool) {
	user, ok = r.Context().Value(userKey).(string)
	return
}

// lookup compares the key against every configured key so that the time taken
// does not depend on which key matched.
func (a *Auth) lookup(key string) (user string, ok bool) {
	for k, u := range a.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			user, ok = u, true
		}
	}
	return user, ok
}

func (a *Auth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if key == "" {
		respond.WithError(w, "authentication not provided", http.StatusUnauthorized)
		return
	}
	user, ok := a.lookup(key)
	if !ok {
		a.log.Warn("unknown API key", slog.String("requestID", middleware.GetRequestID(r.Context())), slog.String("path", r.URL.Path))
		respond.WithError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	r = r.WithContext(context.WithValue(r.Context(), userKey, user))
	a.next.ServeHTTP(w, r)
}
