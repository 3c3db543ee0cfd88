package handlers

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"

	"github.com/guildhall-net/guildhall/pkg/dispatch"
	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/schema"
	"github.com/guildhall-net/guildhall/pkg/session"
	"github.com/guildhall-net/guildhall/pkg/store"
)

var loginSchema = schema.Schema{
	"username": {Kind: schema.String, Required: true},
	"password": {Kind: schema.String, Required: true},
}

var registerSchema = schema.Schema{
	"username": {Kind: schema.String, Required: true, MinLen: 2, MaxLen: 32},
	"password": {Kind: schema.String, Required: true, MinLen: 8},
	"nickname": {Kind: schema.String, Required: true, MinLen: 2, MaxLen: 32},
}

var authenticateSchema = schema.Schema{
	"session_key": {Kind: schema.String, Required: true},
}

var updateProfileSchema = schema.Schema{
	"nickname":     {Kind: schema.String, MinLen: 2, MaxLen: 32},
	"old_password": {Kind: schema.String},
	"new_password": {Kind: schema.String, MinLen: 8, Requires: []string{"old_password"}},
}

// AuthHandler serves login, logout, registration, session adoption and
// profile updates under the auth.* routes.
type AuthHandler struct {
	c *Context
}

// NewAuth constructs the auth handler for one request.
func NewAuth(c *Context) Handler {
	return &AuthHandler{c: c}
}

func (h *AuthHandler) Routes() dispatch.Table {
	c := h.c
	return dispatch.Table{
		"login":          dispatch.Op(c.WithSchema(loginSchema, h.login)),
		"register":       dispatch.Op(c.WithSchema(registerSchema, h.register)),
		"authenticate":   dispatch.Op(c.WithSchema(authenticateSchema, h.authenticate)),
		"logout":         dispatch.Op(c.RequireAuth(h.logout)),
		"update_profile": dispatch.Op(c.RequireAuth(c.WithSchema(updateProfileSchema, h.updateProfile))),
	}
}

func (h *AuthHandler) login(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	username := data.Str("username")
	password := data.Str("password")

	user, err := h.c.Tx.UserByUsername(username)
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(401, "Invalid username or password")
	}
	if err != nil {
		return err
	}

	ok, err := h.verifyCredential(user, password)
	if err != nil {
		return err
	}
	if !ok {
		return h.c.SendError(401, "Invalid username or password")
	}

	key := newSessionKey()
	if err := h.c.Tx.CreateSession(&store.Session{SessionKey: key, UserID: user.ID}); err != nil {
		return err
	}

	if err := h.c.SendMessage(map[string]any{
		"session_key": key,
		"user":        user.Public(false),
	}); err != nil {
		return err
	}
	if err := h.c.SendControl(envelope.Control{
		SessionKey: key,
		Level:      user.Level,
		LoggedIn:   true,
	}); err != nil {
		return err
	}
	return h.c.Broadcast(map[string]any{"user": user.Public(false)}, true, session.LevelGuest)
}

// verifyCredential checks the password against the user's bcrypt credential.
// Users migrated without a credential verify once against their legacy bridge
// record; success establishes a bcrypt credential and destroys the bridge.
func (h *AuthHandler) verifyCredential(user *store.User, password string) (bool, error) {
	if user.Password != "" {
		err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password))
		return err == nil, nil
	}

	legacy, err := h.c.Tx.LegacyCredentialByUsername(user.Username)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !verifyLegacyHash(password, legacy) {
		return false, nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}
	user.Password = string(hashed)
	if err := h.c.Tx.UpdateUser(user); err != nil {
		return false, err
	}
	if err := h.c.Tx.DeleteLegacyCredential(legacy.ID); err != nil {
		return false, err
	}
	h.c.Logger.Info("Migrated legacy credential", zap.String("username", user.Username))
	return true, nil
}

func (h *AuthHandler) register(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	username := data.Str("username")

	_, err := h.c.Tx.UserByUsername(username)
	if err == nil {
		return h.c.SendFieldErrors(450, []envelope.FieldError{
			{Field: "username", Message: "Username already in use"},
		})
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(data.Str("password")), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user := &store.User{
		Username: username,
		Password: string(hashed),
		Nickname: data.Str("nickname"),
		Level:    session.LevelUser,
	}
	if err := h.c.Tx.CreateUser(user); err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{"user": user.Public(false)})
}

func (h *AuthHandler) authenticate(_ []string, req *envelope.Inbound) error {
	key := schema.Values(req.Data).Str("session_key")

	record, err := h.c.Tx.SessionByKey(key)
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(401, "Invalid session")
	}
	if err != nil {
		return err
	}

	user, err := h.c.Tx.UserByID(record.UserID)
	if errors.Is(err, store.ErrNotFound) {
		// Stale session for a vanished user; clean it up.
		if delErr := h.c.Tx.DeleteSessionByID(record.ID); delErr != nil {
			return delErr
		}
		return h.c.SendError(401, "Invalid session")
	}
	if err != nil {
		return err
	}

	if err := h.c.SendMessage(map[string]any{
		"session_key": key,
		"user":        user.Public(false),
	}); err != nil {
		return err
	}
	return h.c.SendControl(envelope.Control{
		SessionKey: key,
		Level:      user.Level,
		LoggedIn:   true,
	})
}

func (h *AuthHandler) logout(_ []string, _ *envelope.Inbound) error {
	user := h.c.Session.User()
	if err := h.c.Session.Invalidate(); err != nil {
		return err
	}
	if err := h.c.SendMessage(map[string]any{}); err != nil {
		return err
	}
	if err := h.c.SendControl(envelope.Control{LoggedIn: false}); err != nil {
		return err
	}
	return h.c.Broadcast(map[string]any{"user": user.Public(false)}, true, session.LevelGuest)
}

func (h *AuthHandler) updateProfile(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	user := h.c.Session.User()

	if newPassword, ok := data.OptStr("new_password"); ok {
		oldPassword := data.Str("old_password")
		if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(oldPassword)) != nil {
			return h.c.SendFieldErrors(450, []envelope.FieldError{
				{Field: "old_password", Message: "Incorrect password"},
			})
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		user.Password = string(hashed)
	}
	if nickname, ok := data.OptStr("nickname"); ok {
		user.Nickname = nickname
	}
	if err := h.c.Tx.UpdateUser(user); err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{"user": user.Public(false)})
}

// newSessionKey returns a 32-character high-entropy key.
func newSessionKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// verifyLegacyHash checks a password against a PBKDF2-SHA512 bridge record in
// constant time.
func verifyLegacyHash(password string, lc *store.LegacyCredential) bool {
	iterations := lc.Iterations
	if iterations <= 0 {
		iterations = 25000
	}
	derived := pbkdf2.Key([]byte(password), []byte(lc.Salt), iterations, 64, sha512.New)
	expected, err := hex.DecodeString(lc.Hash)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(derived, expected) == 1
}
