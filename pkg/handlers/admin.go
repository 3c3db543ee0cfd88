package handlers

import (
	"errors"
	"strconv"

	"github.com/guildhall-net/guildhall/pkg/dispatch"
	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/schema"
	"github.com/guildhall-net/guildhall/pkg/session"
	"github.com/guildhall-net/guildhall/pkg/store"
)

var getUsersSchema = schema.Schema{
	"start":           {Kind: schema.Int},
	"count":           {Kind: schema.Int},
	"include_deleted": {Kind: schema.Bool},
}

var updateUserSchema = schema.Schema{
	"user":     {Kind: schema.Int, Required: true},
	"nickname": {Kind: schema.String, MinLen: 2, MaxLen: 32},
	"level":    {Kind: schema.Int, Min: schema.Bound(0), Max: schema.Bound(2)},
}

var deleteUserSchema = schema.Schema{
	"user": {Kind: schema.Int, Required: true},
}

// AdminHandler serves the admin.* routes. Its table nests a level deeper than
// the other handlers: admin.users.get_users rather than admin.get_users.
// Every operation requires an administrator session.
type AdminHandler struct {
	c *Context
}

// NewAdmin constructs the admin handler for one request.
func NewAdmin(c *Context) Handler {
	return &AdminHandler{c: c}
}

func (h *AdminHandler) Routes() dispatch.Table {
	c := h.c
	admin := func(s schema.Schema, op dispatch.Operation) dispatch.Node {
		return dispatch.Op(c.RequireLevel(session.LevelAdmin, c.WithSchema(s, op)))
	}
	return dispatch.Table{
		"users": dispatch.Sub(dispatch.Table{
			"get_users":   admin(getUsersSchema, h.getUsers),
			"update_user": admin(updateUserSchema, h.updateUser),
			"delete_user": admin(deleteUserSchema, h.deleteUser),
		}),
	}
}

func (h *AdminHandler) getUsers(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	start, _ := data.OptInt("start")
	count, _ := data.OptInt("count")
	includeDeleted := data.Bool("include_deleted")

	total, err := h.c.Tx.CountUsers(includeDeleted)
	if err != nil {
		return err
	}
	users, err := h.c.Tx.ListUsers(includeDeleted, int(start), int(count))
	if err != nil {
		return err
	}
	out := make(map[string]any, len(users))
	for i := range users {
		out[strconv.FormatInt(users[i].ID, 10)] = users[i].Public(true)
	}
	return h.c.SendMessage(map[string]any{
		"users_count": total,
		"users":       out,
	})
}

func (h *AdminHandler) updateUser(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	user, err := h.c.Tx.UserByID(data.Int("user"))
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "User not found")
	}
	if err != nil {
		return err
	}
	if nickname, ok := data.OptStr("nickname"); ok {
		user.Nickname = nickname
	}
	if level, ok := data.OptInt("level"); ok {
		user.Level = int(level)
	}
	if err := h.c.Tx.UpdateUser(user); err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{"user": user.Public(true)})
}

func (h *AdminHandler) deleteUser(_ []string, req *envelope.Inbound) error {
	user, err := h.c.Tx.UserByID(schema.Values(req.Data).Int("user"))
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "User not found")
	}
	if err != nil {
		return err
	}
	user.Deleted = true
	if err := h.c.Tx.UpdateUser(user); err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{})
}
