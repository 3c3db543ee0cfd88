package handlers

import (
	"errors"

	"github.com/guildhall-net/guildhall/pkg/dispatch"
	"github.com/guildhall-net/guildhall/pkg/envelope"
	"github.com/guildhall-net/guildhall/pkg/schema"
	"github.com/guildhall-net/guildhall/pkg/session"
	"github.com/guildhall-net/guildhall/pkg/store"
)

var getNewsPostsSchema = schema.Schema{
	"start": {Kind: schema.Int},
	"count": {Kind: schema.Int},
}

var getNewsPostSchema = schema.Schema{
	"post": {Kind: schema.Int, Required: true},
}

var insertNewsPostSchema = schema.Schema{
	"nickname": {Kind: schema.String, Required: true, MinLen: 2, MaxLen: 32},
	"message":  {Kind: schema.String, Required: true},
}

var updateNewsPostSchema = schema.Schema{
	"post":     {Kind: schema.Int, Required: true},
	"nickname": {Kind: schema.String, MinLen: 2, MaxLen: 32},
	"message":  {Kind: schema.String},
}

var deleteNewsPostSchema = schema.Schema{
	"post": {Kind: schema.Int, Required: true},
}

// NewsHandler serves the news.* routes. Reads are public; writes require an
// administrator. New posts are broadcast to everyone connected.
type NewsHandler struct {
	c *Context
}

// NewNews constructs the news handler for one request.
func NewNews(c *Context) Handler {
	return &NewsHandler{c: c}
}

func (h *NewsHandler) Routes() dispatch.Table {
	c := h.c
	admin := func(s schema.Schema, op dispatch.Operation) dispatch.Node {
		return dispatch.Op(c.RequireLevel(session.LevelAdmin, c.WithSchema(s, op)))
	}
	return dispatch.Table{
		"get_news_posts":   dispatch.Op(c.WithSchema(getNewsPostsSchema, h.getNewsPosts)),
		"get_news_post":    dispatch.Op(c.WithSchema(getNewsPostSchema, h.getNewsPost)),
		"insert_news_post": admin(insertNewsPostSchema, h.insertNewsPost),
		"update_news_post": admin(updateNewsPostSchema, h.updateNewsPost),
		"delete_news_post": admin(deleteNewsPostSchema, h.deleteNewsPost),
	}
}

func (h *NewsHandler) getNewsPosts(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	start, _ := data.OptInt("start")
	count, _ := data.OptInt("count")

	total, err := h.c.Tx.CountNewsItems()
	if err != nil {
		return err
	}
	items, err := h.c.Tx.ListNewsItems(int(start), int(count))
	if err != nil {
		return err
	}
	out := make([]map[string]any, 0, len(items))
	for i := range items {
		out = append(out, items[i].Public())
	}
	return h.c.SendMessage(map[string]any{
		"posts_count": total,
		"posts":       out,
	})
}

func (h *NewsHandler) getNewsPost(_ []string, req *envelope.Inbound) error {
	item, err := h.c.Tx.NewsItemByID(schema.Values(req.Data).Int("post"))
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "News post not found")
	}
	if err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{"post": item.Public()})
}

func (h *NewsHandler) insertNewsPost(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	item := &store.NewsItem{
		Nickname: data.Str("nickname"),
		Message:  data.Str("message"),
	}
	if err := h.c.Tx.CreateNewsItem(item); err != nil {
		return err
	}
	payload := map[string]any{"post": item.Public()}
	if err := h.c.SendMessage(payload); err != nil {
		return err
	}
	return h.c.Broadcast(payload, true, session.LevelGuest)
}

func (h *NewsHandler) updateNewsPost(_ []string, req *envelope.Inbound) error {
	data := schema.Values(req.Data)
	item, err := h.c.Tx.NewsItemByID(data.Int("post"))
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "News post not found")
	}
	if err != nil {
		return err
	}
	if nickname, ok := data.OptStr("nickname"); ok {
		item.Nickname = nickname
	}
	if message, ok := data.OptStr("message"); ok {
		item.Message = message
	}
	if err := h.c.Tx.UpdateNewsItem(item); err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{"post": item.Public()})
}

func (h *NewsHandler) deleteNewsPost(_ []string, req *envelope.Inbound) error {
	item, err := h.c.Tx.NewsItemByID(schema.Values(req.Data).Int("post"))
	if errors.Is(err, store.ErrNotFound) {
		return h.c.SendError(404, "News post not found")
	}
	if err != nil {
		return err
	}
	item.Deleted = true
	if err := h.c.Tx.UpdateNewsItem(item); err != nil {
		return err
	}
	return h.c.SendMessage(map[string]any{})
}
