// Package remotefake is an in-memory remote.Client for engine tests. Records are
// kept as raw JSON objects and updates follow the remote sparse-update rules:
// top-level keys overwrite, the version token must match and is bumped.
package remotefake

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/remote"
)

// Client stores records per kind in insertion order
type Client struct {
	mu      sync.Mutex
	records map[remote.Kind][]map[string]any

	// QueryErr makes every query of a kind fail
	QueryErr map[remote.Kind]error
	// FailAtOffset makes a query of a kind fail once at the given offset
	FailAtOffset map[remote.Kind]int
	// StaleUpdates is the number of upcoming updates rejected as stale. Each
	// rejection also bumps the stored token, as a concurrent edit would.
	StaleUpdates int
	// UpdateErr fails every update when set
	UpdateErr error
	// CreateVendorErr fails vendor creation when set
	CreateVendorErr error

	Offsets        map[remote.Kind][]int
	Updates        []map[string]any
	CreatedVendors []string
	Attachments    []remote.Attachment
}

var _ remote.Client = (*Client)(nil)

// New creates an empty fake
func New() *Client {
	return &Client{
		records:      make(map[remote.Kind][]map[string]any),
		QueryErr:     make(map[remote.Kind]error),
		FailAtOffset: make(map[remote.Kind]int),
		Offsets:      make(map[remote.Kind][]int),
	}
}

// Put adds or replaces (by Id) a record given as a JSON object
func (c *Client) Put(kind remote.Kind, payload string) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		panic(fmt.Sprintf("remotefake: invalid payload: %v", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id := fmt.Sprint(obj["Id"])
	for i, r := range c.records[kind] {
		if fmt.Sprint(r["Id"]) == id {
			c.records[kind][i] = obj
			return
		}
	}
	c.records[kind] = append(c.records[kind], obj)
}

// Remove deletes a record so that it disappears from queries
func (c *Client) Remove(kind remote.Kind, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.records[kind]
	for i, r := range list {
		if fmt.Sprint(r["Id"]) == id {
			c.records[kind] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Record returns the stored object, nil if absent
func (c *Client) Record(kind remote.Kind, id string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r := c.find(kind, id); r != nil {
		return clone(r)
	}
	return nil
}

func (c *Client) Query(_ context.Context, _ remote.Connection, kind remote.Kind, offset, limit int) ([]json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Offsets[kind] = append(c.Offsets[kind], offset)

	if err := c.QueryErr[kind]; err != nil {
		return nil, err
	}
	if at, ok := c.FailAtOffset[kind]; ok && at == offset {
		delete(c.FailAtOffset, kind)
		return nil, fmt.Errorf("%w: injected failure at offset %d", remote.ErrRateLimited, offset)
	}

	list := c.records[kind]
	if offset >= len(list) {
		return nil, nil
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}
	out := make([]json.RawMessage, 0, end-offset)
	for _, r := range list[offset:end] {
		raw, _ := json.Marshal(r)
		out = append(out, raw)
	}
	return out, nil
}

func (c *Client) Get(_ context.Context, _ remote.Connection, kind remote.Kind, id string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.find(kind, id)
	if r == nil {
		return nil, remote.ErrNotFound
	}
	return json.Marshal(r)
}

func (c *Client) Update(_ context.Context, _ remote.Connection, kind remote.Kind, payload map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Updates = append(c.Updates, clone(payload))

	if c.UpdateErr != nil {
		return nil, c.UpdateErr
	}

	id := fmt.Sprint(payload["Id"])
	r := c.find(kind, id)
	if r == nil {
		return nil, remote.ErrNotFound
	}

	if c.StaleUpdates > 0 {
		c.StaleUpdates--
		r["SyncToken"] = bump(r["SyncToken"])
		return nil, remote.ErrStaleObject
	}
	if fmt.Sprint(payload["SyncToken"]) != fmt.Sprint(r["SyncToken"]) {
		return nil, remote.ErrStaleObject
	}

	for k, v := range payload {
		if k == "sparse" {
			continue
		}
		r[k] = v
	}
	r["SyncToken"] = bump(r["SyncToken"])
	return json.Marshal(r)
}

func (c *Client) FindVendorByName(_ context.Context, _ remote.Connection, name string) (*remote.NameRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records[remote.KindVendor] {
		if strings.EqualFold(fmt.Sprint(r["DisplayName"]), name) {
			return nameRecord(r), nil
		}
	}
	return nil, nil
}

func (c *Client) CreateVendor(_ context.Context, _ remote.Connection, name string) (*remote.NameRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CreateVendorErr != nil {
		return nil, c.CreateVendorErr
	}
	c.CreatedVendors = append(c.CreatedVendors, name)
	obj := map[string]any{
		"Id":          "v-" + uuid.NewString()[:8],
		"DisplayName": name,
		"Active":      true,
		"SyncToken":   "0",
	}
	c.records[remote.KindVendor] = append(c.records[remote.KindVendor], obj)
	return nameRecord(obj), nil
}

func (c *Client) UploadAttachment(_ context.Context, _ remote.Connection, att remote.Attachment) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.find(att.EntityKind, att.EntityID) == nil {
		return "", remote.ErrNotFound
	}
	c.Attachments = append(c.Attachments, att)
	return strconv.Itoa(5000 + len(c.Attachments)), nil
}

func (c *Client) find(kind remote.Kind, id string) map[string]any {
	for _, r := range c.records[kind] {
		if fmt.Sprint(r["Id"]) == id {
			return r
		}
	}
	return nil
}

func nameRecord(r map[string]any) *remote.NameRecord {
	active, _ := r["Active"].(bool)
	return &remote.NameRecord{
		ID:          fmt.Sprint(r["Id"]),
		DisplayName: fmt.Sprint(r["DisplayName"]),
		Active:      active,
		SyncToken:   fmt.Sprint(r["SyncToken"]),
	}
}

func bump(token any) string {
	n, _ := strconv.Atoi(fmt.Sprint(token))
	return strconv.Itoa(n + 1)
}

func clone(m map[string]any) map[string]any {
	raw, _ := json.Marshal(m)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}
