// Package crm implements the remote side of the bridge against an
// Odoo-compatible CRM over XML-RPC.
package crm

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kolo/xmlrpc"

	"github.com/rentloop/crmbridge/internal/adapters"
)

// Client is a thin XML-RPC client for the CRM's external API. A fresh
// transport is opened per call; the underlying library is not safe for
// concurrent calls on one connection.
type Client struct {
	URL       string
	Database  string
	Username  string
	Password  string
	CommonURL string
	ObjectURL string
	Timeout   time.Duration

	mu  sync.RWMutex
	uid int
}

// NewClient creates a CRM client. Call Authenticate before the first
// object operation.
func NewClient(url, db, username, password string, timeoutSeconds int) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &Client{
		URL:       url,
		Database:  db,
		Username:  username,
		Password:  password,
		CommonURL: fmt.Sprintf("%s/xmlrpc/2/common", url),
		ObjectURL: fmt.Sprintf("%s/xmlrpc/2/object", url),
		Timeout:   time.Duration(timeoutSeconds) * time.Second,
	}
}

// Authenticate logs in and caches the session uid
func (c *Client) Authenticate() error {
	client, err := c.newRPC(c.CommonURL)
	if err != nil {
		return err
	}
	defer client.Close()

	args := []interface{}{c.Database, c.Username, c.Password, make([]interface{}, 0)}
	var uid int
	if err := client.Call("authenticate", args, &uid); err != nil {
		return classifyRPCError(err)
	}
	if uid == 0 {
		return &adapters.AuthenticationError{Reason: "CRM rejected username/password"}
	}

	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()
	return nil
}

func (c *Client) currentUID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uid
}

func (c *Client) newRPC(url string) (*xmlrpc.Client, error) {
	client, err := xmlrpc.NewClient(url, &http.Transport{
		ResponseHeaderTimeout: c.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	return client, nil
}

// execute runs one execute_kw call against the object endpoint
func (c *Client) execute(model, method string, posArgs []interface{}, kwArgs map[string]interface{}, result interface{}) error {
	uid := c.currentUID()
	if uid == 0 {
		return &adapters.AuthenticationError{Reason: "not authenticated"}
	}

	client, err := c.newRPC(c.ObjectURL)
	if err != nil {
		return err
	}
	defer client.Close()

	args := []interface{}{c.Database, uid, c.Password, model, method, posArgs}
	if kwArgs != nil {
		args = append(args, kwArgs)
	}
	if err := client.Call("execute_kw", args, result); err != nil {
		return classifyRPCError(err)
	}
	return nil
}

// SearchRead fetches records matching a domain as raw field maps
func (c *Client) SearchRead(model string, domain []interface{}, fields []string, limit int) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	err := c.execute(model, "search_read", []interface{}{domain}, map[string]interface{}{
		"fields": fields,
		"limit":  limit,
		"order":  "write_date asc",
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("search_read on %s failed: %w", model, err)
	}
	return rows, nil
}

// Read fetches specific records by id
func (c *Client) Read(model string, ids []int64, fields []string) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	err := c.execute(model, "read", []interface{}{ids}, map[string]interface{}{
		"fields": fields,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("read on %s failed: %w", model, err)
	}
	return rows, nil
}

// Create inserts a record and returns its id
func (c *Client) Create(model string, values map[string]interface{}) (int64, error) {
	var id int64
	if err := c.execute(model, "create", []interface{}{values}, nil, &id); err != nil {
		return 0, fmt.Errorf("create on %s failed: %w", model, err)
	}
	return id, nil
}

// Write updates existing records
func (c *Client) Write(model string, ids []int64, values map[string]interface{}) error {
	var ok bool
	if err := c.execute(model, "write", []interface{}{ids, values}, nil, &ok); err != nil {
		return fmt.Errorf("write on %s failed: %w", model, err)
	}
	if !ok {
		return fmt.Errorf("write on %s returned false", model)
	}
	return nil
}

// classifyRPCError folds raw transport faults into the error taxonomy.
// XML-RPC faults carry no status codes, so the fault text decides.
func classifyRPCError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied"),
		strings.Contains(msg, "accessdenied"),
		strings.Contains(msg, "session expired"),
		strings.Contains(msg, "invalid credentials"):
		return &adapters.AuthenticationError{Reason: err.Error()}
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "temporarily unavailable"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "eof"):
		return &adapters.TransientRemoteError{Cause: err}
	}
	return err
}
