package crm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rentloop/crmbridge/internal/adapters"
)

// crmTimeLayout is the timestamp format the CRM uses on the wire
const crmTimeLayout = "2006-01-02 15:04:05"

// entityModel maps canonical entity types to CRM model names
var entityModel = map[string]string{
	"leads":          "crm.lead",
	"contacts":       "res.partner",
	"tours":          "calendar.event",
	"communications": "mail.message",
}

// fieldToRemote maps canonical field names to CRM field names, per entity
// type. Fields absent here stay local and never cross the wire.
var fieldToRemote = map[string]map[string]string{
	"leads": {
		"name":          "contact_name",
		"email":         "email_from",
		"phone":         "phone",
		"status":        "stage_name",
		"assigned_to":   "user_email",
		"source":        "source_name",
		"score":         "priority_score",
		"summary":       "lead_summary",
		"tags":          "tag_names",
		"budget":        "expected_budget",
		"move_in_range": "move_in_window",
		"notes":         "description",
	},
	"contacts": {
		"name":  "name",
		"email": "email",
		"phone": "phone",
		"tags":  "category_names",
		"notes": "comment",
	},
	"tours": {
		"name":        "name",
		"tour_status": "tour_state",
		"assigned_to": "user_email",
		"notes":       "description",
	},
	"communications": {
		"name":    "subject",
		"summary": "preview",
		"notes":   "body",
	},
}

// rpcClient is the slice of Client the adapter needs
type rpcClient interface {
	SearchRead(model string, domain []interface{}, fields []string, limit int) ([]map[string]interface{}, error)
	Read(model string, ids []int64, fields []string) ([]map[string]interface{}, error)
	Create(model string, values map[string]interface{}) (int64, error)
	Write(model string, ids []int64, values map[string]interface{}) error
	Authenticate() error
}

// Adapter implements the remote side of the bridge against the CRM
type Adapter struct {
	client rpcClient
}

// NewAdapter wraps an authenticated CRM client
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

// Push writes canonical fields onto an existing CRM record
func (a *Adapter) Push(ctx context.Context, entityType, remoteID string, fields map[string]interface{}, idempotencyKey string) (*adapters.PushResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	model, err := modelFor(entityType)
	if err != nil {
		return nil, err
	}
	id, err := parseRemoteID(remoteID)
	if err != nil {
		return nil, err
	}

	values := denormalize(entityType, fields)
	// The CRM has no idempotency parameter on writes; retrying the same
	// value set is already a no-op, the key is stored for traceability.
	values["x_sync_key"] = idempotencyKey

	if err := a.client.Write(model, []int64{id}, values); err != nil {
		return nil, err
	}
	return &adapters.PushResult{RemoteID: remoteID}, nil
}

// CreateRemote makes a new CRM record. The idempotency key is stored on
// the record and checked first, so a retried create after a lost response
// finds the earlier record instead of making a twin.
func (a *Adapter) CreateRemote(ctx context.Context, entityType string, fields map[string]interface{}, idempotencyKey string) (*adapters.PushResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	model, err := modelFor(entityType)
	if err != nil {
		return nil, err
	}

	existing, err := a.client.SearchRead(model,
		[]interface{}{[]interface{}{"x_sync_key", "=", idempotencyKey}},
		[]string{"id"}, 1)
	if err != nil {
		return nil, err
	}
	if len(existing) == 1 {
		id, ok := existing[0]["id"]
		if ok {
			return &adapters.PushResult{RemoteID: formatRemoteID(id), Created: false}, nil
		}
	}

	values := denormalize(entityType, fields)
	values["x_sync_key"] = idempotencyKey
	id, err := a.client.Create(model, values)
	if err != nil {
		return nil, err
	}
	return &adapters.PushResult{RemoteID: strconv.FormatInt(id, 10), Created: true}, nil
}

// Fetch reads a CRM record's current canonical state
func (a *Adapter) Fetch(ctx context.Context, entityType, remoteID string) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	model, err := modelFor(entityType)
	if err != nil {
		return nil, err
	}
	id, err := parseRemoteID(remoteID)
	if err != nil {
		return nil, err
	}

	rows, err := a.client.Read(model, []int64{id}, remoteFields(entityType))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s record %s not found on remote", entityType, remoteID)
	}
	return a.Normalize(entityType, rows[0])
}

// FetchDeltas lists records modified on the CRM since the given time
func (a *Adapter) FetchDeltas(ctx context.Context, entityType string, since time.Time) ([]adapters.RemoteChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	model, err := modelFor(entityType)
	if err != nil {
		return nil, err
	}

	domain := make([]interface{}, 0, 1)
	if !since.IsZero() {
		domain = append(domain, []interface{}{"write_date", ">", since.UTC().Format(crmTimeLayout)})
	}
	fields := append(remoteFields(entityType), "write_date")

	rows, err := a.client.SearchRead(model, domain, fields, 500)
	if err != nil {
		return nil, err
	}

	changes := make([]adapters.RemoteChange, 0, len(rows))
	for _, row := range rows {
		canonical, err := a.Normalize(entityType, row)
		if err != nil {
			return nil, err
		}
		change := adapters.RemoteChange{
			RemoteID: formatRemoteID(row["id"]),
			Fields:   canonical,
		}
		if raw, ok := row["write_date"].(string); ok {
			if t, perr := time.Parse(crmTimeLayout, raw); perr == nil {
				change.OccurredAt = t.UTC()
			}
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// Normalize converts a raw CRM payload into canonical fields. Unknown
// fields are dropped; the CRM's false-means-null convention becomes nil.
func (a *Adapter) Normalize(entityType string, raw map[string]interface{}) (map[string]interface{}, error) {
	mapping, ok := fieldToRemote[entityType]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	canonical := make(map[string]interface{}, len(mapping))
	for field, remoteField := range mapping {
		val, present := raw[remoteField]
		if !present {
			continue
		}
		canonical[field] = normalizeValue(val)
	}
	return canonical, nil
}

// RefreshCredentials re-authenticates the underlying client
func (a *Adapter) RefreshCredentials(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.client.Authenticate()
}

func modelFor(entityType string) (string, error) {
	model, ok := entityModel[entityType]
	if !ok {
		return "", fmt.Errorf("unknown entity type %q", entityType)
	}
	return model, nil
}

func remoteFields(entityType string) []string {
	mapping := fieldToRemote[entityType]
	fields := make([]string, 0, len(mapping))
	for _, remoteField := range mapping {
		fields = append(fields, remoteField)
	}
	return fields
}

// denormalize maps canonical field names back to CRM field names
func denormalize(entityType string, fields map[string]interface{}) map[string]interface{} {
	mapping := fieldToRemote[entityType]
	values := make(map[string]interface{}, len(fields))
	for field, val := range fields {
		remoteField, ok := mapping[field]
		if !ok {
			continue
		}
		if val == nil {
			// The CRM encodes null as boolean false
			values[remoteField] = false
			continue
		}
		values[remoteField] = val
	}
	return values
}

func normalizeValue(val interface{}) interface{} {
	switch v := val.(type) {
	case bool:
		// Odoo-style APIs return false for empty fields of any type
		if !v {
			return nil
		}
		return v
	case []interface{}:
		// many2one values arrive as [id, display_name]
		if len(v) == 2 {
			if _, isNum := v[0].(int64); isNum {
				if name, isStr := v[1].(string); isStr {
					return name
				}
			}
		}
		return v
	}
	return val
}

func parseRemoteID(remoteID string) (int64, error) {
	id, err := strconv.ParseInt(remoteID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("remote id %q is not numeric: %w", remoteID, err)
	}
	return id, nil
}

func formatRemoteID(v interface{}) string {
	switch id := v.(type) {
	case int64:
		return strconv.FormatInt(id, 10)
	case int:
		return strconv.Itoa(id)
	case float64:
		return strconv.FormatInt(int64(id), 10)
	}
	return fmt.Sprintf("%v", v)
}
