package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"checkline/internal/docstore"
	dErrors "checkline/pkg/domain-errors"
)

// Each codec maps one entity to and from document fields. Decoders read
// every declared field explicitly and reject keys the entity does not
// declare, apart from the adapter-stamped timestamps.

type UserCodec struct{}

func (UserCodec) Encode(u User) docstore.Fields {
	f := docstore.Fields{
		"name":  u.Name,
		"email": u.Email,
		"role":  string(u.Role),
	}
	if u.ManagerID != "" {
		f["managerId"] = u.ManagerID
	}
	if u.Active != nil {
		f["active"] = *u.Active
	}
	if u.ExternalAuthID != "" {
		f["externalAuthId"] = u.ExternalAuthID
	}
	return f
}

func (UserCodec) Decode(id string, f docstore.Fields) (User, error) {
	r := newReader(docstore.Users, id, f)
	u := User{
		ID:             id,
		Name:           r.str("name", true),
		Email:          r.str("email", true),
		Role:           Role(r.str("role", true)),
		ManagerID:      r.str("managerId", false),
		Active:         r.optBool("active"),
		ExternalAuthID: r.str("externalAuthId", false),
	}
	if u.Role != "" && !u.Role.IsValid() {
		r.fail("role", fmt.Errorf("unknown role %q", u.Role))
	}
	return u, r.done()
}

type UnitCodec struct{}

func (UnitCodec) Encode(u Unit) docstore.Fields {
	f := docstore.Fields{
		"name":      u.Name,
		"managerId": u.ManagerID,
	}
	if u.Active != nil {
		f["active"] = *u.Active
	}
	return f
}

func (UnitCodec) Decode(id string, f docstore.Fields) (Unit, error) {
	r := newReader(docstore.Units, id, f)
	u := Unit{
		ID:        id,
		Name:      r.str("name", true),
		ManagerID: r.str("managerId", false),
		Active:    r.optBool("active"),
	}
	return u, r.done()
}

type TemplateCodec struct{}

func (TemplateCodec) Encode(t ChecklistTemplate) docstore.Fields {
	items := make([]any, 0, len(t.Items))
	for _, item := range t.Items {
		items = append(items, map[string]any{"id": item.ID, "text": item.Text})
	}
	return docstore.Fields{
		"name":  t.Name,
		"items": items,
	}
}

func (TemplateCodec) Decode(id string, f docstore.Fields) (ChecklistTemplate, error) {
	r := newReader(docstore.Templates, id, f)
	t := ChecklistTemplate{ID: id, Name: r.str("name", true)}
	for i, raw := range r.list("items") {
		ir := r.nested(fmt.Sprintf("items[%d]", i), raw)
		t.Items = append(t.Items, TemplateItem{
			ID:   ir.str("id", true),
			Text: ir.str("text", false),
		})
		ir.close()
	}
	return t, r.done()
}

type ChecklistCodec struct{}

func (ChecklistCodec) Encode(c CompletedChecklist) docstore.Fields {
	results := make([]any, 0, len(c.Results))
	for _, res := range c.Results {
		var status any
		if res.Status != StatusPending {
			status = string(res.Status)
		}
		results = append(results, map[string]any{
			"itemId":      res.ItemID,
			"status":      status,
			"observation": res.Observation,
		})
	}

	f := docstore.Fields{
		"templateId":         c.TemplateID,
		"unitId":             c.UnitID,
		"technicianId":       c.TechnicianID,
		"completionDate":     c.CompletionDate.UTC(),
		"results":            results,
		"hasNonConformities": HasNonConformities(c.Results),
	}
	if c.Validated {
		f["validated"] = true
	}
	if c.ValidatedBy != "" {
		f["validatedBy"] = c.ValidatedBy
	}
	if !c.ValidatedAt.IsZero() {
		f["validatedAt"] = c.ValidatedAt.UTC()
	}
	if c.ManagerComment != "" {
		f["managerComment"] = c.ManagerComment
	}
	return f
}

func (ChecklistCodec) Decode(id string, f docstore.Fields) (CompletedChecklist, error) {
	r := newReader(docstore.CompletedChecklists, id, f)
	c := CompletedChecklist{
		ID:             id,
		TemplateID:     r.str("templateId", true),
		UnitID:         r.str("unitId", true),
		TechnicianID:   r.str("technicianId", true),
		CompletionDate: r.timestamp("completionDate", true),
		Validated:      r.boolean("validated"),
		ValidatedBy:    r.str("validatedBy", false),
		ValidatedAt:    r.timestamp("validatedAt", false),
		ManagerComment: r.str("managerComment", false),
	}
	for i, raw := range r.list("results") {
		rr := r.nested(fmt.Sprintf("results[%d]", i), raw)
		res := ChecklistResult{
			ItemID:      rr.str("itemId", true),
			Status:      ResultStatus(rr.str("status", false)),
			Observation: rr.str("observation", false),
		}
		if !res.Status.IsValid() {
			rr.fail("status", fmt.Errorf("unknown status %q", res.Status))
		}
		rr.close()
		c.Results = append(c.Results, res)
	}
	// The stored flag is derived; recompute rather than trust it.
	r.boolean("hasNonConformities")
	c.HasNonConformities = HasNonConformities(c.Results)
	return c, r.done()
}

type NotificationCodec struct{}

func (NotificationCodec) Encode(n Notification) docstore.Fields {
	return docstore.Fields{
		"userId":               n.UserID,
		"completedChecklistId": n.CompletedChecklistID,
		"message":              n.Message,
		"read":                 n.Read,
		"timestamp":            n.Timestamp.UTC(),
	}
}

func (NotificationCodec) Decode(id string, f docstore.Fields) (Notification, error) {
	r := newReader(docstore.Notifications, id, f)
	n := Notification{
		ID:                   id,
		UserID:               r.str("userId", true),
		CompletedChecklistID: r.str("completedChecklistId", true),
		Message:              r.str("message", false),
		Read:                 r.boolean("read"),
		Timestamp:            r.timestamp("timestamp", true),
	}
	return n, r.done()
}

type AuditCodec struct{}

func (AuditCodec) Encode(e AuditLogEntry) docstore.Fields {
	return docstore.Fields{
		"timestamp":        e.Timestamp.UTC(),
		"performingUserId": e.PerformingUserID,
		"action":           string(e.Action),
		"details":          e.Details,
	}
}

func (AuditCodec) Decode(id string, f docstore.Fields) (AuditLogEntry, error) {
	r := newReader(docstore.AuditLog, id, f)
	e := AuditLogEntry{
		ID:               id,
		Timestamp:        r.timestamp("timestamp", true),
		PerformingUserID: r.str("performingUserId", false),
		Action:           AuditAction(r.str("action", true)),
		Details:          r.str("details", false),
	}
	if e.Action != "" && !e.Action.IsValid() {
		r.fail("action", fmt.Errorf("unknown action %q", e.Action))
	}
	return e, r.done()
}

// reader pulls typed values out of a field map and records which keys were
// consumed so leftovers can be reported.
type reader struct {
	path   string
	fields map[string]any
	seen   map[string]struct{}
	errs   *[]error
}

func newReader(collection, id string, f docstore.Fields) *reader {
	errs := []error{}
	return &reader{
		path:   collection + "/" + id,
		fields: f,
		seen: map[string]struct{}{
			docstore.FieldCreatedAt: {},
			docstore.FieldUpdatedAt: {},
		},
		errs: &errs,
	}
}

func (r *reader) nested(name string, raw map[string]any) *reader {
	return &reader{
		path:   r.path + "." + name,
		fields: raw,
		seen:   map[string]struct{}{},
		errs:   r.errs,
	}
}

func (r *reader) fail(key string, err error) {
	*r.errs = append(*r.errs, fmt.Errorf("%s.%s: %w", r.path, key, err))
}

func (r *reader) get(key string) (any, bool) {
	r.seen[key] = struct{}{}
	v, ok := r.fields[key]
	return v, ok && v != nil
}

func (r *reader) str(key string, required bool) string {
	v, ok := r.get(key)
	if !ok {
		if required {
			r.fail(key, errors.New("is required"))
		}
		return ""
	}
	s, isString := v.(string)
	if !isString {
		r.fail(key, fmt.Errorf("expected string, got %T", v))
		return ""
	}
	if required && strings.TrimSpace(s) == "" {
		r.fail(key, errors.New("is required"))
	}
	return s
}

func (r *reader) optBool(key string) *bool {
	v, ok := r.get(key)
	if !ok {
		return nil
	}
	b, isBool := v.(bool)
	if !isBool {
		r.fail(key, fmt.Errorf("expected bool, got %T", v))
		return nil
	}
	return &b
}

func (r *reader) boolean(key string) bool {
	b := r.optBool(key)
	return b != nil && *b
}

func (r *reader) timestamp(key string, required bool) time.Time {
	v, ok := r.get(key)
	if !ok {
		if required {
			r.fail(key, errors.New("is required"))
		}
		return time.Time{}
	}
	t := docstore.Fields{key: v}.Time(key)
	if t.IsZero() {
		r.fail(key, fmt.Errorf("expected timestamp, got %T", v))
	}
	return t
}

func (r *reader) list(key string) []map[string]any {
	v, ok := r.get(key)
	if !ok {
		return nil
	}
	raw, isList := v.([]any)
	if !isList {
		r.fail(key, fmt.Errorf("expected list, got %T", v))
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for i, e := range raw {
		m, isMap := e.(map[string]any)
		if !isMap {
			r.fail(fmt.Sprintf("%s[%d]", key, i), fmt.Errorf("expected object, got %T", e))
			continue
		}
		out = append(out, m)
	}
	return out
}

func (r *reader) unknownKeys() []string {
	var unknown []string
	for k := range r.fields {
		if _, ok := r.seen[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	slices.Sort(unknown)
	return unknown
}

func (r *reader) close() {
	for _, k := range r.unknownKeys() {
		r.fail(k, errors.New("unknown field"))
	}
}

func (r *reader) done() error {
	r.close()
	if len(*r.errs) == 0 {
		return nil
	}
	return dErrors.Wrap(errors.Join(*r.errs...), dErrors.CodeValidation, "malformed "+r.path)
}
