package models

import (
	"strings"
	"time"

	"checkline/internal/docstore"
	dErrors "checkline/pkg/domain-errors"
)

// Optional is a patch value with three states: unset (leave the stored
// field alone), null (clear it) and a concrete value. The zero value is unset.
type Optional[T any] struct {
	set   bool
	null  bool
	value T
}

// Set returns an Optional holding v.
func Set[T any](v T) Optional[T] {
	return Optional[T]{set: true, value: v}
}

// Null returns an Optional that clears the field.
func Null[T any]() Optional[T] {
	return Optional[T]{set: true, null: true}
}

func (o Optional[T]) IsSet() bool {
	return o.set
}

// Get returns the value and whether it is a concrete (non-null) value.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set && !o.null
}

func (o Optional[T]) field(encode func(T) any) any {
	switch {
	case !o.set:
		return docstore.Unset
	case o.null:
		return nil
	case encode != nil:
		return encode(o.value)
	default:
		return o.value
	}
}

func roleField(r Role) any { return string(r) }

// UserPatch is a partial update of a User.
type UserPatch struct {
	Name           Optional[string]
	Email          Optional[string]
	Role           Optional[Role]
	ManagerID      Optional[string]
	Active         Optional[bool]
	ExternalAuthID Optional[string]
}

// Fields returns every declared key, with Unset for untouched fields.
func (p UserPatch) Fields() docstore.Fields {
	return docstore.Fields{
		"name":           p.Name.field(nil),
		"email":          p.Email.field(nil),
		"role":           p.Role.field(roleField),
		"managerId":      p.ManagerID.field(nil),
		"active":         p.Active.field(nil),
		"externalAuthId": p.ExternalAuthID.field(nil),
	}
}

func (p UserPatch) Validate() error {
	if p.Name.set && p.Name.null {
		return dErrors.New(dErrors.CodeValidation, "name cannot be cleared")
	}
	if name, ok := p.Name.Get(); ok && strings.TrimSpace(name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name cannot be empty")
	}
	if p.Email.set && p.Email.null {
		return dErrors.New(dErrors.CodeValidation, "email cannot be cleared")
	}
	if email, ok := p.Email.Get(); ok && !strings.Contains(email, "@") {
		return dErrors.New(dErrors.CodeValidation, "email is invalid")
	}
	if p.Role.set && p.Role.null {
		return dErrors.New(dErrors.CodeValidation, "role cannot be cleared")
	}
	if role, ok := p.Role.Get(); ok && !role.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "role is invalid")
	}
	return nil
}

// Apply returns u with the patch applied.
func (p UserPatch) Apply(u User) User {
	if v, ok := p.Name.Get(); ok {
		u.Name = v
	}
	if v, ok := p.Email.Get(); ok {
		u.Email = v
	}
	if v, ok := p.Role.Get(); ok {
		u.Role = v
	}
	if p.ManagerID.IsSet() {
		u.ManagerID, _ = p.ManagerID.Get()
	}
	if p.Active.IsSet() {
		if v, ok := p.Active.Get(); ok {
			u.Active = &v
		} else {
			u.Active = nil
		}
	}
	if p.ExternalAuthID.IsSet() {
		u.ExternalAuthID, _ = p.ExternalAuthID.Get()
	}
	return u
}

// UnitPatch is a partial update of a Unit.
type UnitPatch struct {
	Name      Optional[string]
	ManagerID Optional[string]
	Active    Optional[bool]
}

func (p UnitPatch) Fields() docstore.Fields {
	return docstore.Fields{
		"name":      p.Name.field(nil),
		"managerId": p.ManagerID.field(nil),
		"active":    p.Active.field(nil),
	}
}

func (p UnitPatch) Validate() error {
	if p.Name.set && p.Name.null {
		return dErrors.New(dErrors.CodeValidation, "name cannot be cleared")
	}
	if name, ok := p.Name.Get(); ok && strings.TrimSpace(name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name cannot be empty")
	}
	return nil
}

// TemplatePatch replaces a template's name and/or item list.
type TemplatePatch struct {
	Name  Optional[string]
	Items Optional[[]TemplateItem]
}

func (p TemplatePatch) Fields() docstore.Fields {
	return docstore.Fields{
		"name": p.Name.field(nil),
		"items": p.Items.field(func(items []TemplateItem) any {
			return TemplateCodec{}.Encode(ChecklistTemplate{Items: items})["items"]
		}),
	}
}

// ChecklistValidation is the single mutation a completed checklist accepts.
type ChecklistValidation struct {
	ValidatedBy    string
	ValidatedAt    time.Time
	ManagerComment Optional[string]
}

func (v ChecklistValidation) Fields() docstore.Fields {
	return docstore.Fields{
		"validated":      true,
		"validatedBy":    v.ValidatedBy,
		"validatedAt":    v.ValidatedAt.UTC(),
		"managerComment": v.ManagerComment.field(nil),
	}
}

// MarkRead is the only notification patch: read goes false to true.
func MarkRead() docstore.Fields {
	return docstore.Fields{"read": true}
}
