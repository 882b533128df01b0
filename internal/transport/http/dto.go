package httptransport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"checkline/internal/compliance/models"
	dErrors "checkline/pkg/domain-errors"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type userResponse struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	ManagerID string      `json:"managerId,omitempty"`
	Active    bool        `json:"active"`
}

func toUserResponse(u models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		ManagerID: u.ManagerID,
		Active:    u.IsActive(),
	}
}

type notificationResponse struct {
	ID                   string    `json:"id"`
	CompletedChecklistID string    `json:"completedChecklistId"`
	Message              string    `json:"message"`
	Read                 bool      `json:"read"`
	Timestamp            time.Time `json:"timestamp"`
}

func toNotificationResponses(notes []models.Notification) []notificationResponse {
	out := make([]notificationResponse, len(notes))
	for i, n := range notes {
		out[i] = notificationResponse{
			ID:                   n.ID,
			CompletedChecklistID: n.CompletedChecklistID,
			Message:              n.Message,
			Read:                 n.Read,
			Timestamp:            n.Timestamp,
		}
	}
	return out
}

type resultDTO struct {
	ItemID      string              `json:"itemId"`
	Status      models.ResultStatus `json:"status"`
	Observation string              `json:"observation,omitempty"`
}

type submitRequest struct {
	TemplateID string      `json:"templateId"`
	UnitID     string      `json:"unitId"`
	Results    []resultDTO `json:"results"`
}

type checklistResponse struct {
	ID                 string      `json:"id"`
	TemplateID         string      `json:"templateId"`
	UnitID             string      `json:"unitId"`
	TechnicianID       string      `json:"technicianId"`
	CompletionDate     time.Time   `json:"completionDate"`
	Results            []resultDTO `json:"results"`
	HasNonConformities bool        `json:"hasNonConformities"`
	Validated          bool        `json:"validated"`
	ValidatedBy        string      `json:"validatedBy,omitempty"`
	ValidatedAt        *time.Time  `json:"validatedAt,omitempty"`
	ManagerComment     string      `json:"managerComment,omitempty"`
}

func toChecklistResponse(c models.CompletedChecklist) checklistResponse {
	resp := checklistResponse{
		ID:                 c.ID,
		TemplateID:         c.TemplateID,
		UnitID:             c.UnitID,
		TechnicianID:       c.TechnicianID,
		CompletionDate:     c.CompletionDate,
		Results:            make([]resultDTO, len(c.Results)),
		HasNonConformities: c.HasNonConformities,
		Validated:          c.Validated,
		ValidatedBy:        c.ValidatedBy,
		ManagerComment:     c.ManagerComment,
	}
	for i, r := range c.Results {
		resp.Results[i] = resultDTO{ItemID: r.ItemID, Status: r.Status, Observation: r.Observation}
	}
	if !c.ValidatedAt.IsZero() {
		at := c.ValidatedAt
		resp.ValidatedAt = &at
	}
	return resp
}

type submitResponse struct {
	Checklist        checklistResponse `json:"checklist"`
	Notified         []string          `json:"notified"`
	FailedRecipients []string          `json:"failedRecipients,omitempty"`
}

type validateRequest struct {
	Comment string `json:"comment"`
}

type createUserRequest struct {
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Password  string      `json:"password"`
	Role      models.Role `json:"role"`
	ManagerID string      `json:"managerId,omitempty"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type unitRequest struct {
	Name      string `json:"name"`
	ManagerID string `json:"managerId,omitempty"`
}

type unitResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ManagerID string `json:"managerId,omitempty"`
	Active    bool   `json:"active"`
}

type templateItemDTO struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

type templateRequest struct {
	Name  string            `json:"name"`
	Items []templateItemDTO `json:"items"`
}

type templateResponse struct {
	ID    string            `json:"id"`
	Name  string            `json:"name"`
	Items []templateItemDTO `json:"items"`
}

func (req templateRequest) toModel(id string) models.ChecklistTemplate {
	t := models.ChecklistTemplate{ID: id, Name: req.Name, Items: make([]models.TemplateItem, len(req.Items))}
	for i, item := range req.Items {
		t.Items[i] = models.TemplateItem{ID: item.ID, Text: item.Text}
	}
	return t
}

func toTemplateResponse(t models.ChecklistTemplate) templateResponse {
	resp := templateResponse{ID: t.ID, Name: t.Name, Items: make([]templateItemDTO, len(t.Items))}
	for i, item := range t.Items {
		resp.Items[i] = templateItemDTO{ID: item.ID, Text: item.Text}
	}
	return resp
}

// patchBody is a JSON merge-style body: absent keys are left alone and
// explicit nulls clear the field.
type patchBody map[string]json.RawMessage

func decodePatch(r *http.Request, allowed ...string) (patchBody, error) {
	var body patchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid request body")
	}
	known := make(map[string]struct{}, len(allowed))
	for _, k := range allowed {
		known[k] = struct{}{}
	}
	for k := range body {
		if _, ok := known[k]; !ok {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("field %q cannot be patched", k))
		}
	}
	return body, nil
}

func optional[T any](body patchBody, key string) (models.Optional[T], error) {
	raw, ok := body[key]
	if !ok {
		return models.Optional[T]{}, nil
	}
	if string(raw) == "null" {
		return models.Null[T](), nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return models.Optional[T]{}, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("field %q is invalid", key))
	}
	return models.Set(v), nil
}

func userPatchFrom(body patchBody) (models.UserPatch, error) {
	var (
		p   models.UserPatch
		err error
	)
	if p.Name, err = optional[string](body, "name"); err != nil {
		return p, err
	}
	if p.Email, err = optional[string](body, "email"); err != nil {
		return p, err
	}
	if p.Role, err = optional[models.Role](body, "role"); err != nil {
		return p, err
	}
	if p.ManagerID, err = optional[string](body, "managerId"); err != nil {
		return p, err
	}
	if p.Active, err = optional[bool](body, "active"); err != nil {
		return p, err
	}
	return p, nil
}

func unitPatchFrom(body patchBody) (models.UnitPatch, error) {
	var (
		p   models.UnitPatch
		err error
	)
	if p.Name, err = optional[string](body, "name"); err != nil {
		return p, err
	}
	if p.ManagerID, err = optional[string](body, "managerId"); err != nil {
		return p, err
	}
	if p.Active, err = optional[bool](body, "active"); err != nil {
		return p, err
	}
	return p, nil
}
