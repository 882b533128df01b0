package catalog

import (
	"context"
	"log/slog"

	"checkline/internal/compliance/models"
	"checkline/internal/docstore"
)

// Profiles reads user profiles straight from the store, bypassing caches, and
// creates them through the users gateway.
type Profiles struct {
	users  Collection[models.User]
	logger *slog.Logger
}

func (c *Catalog) Profiles(logger *slog.Logger) *Profiles {
	if logger == nil {
		logger = slog.Default()
	}
	return &Profiles{users: c.Users, logger: logger}
}

// FindByEmail returns the profile with the exact email, or nil. When several
// profiles share an email the first by name wins and the rest are logged.
func (p *Profiles) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	found, err := p.users.Find(ctx, docstore.Query{}.
		Where("email", email).
		Ordered("name", false))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	if len(found) > 1 {
		ids := make([]string, 0, len(found))
		for _, u := range found {
			ids = append(ids, u.ID)
		}
		p.logger.WarnContext(ctx, "duplicate profiles share an email", "email", email, "user_ids", ids)
	}
	u := found[0]
	return &u, nil
}

func (p *Profiles) Create(ctx context.Context, user models.User) (string, error) {
	return p.users.Create(ctx, user)
}
