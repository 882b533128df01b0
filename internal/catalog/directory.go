package catalog

import (
	"context"
	"errors"

	"checkline/internal/compliance/models"
	"checkline/internal/livecache"
)

// Directory answers entity lookups from standing full-collection caches of
// users, units and templates. Lookups never block; before the first
// delivery they simply miss.
type Directory struct {
	users     *livecache.Cache[models.User]
	units     *livecache.Cache[models.Unit]
	templates *livecache.Cache[models.ChecklistTemplate]
}

// OpenDirectory subscribes to the three collections.
func (c *Catalog) OpenDirectory(ctx context.Context) (*Directory, error) {
	users, err := c.Users.Hub.All(ctx)
	if err != nil {
		return nil, err
	}
	units, err := c.Units.Hub.All(ctx)
	if err != nil {
		users.Close()
		return nil, err
	}
	templates, err := c.Templates.Hub.All(ctx)
	if err != nil {
		users.Close()
		units.Close()
		return nil, err
	}
	return &Directory{users: users, units: units, templates: templates}, nil
}

// Ready reports whether all three snapshots have been delivered at least once.
func (d *Directory) Ready() bool {
	return d.users.Ready() && d.units.Ready() && d.templates.Ready()
}

// WaitReady blocks until every snapshot is ready or ctx ends.
func (d *Directory) WaitReady(ctx context.Context) error {
	if _, err := d.users.Await(ctx, func([]models.User) bool { return true }); err != nil {
		return err
	}
	if _, err := d.units.Await(ctx, func([]models.Unit) bool { return true }); err != nil {
		return err
	}
	_, err := d.templates.Await(ctx, func([]models.ChecklistTemplate) bool { return true })
	return err
}

func (d *Directory) User(id string) (models.User, bool) {
	return d.users.Find(func(u models.User) bool { return u.ID == id })
}

// UserByEmail matches exactly; callers normalise case.
func (d *Directory) UserByEmail(email string) (models.User, bool) {
	return d.users.Find(func(u models.User) bool { return u.Email == email })
}

func (d *Directory) Unit(id string) (models.Unit, bool) {
	return d.units.Find(func(u models.Unit) bool { return u.ID == id })
}

func (d *Directory) Template(id string) (models.ChecklistTemplate, bool) {
	return d.templates.Find(func(t models.ChecklistTemplate) bool { return t.ID == id })
}

// Coordinators returns every coordinator in the snapshot, active or not.
func (d *Directory) Coordinators() []models.User {
	return d.users.Filter(func(u models.User) bool { return u.Role == models.RoleCoordinator })
}

// Err joins the subscription errors of the three caches.
func (d *Directory) Err() error {
	return errors.Join(d.users.Err(), d.units.Err(), d.templates.Err())
}

func (d *Directory) Close() {
	d.users.Close()
	d.units.Close()
	d.templates.Close()
}
