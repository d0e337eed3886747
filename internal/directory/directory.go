// Package directory provides the read-only user lookup used by demo mode.
package directory

import (
	"sort"
	"strings"
	"time"

	"ktransport/internal/model"
)

// DemoPassword is the only password demo accounts accept.
const DemoPassword = "demo123"

type Directory interface {
	FindByEmail(email string) (model.User, bool)
	FindByID(id string) (model.User, bool)
}

type Static struct {
	byEmail map[string]model.User
	byID    map[string]model.User
}

func NewStatic(users ...model.User) *Static {
	d := &Static{
		byEmail: make(map[string]model.User, len(users)),
		byID:    make(map[string]model.User, len(users)),
	}
	for _, user := range users {
		d.byEmail[normalizeEmail(user.Email)] = user
		d.byID[user.ID] = user
	}
	return d
}

// NewDemo returns the three fixture accounts shipped with the demo build.
func NewDemo() *Static {
	seeded := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return NewStatic(
		model.User{
			ID:         "1",
			Email:      "commuter@ktransport.com",
			Phone:      "+27821234567",
			FirstName:  "John",
			LastName:   "Commuter",
			Role:       model.RoleCommuter,
			IsVerified: true,
			CreatedAt:  seeded,
			UpdatedAt:  seeded,
		},
		model.User{
			ID:         "2",
			Email:      "driver@ktransport.com",
			Phone:      "+27821234568",
			FirstName:  "Mike",
			LastName:   "Driver",
			Role:       model.RoleDriver,
			IsVerified: true,
			CreatedAt:  seeded,
			UpdatedAt:  seeded,
		},
		model.User{
			ID:         "3",
			Email:      "admin@ktransport.com",
			Phone:      "+27821234569",
			FirstName:  "Sarah",
			LastName:   "Admin",
			Role:       model.RoleAdmin,
			IsVerified: true,
			CreatedAt:  seeded,
			UpdatedAt:  seeded,
		},
	)
}

func (d *Static) FindByEmail(email string) (model.User, bool) {
	user, ok := d.byEmail[normalizeEmail(email)]
	return user, ok
}

func (d *Static) FindByID(id string) (model.User, bool) {
	user, ok := d.byID[strings.TrimSpace(id)]
	return user, ok
}

// Users returns the fixtures ordered by id.
func (d *Static) Users() []model.User {
	out := make([]model.User, 0, len(d.byID))
	for _, user := range d.byID {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
