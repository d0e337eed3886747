// Package session decides, at startup, whether the installation has a usable
// session and which dashboard it opens on.
package session

import (
	"context"
	"log/slog"

	"ktransport/internal/model"
)

type Status string

const (
	Anonymous     Status = "anonymous"
	Authenticated Status = "authenticated"
)

type Screen string

const (
	ScreenLanding           Screen = "landing"
	ScreenCommuterDashboard Screen = "commuter-dashboard"
	ScreenDriverDashboard   Screen = "driver-dashboard"
	ScreenAdminDashboard    Screen = "admin-dashboard"
	ScreenParentDashboard   Screen = "parent-dashboard"
	ScreenStaffDashboard    Screen = "staff-dashboard"
)

// Resolver is satisfied by *authclient.Client.
type Resolver interface {
	CurrentUser(ctx context.Context, token string) *model.User
}

type State struct {
	Status Status
	User   *model.User
	Screen Screen
}

func (s State) Authenticated() bool {
	return s.Status == Authenticated
}

// Bootstrap resolves the stored session into a starting state.
func Bootstrap(ctx context.Context, resolver Resolver, log *slog.Logger) State {
	if log == nil {
		log = slog.Default()
	}
	if resolver == nil {
		return State{Status: Anonymous, Screen: ScreenLanding}
	}

	user := resolver.CurrentUser(ctx, "")
	if user == nil {
		log.Info("no session, showing landing")
		return State{Status: Anonymous, Screen: ScreenLanding}
	}

	screen, ok := DashboardFor(user.Role)
	if !ok {
		log.Warn("session user has unknown role", slog.String("user_id", user.ID), slog.String("role", string(user.Role)))
		return State{Status: Anonymous, Screen: ScreenLanding}
	}
	log.Info("session restored", slog.String("user_id", user.ID), slog.String("screen", string(screen)))
	return State{Status: Authenticated, User: user, Screen: screen}
}

func DashboardFor(role model.Role) (Screen, bool) {
	switch model.ParseRole(string(role)) {
	case model.RoleCommuter:
		return ScreenCommuterDashboard, true
	case model.RoleDriver:
		return ScreenDriverDashboard, true
	case model.RoleAdmin:
		return ScreenAdminDashboard, true
	case model.RoleParent:
		return ScreenParentDashboard, true
	case model.RoleStaff:
		return ScreenStaffDashboard, true
	default:
		return ScreenLanding, false
	}
}
