package tools

import (
	"log/slog"

	"github.com/valetlabs/valet/internal/budget"
	"github.com/valetlabs/valet/internal/digest"
	"github.com/valetlabs/valet/internal/fetch"
	"github.com/valetlabs/valet/internal/profile"
	"github.com/valetlabs/valet/internal/reminder"
	"github.com/valetlabs/valet/internal/search"
	"github.com/valetlabs/valet/internal/social"
	"github.com/valetlabs/valet/internal/weather"
)

// Deps are the collaborators capabilities call into. Nil members are
// allowed; their capabilities report themselves unconfigured instead
// of registering partially.
type Deps struct {
	Logger    *slog.Logger
	Ledger    *budget.Ledger
	Profiles  *profile.Store
	Search    *search.Manager
	Social    social.Client
	Weather   weather.Source
	Reader    *fetch.Reader
	Reminders *reminder.Engine
	Cache     *digest.Cache
}

// RegisterAll wires every capability into the registry and freezes it.
// This is the single registration point; nothing registers at import
// time.
func RegisterAll(r *Registry, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	registerSearchTools(r, d)
	registerSocialTools(r, d)
	registerReminderTools(r, d)
	registerWeatherTools(r, d)
	registerNewsTools(r, d)
	registerSettingsTools(r, d)
	registerUsageTools(r, d)
	r.Freeze()
}
