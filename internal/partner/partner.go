// Package partner holds the static settings of the tolino partner storefronts.
//
// Every partner runs its own OAuth endpoints but shares the cloud resource
// API. A Registry is loaded once and handed to consumers explicitly; it is
// never mutated after construction.
package partner

import "maps"

// Config describes a single partner.
type Config struct {
	Name string `koanf:"-"`

	// PartnerID is sent as reseller id on every resource request.
	PartnerID string `koanf:"partner_id" validate:"required"`
	ClientID  string `koanf:"client_id" validate:"required"`
	Scope     string `koanf:"scope" validate:"required"`
	// RedirectURL is where the authorization endpoint sends the browser
	// after login. The authorization code is read from its query.
	RedirectURL string `koanf:"redirect_url" validate:"omitempty,url"`

	Endpoints Endpoints `koanf:"endpoints"`

	// Selectors are DOM hints for browser-driven authenticators. Opaque here.
	Selectors map[string]string `koanf:"selectors"`
}

// Endpoints lists the partner URLs.
type Endpoints struct {
	Login     string `koanf:"login" validate:"omitempty,url"`
	Auth      string `koanf:"auth" validate:"omitempty,url"`
	Token     string `koanf:"token" validate:"required,url"`
	Inventory string `koanf:"inventory" validate:"omitempty,url"`
	Upload    string `koanf:"upload" validate:"omitempty,url"`
	Delete    string `koanf:"delete" validate:"omitempty,url"`
	Cover     string `koanf:"cover" validate:"omitempty,url"`
	Metadata  string `koanf:"metadata" validate:"omitempty,url"`
	SyncData  string `koanf:"sync_data" validate:"omitempty,url"`
}

// All returns the configured endpoints by name, omitting empty ones.
func (e Endpoints) All() map[string]string {
	all := map[string]string{
		"login":     e.Login,
		"auth":      e.Auth,
		"token":     e.Token,
		"inventory": e.Inventory,
		"upload":    e.Upload,
		"delete":    e.Delete,
		"cover":     e.Cover,
		"metadata":  e.Metadata,
		"sync_data": e.SyncData,
	}
	maps.DeleteFunc(all, func(_, v string) bool { return v == "" })
	return all
}

func (c Config) clone() Config {
	c.Selectors = maps.Clone(c.Selectors)
	return c
}
