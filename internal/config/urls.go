package config

import "strings"

// Endpoints contains the absolute URLs of the API endpoints the guardian calls.
type Endpoints struct {
	// Bootstrap sets or rotates the CSRF cookie.
	Bootstrap string
	// Login accepts credentials.
	Login string
	// Logout ends the session.
	Logout string
	// Status reports the authentication state.
	Status string
}

// GetEndpoints joins the configured paths onto the API base URL.
//
// Example usage:
//
//	cfg, _ := config.Load()
//	statusURL := cfg.GetEndpoints().Status
func (c *Config) GetEndpoints() Endpoints {
	return Endpoints{
		Bootstrap: c.ResolveURL(c.API.BootstrapPath),
		Login:     c.ResolveURL(c.API.LoginPath),
		Logout:    c.ResolveURL(c.API.LogoutPath),
		Status:    c.ResolveURL(c.API.StatusPath),
	}
}

// ResolveURL returns path joined onto the API base URL. Absolute URLs are
// returned unchanged.
func (c *Config) ResolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base := strings.TrimRight(c.API.BaseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
