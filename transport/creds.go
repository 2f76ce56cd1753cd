package transport

import "os"

// Credentials are the proxy or managed-API username/password pair plus
// optional country and render toggles sourced from the environment.
type Credentials struct {
	Username string
	Password string
	Country  string
	RenderJS bool
}

// usernameEnvVars and passwordEnvVars are checked in order; the first
// non-empty value wins. The OXY_* variants cover the residential and
// managed-API products of the same provider.
var (
	usernameEnvVars = []string{"OXY_RESIDENTIAL_USERNAME", "OXY_API_USERNAME", "OXY_USERNAME"}
	passwordEnvVars = []string{"OXY_RESIDENTIAL_PASSWORD", "OXY_API_PASSWORD", "OXY_PASSWORD"}
)

// ResolveCredentials applies the priority order: CLI value, per-retailer
// config, global config, environment. Empty strings mean "not set".
func ResolveCredentials(cliUser, cliPass, retailerUser, retailerPass, globalUser, globalPass string) Credentials {
	creds := Credentials{
		Username: firstNonEmpty(cliUser, retailerUser, globalUser, envFirst(usernameEnvVars)),
		Password: firstNonEmpty(cliPass, retailerPass, globalPass, envFirst(passwordEnvVars)),
		Country:  os.Getenv("OXY_COUNTRY"),
	}
	if v := os.Getenv("OXY_RENDER_JS"); v == "1" || v == "true" {
		creds.RenderJS = true
	}
	return creds
}

func envFirst(names []string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
