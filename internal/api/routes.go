package api

const (
	HealthCheckRoute = "/healthz"
	VersionRoute     = "/version"
	MetricsRoute     = "/metrics"

	LoginRoute = "/auth/{provider}"

	APIParent        = "/api"
	MeRoute          = "/me"
	PreferencesRoute = "/preferences"
	NewsRoute        = "/news"
	WeatherRoute     = "/weather"
)
