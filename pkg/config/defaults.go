package config

const (
	// ProviderCoach streams from the coach completion service.
	ProviderCoach = "coach"

	// ProviderOllama streams directly from an Ollama server.
	ProviderOllama = "ollama"

	defaultProvider  = ProviderCoach
	defaultUpstream  = "http://localhost:11434"
	defaultModel     = "gemma3:latest"
	defaultAPIListen = ":8081"

	defaultClientServiceTarget = "http://localhost:8081"
	defaultClientAPITarget     = "http://localhost:8081"

	defaultSilenceTimeout  = "60s"
	defaultBreakerFailures = 5

	defaultKafkaTopic = "coach.exchanges.v1"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			ServiceTarget: defaultClientServiceTarget,
			APITarget:     defaultClientAPITarget,
		},
		Stream: StreamConfig{
			Provider:        defaultProvider,
			Upstream:        defaultUpstream,
			Model:           defaultModel,
			SilenceTimeout:  defaultSilenceTimeout,
			BreakerFailures: defaultBreakerFailures,
		},
		Events: EventsConfig{
			KafkaTopic: defaultKafkaTopic,
		},
	}
}
