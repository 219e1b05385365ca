package config

// DefaultEnvAliases returns alternate names accepted for each canonical
// environment variable.
func DefaultEnvAliases() map[string][]string {
	aliases := map[string][]string{
		APIKeyEnv:                         {"AGENTSTUDIO_API_KEY"},
		"AGENTSTUDIO_BASE_URL":            {"BROWSER_USE_BASE_URL"},
		"AGENTSTUDIO_LOG_LEVEL":           {"LOG_LEVEL"},
		"AGENTSTUDIO_SERVER_PORT":         {"PORT"},
		"AGENTSTUDIO_CORS_ORIGINS":        {"CORS_ALLOWED_ORIGINS"},
		"AGENTSTUDIO_OTLP_ENDPOINT":       {"OTEL_EXPORTER_OTLP_ENDPOINT"},
		"AGENTSTUDIO_CONFIG":              {"AGENTSTUDIO_CONFIG_PATH"},
		"AGENTSTUDIO_SCREENSHOT_STAGGER":  {"SCREENSHOT_STAGGER"},
		"AGENTSTUDIO_DEFAULT_TASK_TYPE":   {"AGENTSTUDIO_TASK_TYPE"},
		"AGENTSTUDIO_MAX_RESPONSE_BYTES":  {"AGENTSTUDIO_MAX_BODY_BYTES"},
		"AGENTSTUDIO_ARTIFACT_CACHE_SIZE": {"AGENTSTUDIO_CACHE_SIZE"},
	}

	out := make(map[string][]string, len(aliases))
	for key, list := range aliases {
		out[key] = append([]string(nil), list...)
	}
	return out
}
