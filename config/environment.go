package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"

	// DefaultConfigPath is used when no -config flag is given.
	DefaultConfigPath = "config/config.yml"
)

const (
	EnvironmentDevelopment = environmentDevelopment
	EnvironmentProduction  = environmentProduction
	EnvironmentStaging     = environmentStaging
)

var environmentAliases = map[string]string{
	"dev":  environmentDevelopment,
	"prod": environmentProduction,
	"stag": environmentStaging,
}

// getAppEnvironment reads the application environment from APP_ENV and
// defaults to development when no value is provided.
func getAppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// resolveEnvSpecificPath selects an environment specific configuration file
// when one is available for the current environment.
func resolveEnvSpecificPath(path, defaultPath string, envPaths map[string]string) string {
	if path == "" {
		path = defaultPath
	}

	env := getAppEnvironment()
	if envPath, ok := envPaths[env]; ok {
		if path == defaultPath || path == envPath {
			return envPath
		}
	}

	return path
}

// ResolveConfigPath returns config/config.<env>.yml instead of the default
// path when APP_ENV names an environment whose file exists. Explicit paths
// are returned untouched.
func ResolveConfigPath(path string) string {
	dir := filepath.Dir(DefaultConfigPath)
	envPaths := map[string]string{}
	for _, env := range []string{environmentDevelopment, environmentStaging, environmentProduction} {
		candidate := filepath.Join(dir, "config."+env+".yml")
		if _, err := os.Stat(candidate); err == nil {
			envPaths[env] = candidate
		}
	}
	return resolveEnvSpecificPath(path, DefaultConfigPath, envPaths)
}

// AppEnvironment exposes the current application environment as configured
// through APP_ENV, normalised with the same alias rules used for file
// resolution.
func AppEnvironment() string {
	return getAppEnvironment()
}

// IsProductionLike reports whether the environment should behave like a
// production deployment.
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}
