// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// An optional .env file next to the config (or in the working directory) is
// loaded first, and IG_API_KEY, IG_IDENTIFIER, IG_PASSWORD and IG_REST_URL
// override the api section so credentials can stay out of YAML.
package config
