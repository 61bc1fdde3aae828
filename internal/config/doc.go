// Package config defines the application configuration structure and
// provides functionality to load configuration from files and environment.
package config
