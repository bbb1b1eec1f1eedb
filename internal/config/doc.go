// Package config loads the license server configuration.
//
// # Configuration Sources
//
// Sources are applied in this order, each overriding the previous one:
//
//	1. Default()
//	2. A YAML file: $LICENSED_CONFIG_FILE, ./config.yaml or ./configs/config.yaml
//	3. Environment variables prefixed with LICENSED_
//
// # Environment Variables
//
// Nested sections join their names with underscores:
//
//	LICENSED_SERVER_PORT=8080
//	LICENSED_LICENSE_AUTHORITY_URL=https://licenses.example.com
//	LICENSED_LICENSE_ENCRYPTION_SECRET=...
//	LICENSED_LICENSE_DOMAINS_DEV_MARKERS=localhost,127.0.0.1,.dev.example.com
//	LICENSED_DATABASE_DRIVER=postgres
//	LICENSED_DATABASE_DSN=postgres://licensed@db/licensed
//
// Leaving LICENSED_LICENSE_AUTHORITY_URL empty runs the license engine in
// local-only mode.
package config
