// Package config handles configuration loading for helpdesk-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Unset fields receive defaults before validation runs.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HELPDESK_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/helpdesk/gateway.yaml
//  3. ~/.config/helpdesk/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	llm:
//	  api_key: "${OPENAI_API_KEY}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	fetcher:
//	  timeout: "5s"
//	jobs:
//	  base_backoff: "1s"
//	updates:
//	  stream_interval: "2s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  grpc_addr: "0.0.0.0:50051"   # optional gRPC health endpoint
//
//	database:
//	  driver: "sqlite"             # sqlite, postgres
//	  path: "/var/lib/helpdesk/gateway.db"
//	  dsn: "postgres://..."        # postgres only
//
//	auth:
//	  jwt_secret: "${HELPDESK_JWT_SECRET}"
//
//	llm:
//	  base_url: "https://api.openai.com/v1"
//	  api_key: "${OPENAI_API_KEY}"
//	  model: "gpt-4o-mini"
//	  requests_per_minute: 60
//
//	cache:
//	  backend: "memory"            # memory, redis, none
//	  redis_url: "redis://localhost:6379/0"
//
//	jobs:
//	  workers: 4
//	  max_attempts: 3
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
