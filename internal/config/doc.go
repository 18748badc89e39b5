// Package config handles configuration loading for chat-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion, duration parsing and defaults. The path comes from the
// CHAT_GATEWAY_CONFIG environment variable, falling back to ./config.yaml.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CHAT_GATEWAY_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	backend:
//	  timeout: "10m"
//	  finalize_timeout: "10s"
//	limits:
//	  verification_cooldown: "60s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:3002"
//	database:
//	  path: "./data/chat.db"       # local SQLite file
//	  url: "libsql://db.turso.io"  # remote libSQL, wins over path
//	  auth_token: "${TURSO_TOKEN}"
//	backend:
//	  base_url: "https://api.openai.com/v1"
//	  default_model: "gpt-3.5-turbo"
//	  max_context_turns: 10
//	site:
//	  title: "Chat"
//	  chat_models: ["gpt-4o"]
//	audit:
//	  enabled: false
//	  custom_enabled: true
//	  words: ["forbidden"]
//	limits:
//	  chat_per_hour: 100         # 0 = unlimited
//	  auth_per_minute: 5         # failed attempts only
//	  verification_per_minute: 1
//	credentials:
//	  strategy: "round_robin"    # round_robin, first_match
//	usage:
//	  timezone: "Asia/Shanghai"
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//	cors:
//	  allowed_origins: ["*"]
//
// # Validation
//
// Load validates required fields (http address, database location, JWT
// secret), strategy and logging format values, limit signs and the usage
// timezone. The JWT secret length is enforced when the verifier is built.
package config
