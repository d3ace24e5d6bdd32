// Package config handles configuration loading for agi-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion
// and a validation pass. The serve command resolves the file path in order:
//
//  1. Path from the --config flag
//  2. Path from the AGI_GATEWAY_CONFIG environment variable
//  3. ./config.yaml (current directory)
//  4. ~/.config/agi-gateway/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  api_secret: "${AGI_GATEWAY_API_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Listeners:
//
//	server:
//	  fastagi_addr: "0.0.0.0:4573"  # Asterisk connects here
//	  http_addr: "0.0.0.0:8080"     # health + call/CDR API
//	  max_conns: 128                # 0 = unlimited
//
// Database:
//
//	database:
//	  path: "/var/lib/agi-gateway/cdr.db"
//
// Protocol engine:
//
//	agi:
//	  command_timeout: "5s"  # Go time.ParseDuration syntax
//
// Script routing to built-in applications:
//
//	apps:
//	  routes:
//	    - script: "app/echo"
//	      app: "echo"
//	    - script: "dial/*"
//	      app: "dialout"
//	      target: "SIP/trunk"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
