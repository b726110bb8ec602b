// Package config loads and validates the engine configuration.
//
// Configuration is YAML. ${VAR} references are expanded from the
// environment before parsing, and durations are written as Go duration
// strings ("30s", "1h"). Every bound the engine relies on — context budget,
// memory capacity, adapter list, rate limits — is validated at load time so
// that a misconfigured deployment fails at startup rather than mid-traffic.
//
// Example:
//
//	logging:
//	  level: info
//	  format: console
//	database:
//	  path: /var/lib/parley/parley.db
//	session:
//	  idle_timeout: 1h
//	  sweep_interval: 1m
//	  max_sessions: 1000
//	context:
//	  budget: 4000
//	memory:
//	  capacity: 100
//	  max_age: 720h
//	adapters:
//	  - name: claude
//	    kind: anthropic
//	    api_key: ${ANTHROPIC_API_KEY}
//	    model: claude-sonnet-4-5
//	    timeout: 30s
//	    retries: 2
//	  - name: gpt
//	    kind: openai
//	    api_key: ${OPENAI_API_KEY}
//	    model: gpt-4o
//	    timeout: 30s
//	    retries: 2
//	limits:
//	  events_per_second: 1
//	  burst: 5
package config
