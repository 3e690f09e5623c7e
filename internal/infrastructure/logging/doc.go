// Package logging provides structured logging for fpcore.
//
// It wraps log/slog. Every entry carries the service name and version;
// components add their own attributes with With or Component.
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("scheduler").Warn("loop stopped", "reader", name)
//
// Never log templates, capture images, tokens or the template key.
package logging
