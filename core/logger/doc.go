// Package logger provides structured logging utilities built on Go's
// standard slog package: a factory with environment presets and a set of
// pre-built attribute helpers for the domain lifecycle engine.
//
// Attribute helpers return an empty slog.Attr for nil/zero input, so
// they are safe to pass unconditionally:
//
//	log := logger.New(logger.WithProduction("domainkit"))
//	log.Info("binding created",
//		logger.Domain("shop.example.com"),
//		logger.Tenant(tenantID),
//		logger.Error(err), // no-op when err is nil
//	)
package logger
