// Package logger provides component-scoped structured logging for livecap.
//
// Every subsystem logs through its own component so that noisy parts, such
// as the HTTP client, can be switched off independently:
//
//	log := logger.WithComponent(logger.ComponentCapture)
//	log.Info("tshark started", logger.Fields{"iface": "WLAN", "file": path})
//
// The global logger is usually built once at startup from LIVECAP_LOG_*
// variables:
//
//	l, closer, err := logger.EnvironmentConfig().Build()
//	if err == nil {
//		defer closer.Close()
//		logger.SetGlobalLogger(l)
//	}
//
// Outputs of the form "file:/path/to/livecap.log" are rotated by size and
// age, because a capture loop is normally left running for days.
package logger
