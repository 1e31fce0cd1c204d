// Package util holds small helpers shared by the client and the server: proxy-aware
// HTTP clients, response decompression, prompt token counting and retry.
package util

import (
	"github.com/nghyane/medistream/internal/config"
	log "github.com/nghyane/medistream/internal/logging"
)

// SetLogLevel applies cfg.Debug to the logging facade and reports changes.
func SetLogLevel(cfg *config.Config) {
	previous := log.GetLevel()
	log.SetDebug(cfg.Debug)
	if current := log.GetLevel(); current != previous {
		log.Infof("log level changed from %s to %s (debug=%t)", previous, current, cfg.Debug)
	}
}
