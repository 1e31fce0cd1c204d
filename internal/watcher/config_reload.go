package watcher

import (
	"fmt"

	"github.com/nghyane/medistream/internal/config"
)

// describeChanges lists the reloadable fields that differ. Secrets are reported as
// changed without their values.
func describeChanges(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var changes []string
	add := func(name string, changed bool, detail string) {
		if changed {
			changes = append(changes, name+": "+detail)
		}
	}
	fromTo := func(a, b any) string { return fmt.Sprintf("%v -> %v", a, b) }

	add("debug", oldCfg.Debug != newCfg.Debug, fromTo(oldCfg.Debug, newCfg.Debug))
	add("upstream.provider", oldCfg.Upstream.Provider != newCfg.Upstream.Provider, fromTo(oldCfg.Upstream.Provider, newCfg.Upstream.Provider))
	add("upstream.model", oldCfg.Upstream.Model != newCfg.Upstream.Model, fromTo(oldCfg.Upstream.Model, newCfg.Upstream.Model))
	add("upstream.base-url", oldCfg.Upstream.BaseURL != newCfg.Upstream.BaseURL, fromTo(oldCfg.Upstream.BaseURL, newCfg.Upstream.BaseURL))
	add("upstream.api-key", oldCfg.Upstream.APIKey != newCfg.Upstream.APIKey, "updated")
	add("limits.max-prompt-tokens", oldCfg.Limits.MaxPromptTokens != newCfg.Limits.MaxPromptTokens, fromTo(oldCfg.Limits.MaxPromptTokens, newCfg.Limits.MaxPromptTokens))
	add("prompts.consultation", oldCfg.Prompts.Consultation != newCfg.Prompts.Consultation, "updated")
	add("prompts.idea", oldCfg.Prompts.Idea != newCfg.Prompts.Idea, "updated")
	add("auth.jwks-url", oldCfg.Auth.JWKSURL != newCfg.Auth.JWKSURL, fromTo(oldCfg.Auth.JWKSURL, newCfg.Auth.JWKSURL))
	add("auth.hmac-secret", oldCfg.Auth.HMACSecret != newCfg.Auth.HMACSecret, "updated")
	add("auth.api-keys", !equalStrings(oldCfg.Auth.APIKeys, newCfg.Auth.APIKeys), fromTo(len(oldCfg.Auth.APIKeys), len(newCfg.Auth.APIKeys))+" keys")
	add("port", oldCfg.Port != newCfg.Port, fromTo(oldCfg.Port, newCfg.Port)+" (restart required)")
	add("proxy-url", oldCfg.ProxyURL != newCfg.ProxyURL, "updated")
	return changes
}

// AuthChanged reports whether the verifier set must be rebuilt.
func AuthChanged(oldCfg, newCfg *config.Config) bool {
	if oldCfg == nil || newCfg == nil {
		return oldCfg != newCfg
	}
	a, b := oldCfg.Auth, newCfg.Auth
	return a.JWKSURL != b.JWKSURL || a.HMACSecret != b.HMACSecret || a.Issuer != b.Issuer ||
		a.Disabled != b.Disabled || !equalStrings(a.APIKeys, b.APIKeys)
}

// UpstreamChanged reports whether the completer must be rebuilt.
func UpstreamChanged(oldCfg, newCfg *config.Config) bool {
	if oldCfg == nil || newCfg == nil {
		return oldCfg != newCfg
	}
	return oldCfg.Upstream != newCfg.Upstream || oldCfg.ProxyURL != newCfg.ProxyURL
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
