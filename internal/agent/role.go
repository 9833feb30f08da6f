// Package agent runs the in-page adapters: the Indeed finder, analyzer and
// form filler, and the chat assistant driver. Adapters only talk to the
// orchestrator through a Bus.
package agent

import (
	"net/url"
	"strings"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

// DetectRole infers the role and platform a page plays from its URL.
func DetectRole(rawURL string) (models.Role, models.Platform, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "", "", false
	}
	host := strings.ToLower(u.Hostname())
	path := strings.ToLower(u.Path)

	switch {
	case host == "chatgpt.com" || host == "chat.openai.com" ||
		strings.HasSuffix(host, ".chatgpt.com"):
		return models.RoleAssistant, "", true

	case host == "smartapply.indeed.com" ||
		(isHost(host, "indeed.com") && strings.Contains(path, "/indeedapply/")):
		return models.RoleFormFiller, models.PlatformIndeed, true

	case isHost(host, "indeed.com") && strings.HasPrefix(path, "/viewjob"):
		return models.RoleAnalyzer, models.PlatformIndeed, true

	case isHost(host, "indeed.com") && (strings.HasPrefix(path, "/jobs") || strings.HasPrefix(path, "/q-")):
		return models.RoleFinder, models.PlatformIndeed, true

	case isHost(host, "linkedin.com") && strings.HasPrefix(path, "/jobs/view"):
		return models.RoleAnalyzer, models.PlatformLinkedIn, true

	case isHost(host, "linkedin.com") && strings.HasPrefix(path, "/jobs/search"):
		return models.RoleFinder, models.PlatformLinkedIn, true
	}
	return "", "", false
}

// isHost matches domain and any subdomain of it (www., de., ...).
func isHost(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
