package youtube

import "regexp"

// The watch page embeds its player and chat configuration as JSON fragments
// inside inline scripts. Each marker is located independently with its own
// pattern so one renamed field does not disturb the others.
var (
	replayPattern         = regexp.MustCompile(`"isReplay"\s*:\s*true`)
	apiKeyPattern         = regexp.MustCompile(`"INNERTUBE_API_KEY"\s*:\s*"([^"]+)"`)
	continuationPattern   = regexp.MustCompile(`"continuation"\s*:\s*"([^"]+)"`)
	scheduledStartPattern = regexp.MustCompile(`"scheduledStartTime"\s*:\s*"([^"]+)"`)
	clientVersionPattern  = regexp.MustCompile(`"clientVersion"\s*:\s*"(\d+(?:\.\d+)*)"`)
	canonicalIDPattern    = regexp.MustCompile(`<link\s+rel="canonical"\s+href="https://www\.youtube\.com/watch\?v=([^"]+)"`)
)

func firstGroup(re *regexp.Regexp, markup string) (string, bool) {
	m := re.FindStringSubmatch(markup)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func extractReplay(markup string) bool {
	return replayPattern.MatchString(markup)
}

func extractAPIKey(markup string) (string, bool) {
	return firstGroup(apiKeyPattern, markup)
}

func extractContinuation(markup string) (string, bool) {
	return firstGroup(continuationPattern, markup)
}

func extractScheduledStart(markup string) (string, bool) {
	return firstGroup(scheduledStartPattern, markup)
}

func extractClientVersion(markup string) (string, bool) {
	return firstGroup(clientVersionPattern, markup)
}

func extractVideoID(markup string) (string, bool) {
	return firstGroup(canonicalIDPattern, markup)
}
