package admission

import (
	"net/http"
	"strings"
)

// Header names consumed by the classifier. No component below the classifier
// re-parses request headers for gaming context.
const (
	HeaderTournamentMode  = "X-Tournament-Mode"
	HeaderTournamentID    = "X-Tournament-Id"
	HeaderCompetitiveMode = "X-Competitive-Mode"
	HeaderGamingSession   = "X-Gaming-Session"
	HeaderBypass          = "X-Bypass-Gaming-Rate-Limit"
	HeaderBatterySaver    = "X-Battery-Saver"
)

// Classify derives the endpoint class and gaming context for a request.
// It is a pure function: first path rule wins, matching is case-insensitive
// on path segments, and identical inputs always classify identically.
// body may be nil; it is only consulted for web3 detection.
func Classify(method, path string, header http.Header, body []byte) (EndpointClass, GamingContext) {
	lower := strings.ToLower(path)

	gctx := GamingContext{
		TournamentMode:  isTruthy(header.Get(HeaderTournamentMode)) || containsSegment(lower, "tournaments"),
		TournamentID:    header.Get(HeaderTournamentID),
		CompetitiveMode: isTruthy(header.Get(HeaderCompetitiveMode)) || containsSegment(lower, "competitive"),
		GamingSession:   header.Get(HeaderGamingSession) != "",
	}

	return classifyPath(lower, header, body), gctx
}

func classifyPath(lower string, header http.Header, body []byte) EndpointClass {
	switch {
	case isHealthPath(lower):
		return ClassHealth
	case containsSegment(lower, "voting"):
		return ClassVoting
	case containsSegment(lower, "clans"):
		return ClassClan
	case containsSegment(lower, "tournaments") || isTruthy(header.Get(HeaderTournamentMode)):
		return ClassTournament
	case containsSegment(lower, "leaderboards"):
		return ClassLeaderboard
	case containsSegment(lower, "chat"):
		return ClassChat
	case containsSegment(lower, "web3") || containsSegment(lower, "wallet") || hasWeb3Body(body):
		return ClassWeb3
	case containsSegment(lower, "competitive") || isTruthy(header.Get(HeaderCompetitiveMode)):
		return ClassCompetitive
	case containsSegment(lower, "auth"):
		return ClassAuth
	case strings.Contains(lower, "/search"):
		return ClassSearch
	default:
		return ClassGeneric
	}
}

// isHealthPath matches the fixed health-check endpoints only. Suffix
// matching would hand any "/status"-shaped business path an unlimited lane.
func isHealthPath(lower string) bool {
	switch strings.TrimSuffix(lower, "/") {
	case "/health", "/status", "/api/v1/health", "/api/v1/status":
		return true
	}
	return false
}

// containsSegment reports whether the path contains "/<segment>/" or ends
// with "/<segment>".
func containsSegment(lower, segment string) bool {
	if strings.Contains(lower, "/"+segment+"/") {
		return true
	}
	return strings.HasSuffix(lower, "/"+segment)
}

// hasWeb3Body sniffs a bounded body snippet for wallet fields. The snippet
// is read once by the middleware and restored; the classifier never does I/O.
func hasWeb3Body(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	s := string(body)
	return strings.Contains(s, `"transactionId"`) || strings.Contains(s, `"walletAddress"`)
}

func isTruthy(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}
