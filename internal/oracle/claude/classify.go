package claude

import (
	"context"
	"errors"
	"strings"

	"github.com/agentforest/forest/internal/oracle"
)

// classify maps an Anthropic SDK error onto the oracle error taxonomy.
// The SDK does not expose structured status codes for every failure
// mode, so this falls back to matching the error string.
func classify(op string, err error) *oracle.Error {
	return &oracle.Error{Kind: classifyKind(err), Op: op, Err: err}
}

func classifyKind(err error) oracle.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return oracle.KindTransient
	}

	errStr := strings.ToLower(err.Error())

	// Rate limits (429) and the Anthropic overload status (529)
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "529") ||
		strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "overloaded") {
		return oracle.KindRateLimited
	}

	// Server errors (5xx)
	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return oracle.KindTransient
	}

	// Network/connection errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "network") {
		return oracle.KindTransient
	}

	// Everything else (4xx client errors, auth failures) won't succeed
	// on retry; surface it as a terminal malformed-exchange error.
	return oracle.KindMalformed
}
