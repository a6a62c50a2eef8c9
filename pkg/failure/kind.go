package failure

import (
	"strconv"
	"strings"
)

// Kind is the closed set of failure classifications. Classification is a
// pure function of the error message and exit signal so the same input
// always yields the same kind, regardless of when it's evaluated.
type Kind string

const (
	KindTransientNetwork  Kind = "transient_network"
	KindRateLimit         Kind = "rate_limit"
	KindSyntax            Kind = "syntax"
	KindTestFailure       Kind = "test_failure"
	KindTimeout           Kind = "timeout"
	KindResourceExhausted Kind = "resource_exhausted"
	KindDependencyMissing Kind = "dependency_missing"
	KindUnknown           Kind = "unknown"
)

// Classify maps a worker's exit error message and exit signal (its
// process exit code, or -1 if unknown) to a Kind. It's deliberately
// conservative: anything that doesn't match a known pattern falls
// through to unknown rather than guessing.
func Classify(errMessage string, exitCode int) Kind {
	msg := strings.ToLower(errMessage)

	switch exitCode {
	case 137: // SIGKILL, most commonly the OOM killer
		return KindResourceExhausted
	case 124: // conventional "timeout" command exit code
		return KindTimeout
	}

	switch {
	case containsAny(msg, "connection refused", "connection reset", "no route to host", "network is unreachable", "dial tcp", "eof"):
		return KindTransientNetwork
	case containsAny(msg, "rate limit", "429", "too many requests", "quota exceeded"):
		return KindRateLimit
	case containsAny(msg, "syntax error", "unexpected token", "parse error", "compile error", "cannot parse"):
		return KindSyntax
	case containsAny(msg, "test failed", "assertion", "expected", "test_failure", "tests failed"):
		return KindTestFailure
	case containsAny(msg, "timeout", "timed out", "deadline exceeded", "heartbeat_timeout"):
		return KindTimeout
	case containsAny(msg, "out of memory", "oom", "resource exhausted", "no space left", "too many open files"):
		return KindResourceExhausted
	case containsAny(msg, "not found", "no such file", "missing dependency", "module not found", "cannot find package"):
		return KindDependencyMissing
	default:
		return KindUnknown
	}
}

// parseExitCode extracts the numeric exit code from a supervisor
// termination reason of the form "exit_code_<n>", returning -1 for
// anything else (heartbeat_timeout, spawn_failed, exit_code_unknown).
func parseExitCode(reason string) int {
	const prefix = "exit_code_"
	if !strings.HasPrefix(reason, prefix) {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimPrefix(reason, prefix))
	if err != nil {
		return -1
	}
	return n
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
