package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

// IsTransient reports whether err is worth retrying against an RPC provider.
// Timeouts, connection failures, rate limiting and server-range JSON-RPC codes
// are transient; malformed requests and everything unrecognised are terminal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if kind, ok := syncerr.KindOf(err); ok && kind != syncerr.KindTransport {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return isTransientJSONRPCCode(rpcErr.ErrorCode())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, terminalMessageTokens) {
		return false
	}
	if containsAny(lower, transientMessageTokens) {
		return true
	}
	return syncerr.Is(err, syncerr.KindTransport)
}

func isTransientJSONRPCCode(code int) bool {
	switch code {
	case -32700, -32600, -32601, -32602:
		return false
	case -32603, -32005:
		return true
	}
	return code <= -32000 && code >= -32099
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"eof",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
}

var terminalMessageTokens = []string{
	"invalid argument",
	"invalid params",
	"method not found",
	"parse error",
	"invalid request",
	"execution reverted",
}
