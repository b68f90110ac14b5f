package pipeline

import (
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// reservedGRPCPrefix marks metadata keys owned by the gRPC runtime.
const reservedGRPCPrefix = "grpc-"

// validateHeader rejects names and values the transport could not carry. gRPC metadata
// keys are case-insensitive and the grpc- prefix is reserved.
func validateHeader(protocol Protocol, key, value string) error {
	if !httpguts.ValidHeaderFieldName(key) {
		return configErrorf("invalid header name %q", key)
	}

	if !httpguts.ValidHeaderFieldValue(value) {
		return configErrorf("invalid value for header %q", key)
	}

	if protocol == Grpc && strings.HasPrefix(strings.ToLower(key), reservedGRPCPrefix) {
		return configErrorf("header %q uses the reserved %s prefix", key, reservedGRPCPrefix)
	}

	return nil
}

// headerKey normalizes key the way the transport will see it, so a later WithHeader for
// the same name replaces the earlier value.
func headerKey(protocol Protocol, key string) string {
	if protocol == Grpc {
		return strings.ToLower(key)
	}

	return http.CanonicalHeaderKey(key)
}
