// Package httpclient implements the HTTP client capability:
// a connection-pooled, per-request-timeout-bounded client that brackets
// every call with a monotonic timer and reports exactly one completion
// callback per attempt. It is the concrete realization workers inject
// behind the scenario.Client interface; scenario task callables never see
// the underlying *http.Client, only the narrower capability.
package httpclient
