/*
Package httpserver implements the operations HTTP surface of walletd.

It exposes no wallet operations. Wallet commands only reach the trusted
application through host sessions; the HTTP server exists so orchestrators
can probe and drain the daemon.

# Endpoints

  - GET /livez - Liveness check
  - GET /readyz - Readiness check: not draining and the readiness probe passes
  - GET /drain - Mark the server as not ready
  - GET /undrain - Mark the server as ready
  - GET /status - Non-secret runtime status as JSON
  - /debug/* - pprof, when enabled

Prometheus metrics are served by a separate listener on MetricsAddr.
*/
package httpserver
