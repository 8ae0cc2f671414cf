// Package httpserver runs an API router behind the operational endpoints a
// load balancer and an operator expect:
//
//   - GET /livez always answers 200 while the process is up
//   - GET /readyz answers 503 while the server is draining
//   - GET /drain and GET /undrain toggle readiness
//   - /debug/pprof when enabled
//
// Every request is logged with httplogger and, when a metrics.Collector is
// given, timed by route pattern. Metrics are served on their own listener.
package httpserver
