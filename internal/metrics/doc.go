// Package metrics provides observability hooks for device connections and commands.
//
// Components receive a Recorder through their options and default to
// NoopRecorder, so nothing has to nil-check. When metrics are enabled the CLI
// swaps in a PrometheusRecorder and exposes its registry through HTTPHandler:
//
//	reg := prom.NewRegistry()
//	recorder := metrics.NewPrometheusRecorder(reg)
//	mon := device.NewMonitor(factory, device.WithRecorder(recorder))
//	mux.Handle("/metrics", metrics.HTTPHandler(reg))
package metrics
