/*
Package httphandler serves worker metrics over HTTP for prometheus to
scrape. Queue depth is read from the backend on every scrape:

	registry := prometheus.NewRegistry()
	registry.MustRegister(httphandler.NewQueueCollector(client))
	httphandler.RegisterMetricsHandler(router, "/", registry)
*/
package httphandler
