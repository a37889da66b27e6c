// Package httpserver is the HTTP front of dispatchd: a server with graceful
// shutdown, probe endpoints, a Prometheus endpoint and the middleware the
// dispatch API runs behind.
//
//	health := httpserver.NewHealthHandler(httpserver.WithVersion(version))
//	health.AddReadinessCheck("redis", func(ctx context.Context) error {
//	    return rdb.Ping(ctx).Err()
//	})
//
//	router := chi.NewRouter()
//	router.Method(http.MethodGet, "/readyz", health.ReadyHandler())
//	router.Method(http.MethodGet, "/metrics", httpserver.PrometheusHandlerFor(registry))
//
//	server := httpserver.New(
//	    httpserver.WithAddr(":8080"),
//	    httpserver.WithHandler(router),
//	    httpserver.WithTracing(httpserver.TracingConfig{}),
//	    httpserver.WithLogging(httpserver.LoggerConfig{Logger: logger}),
//	    httpserver.WithMiddleware(httpserver.Recovery(logger), httpserver.RequestID()),
//	)
//	err := server.ListenAndServe(ctx)
//
// Tracing, metrics and access logs label calls by chi route pattern rather
// than raw path, so dispatch URLs never reach metric labels.
package httpserver
