// Package fastagi provides the TCP transport for AGI sessions.
//
// # Overview
//
// Asterisk's FastAGI mode points a dialplan at agi://host:port/script; the
// switch connects over TCP and speaks plain AGI on the socket. The Server
// owns the listener and gives every accepted connection its own session and
// goroutine; the Router picks the handler from the agi_network_script
// preamble variable.
//
// # Server
//
//	srv := fastagi.New(fastagi.Config{
//	    Addr:    "0.0.0.0:4573",
//	    Handler: router,
//	    Logger:  logger,
//	})
//	err := srv.Run(ctx)
//
// The server also threads each call through the optional collaborators: the
// live-call registry, the event broadcaster, and the CDR store. All three
// are skipped when nil, which keeps the server usable standalone.
//
// # Routing
//
//	router := fastagi.NewRouter(logger)
//	router.HandleFunc("app/echo", echoCall)
//	router.HandleFunc("ivr/*", ivrCall)
//
// Exact registrations win over glob patterns; patterns match in registration
// order via doublestar. Unmatched scripts hit the not-found handler, which
// by default logs and hangs up.
//
// # Shutdown
//
// Canceling the Serve context closes the listener and tears down every live
// session through its close hook, then Serve waits for the per-connection
// goroutines to finish their CDR writes.
package fastagi
