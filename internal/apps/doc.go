// Package apps provides stock call-control applications the gateway can
// bind to network scripts from configuration.
//
// # Applications
//
// echo - answers the call and runs the Echo dialplan application, playing
// the caller's audio back. A media loopback check.
//
// dialout - answers the call and bridges it to a dial string. The route's
// target may carry a {ext} placeholder, filled from the script's final
// path segment (for glob routes like "dial/*") or from the agi_extension
// preamble variable.
//
// # Binding
//
// Routes come from the apps.routes config section:
//
//	apps:
//	  routes:
//	    - script: app/echo
//	      app: echo
//	    - script: "dial/*"
//	      app: dialout
//	      target: "SIP/provider/{ext}"
//
// Bind resolves every route up front, so a typo'd app name or a dialout
// route without a target fails at startup rather than mid-call.
package apps
