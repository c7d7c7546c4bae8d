// Package application provides application initialization and dependency wiring.
// It takes the settings snapshot built at startup and hands a copy to the
// handlers, routers, and HTTP server it creates, so the main package only
// parses flags and orchestrates the process lifecycle.
package application
