// Package server hosts the Fiber HTTP service and the rendering pipeline that
// turns registered UI routes into handlers.
//
// Start sequences the middleware stages, the authentication strategies, the
// mode-specific render pipeline, the API routes and the static fallbacks, then
// binds the listener. Development mode keeps a watch-mode bundle per route in
// memory and gates requests until the current build is valid; production mode
// compiles once to disk, serves client assets from the output directory and
// renders pages through the single executable server output.
package server
