// Package pipeline runs the admission stages in front of a handler.
//
// Stages run in a fixed order: origin policy, general rate limit, auth
// rate limit, then the route's schema and file validation. The first
// stage to return an error ends the request; the error is written by a
// Renderer (apierror.Render unless replaced). A stage may also end the
// request with a terminal Verdict, as the origin stage does for CORS
// preflights.
//
// Headers a stage wants on the response, such as CORS or RateLimit-*
// headers, are collected in Annotations and applied before the response
// is written, whether the request is admitted or rejected.
package pipeline
