// Package transport holds the HTTP plumbing shared by every sktools
// endpoint: the JSON error envelope, request decoding, the middleware chain
// (recovery, request IDs, access logging) and the registry of in-flight
// executions that makes them cancellable.
//
// Endpoint handlers live in pkg/transport/http and in tool providers; they
// all write errors through WriteError so clients see one error shape.
package transport
