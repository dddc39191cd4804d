/*
Package api exposes polisd's container, image, and auth operations over
HTTP (REST, gorilla/mux) and grpc (RPC, see rpc.go), both backed by the
same Server and therefore the same Runtime/ImageStore/Auth managers.

# Architecture

	┌────────────────────────── CLIENT ───────────────────────────┐
	│  HTTP + Bearer token           grpc + "authorization" md     │
	└────────┬──────────────────────────────┬──────────────────────┘
	         │                              │
	┌────────▼──────────────┐   ┌───────────▼────────────────┐
	│   REST (gorilla/mux)   │   │   RPC (grpc, json codec)   │
	│   requireAuth middleware│   │   rpcAuthInterceptor       │
	└────────┬───────────────┘   └───────────┬────────────────┘
	         │                               │
	         └───────────────┬───────────────┘
	                         │
	                 ┌───────▼────────┐
	                 │     Server      │
	                 │ Runtime/Images/ │
	                 │ Auth/Builder/   │
	                 │ Stats           │
	                 └─────────────────┘

Both wire surfaces authenticate the same way: a token minted by
POST /auth/login (the RPC surface has no login method) is checked against the
permission string each route/method declares, and rejected tokens
never reach the handler.

# Authentication and authorization

Every route except /health, /metrics and /auth/login requires a bearer
token obtained from Auth.Authenticate; /auth/refresh checks its token
inside its own handler rather than through requireAuth. requireAuth (REST) and
rpcAuthInterceptor (RPC) resolve the token to a types.AuthSession via
Auth.ValidateToken and check session.HasPermission against the
permission the route declares, returning 401/403 (REST) or
Unauthenticated/PermissionDenied (RPC) before the handler runs.
Permission strings are listed as the Perm* constants in server.go.

# Error translation

Handlers never write raw Go errors to the wire. writeError (REST) and
rpcError (RPC) both switch on types.KindOf(err) and translate it to
the transport's native failure representation: an HTTP status code
for REST, a grpc status code for RPC. A caller sees the same
classification (not-found, conflict, forbidden, ...) regardless of
which surface it used.

# RPC transport

rpc.go implements the RPC surface directly against grpc-go's public
extension points rather than against protoc-generated stubs: request
and response messages are plain Go structs (the same DTOs dto.go
defines for REST) carried by a custom "json" grpc.Codec, and the
service itself is a hand-built grpc.ServiceDesc rather than one
emitted by protoc-gen-go-grpc. A client selects the codec with
grpc.CallContentSubtype("json"); everything else about dialing and
invoking is ordinary grpc.
*/
package api
