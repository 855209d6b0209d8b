// Package rpc is the EPU control plane's topic + operation + keyword-args
// message envelope (§6 of the control plane design): every RPC operation
// exchanges a google.protobuf.Struct instead of a per-operation generated
// message, so a new operation is just a new registered handler, not a new
// .proto file and a protoc run.
//
// A Server hosts a Router of named handlers and exposes them over one
// generic gRPC method. A Client dials a Server and exposes Call (the
// caller blocks for a reply) and Fire (the caller does not care about the
// reply payload, only whether the request reached the server) built on
// top of the same Invoke method, matching the fire-vs-call split in the
// external interfaces section of the design: anything that mutates and
// can fail silently uses Fire, anything the caller needs an answer from
// uses Call.
package rpc
