// Package tools implements the sandbox tools exposed over MCP and the
// pipeline every call goes through.
//
// A Tool is a plain record: name, description, a JSON schema derived from
// its Go input type, and a typed body. Pipeline.Call validates raw
// arguments against the schema, applies schema defaults, runs the body,
// and turns the outcome into a single JSON text block. Failures never
// escape as protocol faults; they become isError results tagged with a
// Code.
package tools
