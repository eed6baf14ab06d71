// Package e2b implements sandbox.Service against the hosted E2B API.
//
// Three endpoints are involved:
//   - the control plane (api.e2b.dev) creates and kills sandboxes;
//   - envd, the in-sandbox daemon on port 49983, serves file transfer over
//     plain HTTP and process management over the Connect protocol;
//   - the code interpreter on port 49999 streams execution results as
//     newline-delimited JSON.
//
// Only the Connect JSON codec is spoken, so no generated protobuf code is
// needed.
package e2b
