// Package buildinfo exposes build information for oplogctl.
//
// Values are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/oplog-go/internal/infra/buildinfo.Version=v1.0.0"
//
// Fields left unset fall back to the module and VCS data the Go
// toolchain embeds in the binary.
package buildinfo
