// Command authgate is a bearer-token verification gateway.
//
// Run with:
//
//	AUTHGATE_AUTH_PROVIDER_URL=https://proj.example.com authgate serve
//
// List the provider's published keys:
//
//	authgate keys --jwks-url https://proj.example.com/auth/v1/.well-known/jwks.json
package main

import (
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "authgate:", err)
		os.Exit(1)
	}
}
