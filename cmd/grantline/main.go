// Command grantline runs the three parties of the authorization code grant:
// the authorization server, the protected resource, and the client.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
