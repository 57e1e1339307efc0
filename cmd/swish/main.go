// Command swish is an SFTP client built on the swish session core.
//
//	swish hostkey example.com
//	swish ls -l alice@example.com /var/log
//	swish get example.com /etc/motd ./motd
//	swish batch example.com script.txt
//
// Credentials are tried in the order agent, --identity, SWISH_PASSWORD.
// When none is accepted and stdin is a terminal, swish falls back to
// keyboard-interactive authentication and then a password prompt.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("✗ "+err.Error()))
		os.Exit(1)
	}
}
