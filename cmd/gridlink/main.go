// gridlink serves the connection gateway and realtime channel for the table editor.
package main

import (
	"fmt"
	"os"

	"gridlink/cmd/internal/app"
)

func main() {
	if err := app.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
