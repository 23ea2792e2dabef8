// Command agent is the TextExtract desktop login agent.
package main

import "github.com/textextract/textextract/internal/agent/cli"

func main() {
	cli.Execute()
}
