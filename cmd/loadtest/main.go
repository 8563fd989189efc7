// Command loadtest drives a running moderator over NATS.
//
// Usage:
//
//	loadtest check [options]   simulated viewers chatting on many streams
//	loadtest end   [options]   announce the end of the simulated streams
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "check":
		runCheck(os.Args[2:])
	case "end":
		runEnd(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  check    viewers send a mix of clean and abusive messages to moderation.check")
	fmt.Println("  end      publish stream.ended for every simulated stream")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
