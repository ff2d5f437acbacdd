// Package main is the entry point for the chatbox load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - saturate: Connection saturation test against the online socket
//   - chat:     Conversation load test — pairs exchange messages in rooms
//
// The server must be started with the same JWT secret and issuer that the
// load test signs its tokens with, and the chat test expects the simulated
// users and conversations to exist in the database.
//
// Usage:
//
//	loadtest <command> [options]
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
	case "saturate":
		runSaturate(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
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
	fmt.Println("  saturate    Connection saturation test — opens N online-status connections")
	fmt.Println("  chat        Conversation load test — pairs of users exchange messages in rooms")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
