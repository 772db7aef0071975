package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lfmartins/telesync/internal/session"
)

// app carries the global invocation options into every subcommand.
type app struct {
	dir     string
	jsonOut bool
	verbose bool
}

func main() {
	dirFlag := flag.String("dir", "", "state directory (default ~/.telesync, or $TELESYNC_DIR)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = printUsage
	flag.Parse()

	dir := *dirFlag
	if dir == "" {
		dir = session.BaseDir()
	}
	a := &app{dir: dir, jsonOut: *jsonFlag, verbose: *verbose}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "auth":
		err = a.cmdAuth(args[1:])
	case "sync":
		err = a.cmdSync(args[1:])
	case "chats":
		err = a.cmdChats(args[1:])
	case "messages":
		err = a.cmdMessages(args[1:])
	case "search":
		err = a.cmdSearch(args[1:])
	case "contacts":
		err = a.cmdContacts(args[1:])
	case "topics":
		err = a.cmdTopics(args[1:])
	case "read":
		err = a.cmdRead(args[1:])
	case "send":
		err = a.cmdSend(args[1:])
	case "clear":
		err = a.cmdClear(args[1:])
	case "ping":
		err = a.cmdPing()
	case "stop":
		err = a.cmdStop()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: telesync [--dir <path>] [--json] [-v] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  auth                         Sign in (phone, login code, 2FA)")
	fmt.Fprintln(os.Stderr, "  sync [flags]                 Sync chats and messages into the cache")
	fmt.Fprintln(os.Stderr, "  chats [--query] [--limit]    List cached chats")
	fmt.Fprintln(os.Stderr, "  messages --chat <id>         List cached messages")
	fmt.Fprintln(os.Stderr, "  search <query> [flags]       Full-text search cached messages")
	fmt.Fprintln(os.Stderr, "  contacts [--query]           List cached contacts")
	fmt.Fprintln(os.Stderr, "  topics --chat <id> [--sync]  List a forum's topics")
	fmt.Fprintln(os.Stderr, "  read --chat <id> [flags]     Mark a chat (or topic) as read")
	fmt.Fprintln(os.Stderr, "  send --to <id> --message <t> Send a text message")
	fmt.Fprintln(os.Stderr, "  clear [--chats] [--contacts] Delete cached data")
	fmt.Fprintln(os.Stderr, "  ping                         Check whether a daemon is running")
	fmt.Fprintln(os.Stderr, "  stop                         Ask the daemon to shut down")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "run the daemon with: telesyncd")
}
