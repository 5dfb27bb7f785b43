package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/omochice/toy-voice-chat/internal/client"
	"github.com/omochice/toy-voice-chat/pkg/protocol"
)

const usage = `Commands:
  /msg <user> <text>      private message
  /group <group> <text>   group message
  /create <group>         create a group
  /join <group>           join a group
  /leave <group>          leave a group
  /users                  list online users
  /groups                 list groups
  /members <group>        list group members
  /history <user|#group>  show stored messages
  /call <user|#group>     start a call
  /accept <call id>       accept an incoming call
  /hangup                 end the active call
  quit                    exit`

func main() {
	serverAddr := flag.String("server", "localhost:5000", "server address, host:port for TCP or ws://host:port/ws")
	username := flag.String("username", "", "username for chat")
	mediaAddr := flag.String("media", "0.0.0.0:0", "local UDP address for call audio")
	verbose := flag.Bool("v", false, "log connection details")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *username == "" {
		fmt.Fprintln(os.Stderr, "username is required, use -username")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	c, err := client.Dial(ctx, *serverAddr, client.Options{MediaAddr: *mediaAddr, Logger: logger})
	if err != nil {
		cancel()
		logger.Error("failed to connect", "server", *serverAddr, "error", err)
		os.Exit(1)
	}
	defer c.Disconnect()

	err = c.Login(ctx, *username)
	cancel()
	if err != nil {
		logger.Error("login failed", "username", *username, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Connected to %s as %s\n%s\n", *serverAddr, *username, usage)

	go func() {
		for {
			select {
			case ev := <-c.Messages():
				if line := formatEvent(ev); line != "" {
					fmt.Println(line)
				}
			case <-c.Done():
				fmt.Println("*** disconnected from server ***")
				os.Exit(0)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if err := runCommand(c, line); err != nil {
			fmt.Println("error:", err)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("reading input", "error", err)
	}

	if err := c.Logout(); err != nil {
		logger.Warn("logout failed", "error", err)
	}
}

// target splits "#name" into a group target.
func target(arg string) (string, bool) {
	if strings.HasPrefix(arg, "#") {
		return arg[1:], true
	}
	return arg, false
}

func runCommand(c *client.Client, line string) error {
	if !strings.HasPrefix(line, "/") {
		return fmt.Errorf("unknown input, try /msg or /group\n%s", usage)
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	arg, text, _ := strings.Cut(rest, " ")

	switch cmd {
	case "/msg":
		if arg == "" || text == "" {
			return fmt.Errorf("usage: /msg <user> <text>")
		}
		return c.SendPrivate(arg, text)
	case "/group":
		if arg == "" || text == "" {
			return fmt.Errorf("usage: /group <group> <text>")
		}
		return c.SendGroup(arg, text)
	case "/create":
		return c.CreateGroup(arg)
	case "/join":
		return c.JoinGroup(arg)
	case "/leave":
		return c.LeaveGroup(arg)
	case "/users":
		return c.RequestOnlineUsers()
	case "/groups":
		return c.RequestGroups()
	case "/members":
		return c.RequestGroupMembers(arg)
	case "/history":
		name, isGroup := target(arg)
		return c.RequestHistory(name, isGroup)
	case "/call":
		name, isGroup := target(arg)
		id, err := c.StartCall(name, isGroup)
		if err != nil {
			return err
		}
		fmt.Printf("*** calling %s (call %s) ***\n", arg, id)
		return nil
	case "/accept":
		id := arg
		if id == "" {
			offers := c.IncomingCalls()
			if len(offers) != 1 {
				return fmt.Errorf("usage: /accept <call id>")
			}
			id = offers[0].ID
		}
		return c.AcceptCall(id)
	case "/hangup":
		return c.EndCall()
	case "/help":
		fmt.Println(usage)
		return nil
	}
	return fmt.Errorf("unknown command %s", cmd)
}

func formatEvent(ev client.Event) string {
	if ev.Audio != nil {
		return fmt.Sprintf("*** voice message from %s (%d bytes) ***", ev.Audio.From, len(ev.Audio.Data))
	}
	f := ev.Fields
	switch ev.Type() {
	case protocol.TypePrivateMessage:
		return fmt.Sprintf("[%s]: %s", f.Get(protocol.KeyFrom), f.Get(protocol.KeyContent))
	case protocol.TypeGroupMessage:
		return fmt.Sprintf("[#%s %s]: %s", f.Get(protocol.KeyGroup), f.Get(protocol.KeyFrom), f.Get(protocol.KeyContent))
	case protocol.TypeSystemMessage:
		return "*** " + f.Get(protocol.KeyContent) + " ***"
	case protocol.TypeError:
		return "error: " + f.Get(protocol.KeyMessage)
	case protocol.TypeGroupCreated, protocol.TypeGroupJoined, protocol.TypeGroupLeft:
		return fmt.Sprintf("*** %s: %s ***", strings.ReplaceAll(string(ev.Type()), "_", " "), f.Get(protocol.KeyGroupName))
	case protocol.TypeOnlineUsers:
		return "online: " + strings.Join(protocol.SplitList(f.Get(protocol.KeyUsers)), ", ")
	case protocol.TypeGroupsList:
		return "groups: " + strings.Join(protocol.SplitList(f.Get(protocol.KeyGroups)), ", ")
	case protocol.TypeGroupMembers:
		return fmt.Sprintf("#%s members: %s", f.Get(protocol.KeyGroupName), strings.Join(protocol.SplitList(f.Get(protocol.KeyMembers)), ", "))
	case protocol.TypeHistoryMessage:
		return fmt.Sprintf("  %s [%s -> %s]: %s", f.Get(protocol.KeyTimestamp), f.Get(protocol.KeyFrom), f.Get(protocol.KeyTo), f.Get(protocol.KeyContent))
	case protocol.TypeHistoryEnd:
		return fmt.Sprintf("(%s messages with %s)", f.Get(protocol.KeyCount), f.Get(protocol.KeyTarget))
	case protocol.TypeIncomingCall:
		return fmt.Sprintf("*** incoming call from %s, /accept %s ***", f.Get(protocol.KeyFrom), f.Get(protocol.KeyCallID))
	case protocol.TypeCallWaiting:
		return "*** ringing... ***"
	case protocol.TypeCallAccepted:
		return fmt.Sprintf("*** %s answered ***", f.Get(protocol.KeyFrom))
	case protocol.TypeCallConnected:
		return fmt.Sprintf("*** connected to %s ***", f.Get(protocol.KeyPeer))
	case protocol.TypeCallEnded:
		return fmt.Sprintf("*** call ended by %s ***", f.Get(protocol.KeyBy))
	}
	return ""
}
