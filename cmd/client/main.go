package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vintagechat/client-go/internal/api"
	"github.com/vintagechat/client-go/internal/config"
	"github.com/vintagechat/client-go/internal/feed"
	"github.com/vintagechat/client-go/internal/roster"
	"github.com/vintagechat/client-go/internal/session"
	"github.com/vintagechat/client-go/internal/socket"
	"github.com/vintagechat/client-go/pkg/chat"
)

func main() {
	username := flag.String("username", "", "Username to log in with")
	password := flag.String("password", "", "Password to log in with")
	register := flag.Bool("register", false, "Register a new account before logging in")
	email := flag.String("email", "", "Email address (registration only)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	client := api.New(cfg.APIBaseURL)
	store := session.NewStore(cfg.SessionPath)
	ctx := context.Background()

	sess, err := authenticate(ctx, client, store, *username, *password, *email, *register)
	if err != nil {
		logrus.Fatalf("Failed to authenticate: %v", err)
	}

	profile, err := client.Profile(ctx, sess.AccessToken)
	if err != nil {
		logrus.Fatalf("Failed to fetch profile: %v", err)
	}
	fmt.Printf("Logged in as %s\n", profile.Username)

	rooms := roster.New(client, cfg.RosterSocketURL,
		roster.WithSocketOptions(socket.WithReconnectDelay(cfg.ReconnectDelay)))
	if err := rooms.Initialize(ctx); err != nil {
		// The roster stays empty; deltas may still arrive live.
		logrus.Errorf("Failed to load room list: %v", err)
	}
	if err := rooms.Start(); err != nil {
		logrus.Fatalf("Failed to start roster sync: %v", err)
	}
	defer rooms.Stop()

	messages := feed.New(cfg.RoomSocketURL,
		feed.WithSocketOptions(socket.WithReconnectDelay(cfg.ReconnectDelay)),
		feed.WithOnSnapshot(printHistory),
		feed.WithOnAppend(printMessage))
	defer messages.Deselect()

	printRooms(rooms.Rooms())
	fmt.Println("Commands: /rooms, /join <id>, /leave, /create <title>, /history, /quit. Anything else is sent to the joined room.")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}
		runCommand(ctx, line, client, sess, rooms, messages)
	}
	if err := scanner.Err(); err != nil {
		logrus.Errorf("Error reading input: %v", err)
	}

	fmt.Println("Goodbye")
}

func runCommand(ctx context.Context, line string, client *api.Client, sess session.Session, rooms *roster.Sync, messages *feed.Sync) {
	switch {
	case line == "/rooms":
		printRooms(rooms.Rooms())

	case strings.HasPrefix(line, "/join "):
		id, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/join ")))
		if err != nil {
			fmt.Println("Usage: /join <room id>")
			return
		}
		if err := messages.Select(id, sess.AccessToken); err != nil {
			logrus.Errorf("Failed to join room %d: %v", id, err)
		}

	case line == "/leave":
		messages.Deselect()
		fmt.Println("Left the room")

	case line == "/history":
		msgs := messages.Messages()
		if len(msgs) == 0 {
			fmt.Println("No messages yet.")
			return
		}
		printHistory(msgs)

	case strings.HasPrefix(line, "/create "):
		title := strings.TrimSpace(strings.TrimPrefix(line, "/create "))
		if title == "" {
			fmt.Println("Usage: /create <title>")
			return
		}
		room, err := client.CreateRoom(ctx, sess.AccessToken, api.CreateRoomRequest{
			Title:    title,
			RoomType: "public",
		})
		if err != nil {
			logrus.Errorf("Failed to create room: %v", err)
			return
		}
		fmt.Printf("Created room %d: %s\n", room.ID, room.DisplayTitle())

	default:
		if err := messages.Send(line); err != nil {
			if errors.Is(err, feed.ErrNotConnected) {
				fmt.Println("Not in a room. Use /join <id> first.")
				return
			}
			logrus.Errorf("Failed to send message: %v", err)
		}
	}
}

// authenticate logs in with explicit credentials when given, otherwise
// falls back to the stored session, refreshing its access token once if
// the server no longer accepts it.
func authenticate(ctx context.Context, client *api.Client, store *session.Store, username, password, email string, register bool) (session.Session, error) {
	if register {
		if username == "" || password == "" || email == "" {
			return session.Session{}, errors.New("registration requires -username, -password and -email")
		}
		if _, err := client.Register(ctx, username, email, password); err != nil {
			return session.Session{}, err
		}
	}

	if username != "" && password != "" {
		tokens, err := client.Login(ctx, username, password)
		if err != nil {
			return session.Session{}, err
		}
		sess := session.Session{
			Username:     username,
			AccessToken:  tokens.Access,
			RefreshToken: tokens.Refresh,
		}
		if err := store.Save(sess); err != nil {
			logrus.Warnf("Failed to persist session: %v", err)
		}
		return sess, nil
	}

	sess, err := store.Load()
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return session.Session{}, errors.New("no stored session; log in with -username and -password")
		}
		return session.Session{}, err
	}

	if _, err := client.Profile(ctx, sess.AccessToken); err != nil {
		tokens, refreshErr := client.Refresh(ctx, sess.RefreshToken)
		if refreshErr != nil {
			return session.Session{}, fmt.Errorf("stored session expired: %w", refreshErr)
		}
		sess.AccessToken = tokens.Access
		sess.RefreshToken = tokens.Refresh
		if err := store.Save(sess); err != nil {
			logrus.Warnf("Failed to persist refreshed session: %v", err)
		}
	}
	return sess, nil
}

func printRooms(rooms []chat.Room) {
	if len(rooms) == 0 {
		fmt.Println("No rooms yet. Create one with /create <title>.")
		return
	}
	fmt.Println("Rooms:")
	for _, room := range rooms {
		access := "public"
		if !room.Public() {
			access = "private"
		}
		fmt.Printf("  [%d] %s (%s, owner: %s)\n", room.ID, room.DisplayTitle(), access, room.Owner)
	}
}

func printHistory(history []chat.Message) {
	for _, group := range chat.GroupByDate(history) {
		fmt.Printf("--- %s ---\n", group.Date)
		for _, msg := range group.Messages {
			printMessage(msg)
		}
	}
}

func printMessage(msg chat.Message) {
	fmt.Printf("[%s] %s: %s\n", chat.FormatTime(msg.Timestamp), msg.Username, msg.Message)
}
