// Demo terminal client: logs in, joins a conversation, prints the room's
// traffic and sends stdin lines. Shows the degraded-mode fallback when the
// websocket cannot be kept up.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/eventpulse/chat-service/pkg/model"
	"github.com/eventpulse/chat-service/pkg/wsclient"
)

func login(apiBase, userID string) (string, error) {
	body, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(apiBase+"/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", raw)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "chatd address")
	userID := flag.String("user", "user1", "user id")
	conversationID := flag.String("conversation", "", "conversation id to join")
	flag.Parse()

	if *conversationID == "" {
		fmt.Fprintln(os.Stderr, "usage: -conversation <id> is required")
		os.Exit(2)
	}

	apiBase := "http://" + *serverAddr
	token, err := login(apiBase, *userID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	client := wsclient.New(*serverAddr, token, wsclient.DefaultBackoff())
	fallback := wsclient.NewFallback(apiBase, token)
	outbox := wsclient.NewOutbox(30 * time.Second)
	go client.Run()

	var degraded atomic.Bool

	go func() {
		for state := range client.States() {
			switch state {
			case wsclient.StateConnected:
				degraded.Store(false)
				fmt.Println("* connected")
				if err := client.JoinConversation(*conversationID); err != nil {
					fmt.Fprintln(os.Stderr, "join:", err)
				}
			case wsclient.StateDegraded:
				degraded.Store(true)
				fmt.Println("* offline — limited mode, messages go via REST")
			case wsclient.StateClosed:
				return
			}
		}
	}()

	go func() {
		for frame := range client.Events() {
			printFrame(frame, outbox)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := scanner.Text()
		if line == "/quit" {
			client.Close()
			return
		}
		if line == "" {
			fmt.Print("> ")
			continue
		}

		if degraded.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			_, err := fallback.Send(ctx, *conversationID, *userID, line)
			cancel()
			if err != nil {
				fmt.Fprintln(os.Stderr, "send failed (retry?):", err)
			}
		} else {
			outbox.Add(*conversationID, *userID, line)
			if err := client.SendMessage(*conversationID, line); err != nil {
				fmt.Fprintln(os.Stderr, "send failed (retry?):", err)
			}
		}
		fmt.Print("> ")
	}
}

func printFrame(frame []byte, outbox *wsclient.Outbox) {
	var envelope struct {
		Type model.EventType `json:"type"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return
	}

	switch envelope.Type {
	case model.EventNewMessage:
		var ev model.NewMessageEvent
		if json.Unmarshal(frame, &ev) == nil {
			if _, mine := outbox.Confirm(ev.Message); mine {
				fmt.Printf("\r(sent) %s\n> ", ev.Message.Content)
			} else {
				fmt.Printf("\r%s: %s\n> ", ev.Message.SenderID, ev.Message.Content)
			}
		}
	case model.EventMessageHistory:
		var ev model.MessageHistoryEvent
		if json.Unmarshal(frame, &ev) == nil {
			for _, m := range ev.Messages {
				fmt.Printf("\r%s: %s\n", m.SenderID, m.Content)
			}
			fmt.Print("> ")
		}
	case model.EventTypingIndicator:
		var ev model.TypingIndicatorEvent
		if json.Unmarshal(frame, &ev) == nil && ev.IsTyping {
			fmt.Printf("\r%s is typing...\n> ", ev.UserID)
		}
	case model.EventUserOnline, model.EventUserOffline:
		var ev model.PresenceEvent
		if json.Unmarshal(frame, &ev) == nil {
			fmt.Printf("\r* %s is %s\n> ", ev.UserID, map[model.EventType]string{
				model.EventUserOnline:  "online",
				model.EventUserOffline: "offline",
			}[ev.Type])
		}
	case model.EventError:
		var ev model.ErrorEvent
		if json.Unmarshal(frame, &ev) == nil {
			fmt.Printf("\r! %s (%s)\n> ", ev.Message, ev.Code)
		}
	}
}
