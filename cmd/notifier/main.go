// Command notifier pushes a notification event onto a user's notification
// group over the broker. It is the same publish path the notification
// authoring service uses: any chat server with that user's notification
// socket relays the event, and the notifier itself holds no sockets.
//
// Usage:
//
//	notifier -user 42 -title "New follower" -message "alice followed you"
package main

import (
	"flag"
	"log"
	"time"

	"github.com/chatbox/realtime/internal/protocol"
	"github.com/chatbox/realtime/internal/router"
)

func main() {
	natsURL := flag.String("nats", "nats://localhost:4222", "NATS server URL")
	userID := flag.Int64("user", 0, "Target user ID (required)")
	notificationID := flag.Int64("id", 0, "Notification ID")
	title := flag.String("title", "", "Notification title")
	message := flag.String("message", "", "Notification message (required)")
	kind := flag.String("kind", "generic", "Notification type")
	flag.Parse()

	if *userID == 0 {
		log.Fatal("notifier: -user is required")
	}
	if *message == "" {
		log.Fatal("notifier: -message is required")
	}

	config := router.DefaultBridgeConfig()
	config.URL = *natsURL
	config.Name = "chatbox-notifier"
	config.ServerName = "notifier"

	// Nil router: publish-only, no groups are served from this process.
	bridge, err := router.NewBridge(config, nil)
	if err != nil {
		log.Fatalf("notifier: %v", err)
	}

	ev := protocol.NewNotificationEvent(*notificationID, *title, *message, *kind, time.Now())
	group := router.NotificationGroup(*userID)
	if err := bridge.PublishEvent(group, ev); err != nil {
		log.Fatalf("notifier: publish group=%s: %v", group, err)
	}

	// Drain flushes the pending publish before the connection closes.
	bridge.Close()
	log.Printf("notifier: published notification to group=%s", group)
}
