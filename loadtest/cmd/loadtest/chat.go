package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/chatbox/realtime/loadtest/client"
	"github.com/chatbox/realtime/loadtest/stats"
)

// pairResult tracks the outcome of a single conversation pair's lifecycle.
type pairResult struct {
	connected bool
	msgSent   int64
	msgRecv   int64
}

// runChat implements the conversation load test. Each simulated pair of users
// joins the same conversation room and exchanges chat messages for a fixed
// duration. Because the server suppresses echo to the sender, every message a
// client receives came from its partner, which lets us measure broadcast
// round-trip latency without message tagging.
//
// The simulated users and conversations must already exist in the server's
// database, with both users of pair i participating in conversation
// base-conv-id+i.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	baseURL := fs.String("url", "ws://localhost:8080", "Server base URL (ws://host:port)")
	pairs := fs.Int("pairs", 100, "Number of user pairs")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	chatDuration := fs.Duration("chat-duration", 30*time.Second, "How long each pair chats")
	msgInterval := fs.Duration("msg-interval", 2*time.Second, "Interval between messages per user")
	msgSize := fs.Int("msg-size", 128, "Size of each message payload in bytes")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	secret := fs.String("secret", "dev-secret", "JWT secret shared with the server")
	issuer := fs.String("issuer", "", "JWT issuer claim (must match the server's, empty to omit)")
	baseUserID := fs.Int64("base-user-id", 100000, "First simulated user ID")
	baseConvID := fs.Int64("base-conv-id", 100000, "First conversation ID")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	totalClients := *pairs * 2

	fmt.Printf("Chat test: %d pairs (%d clients) to %s (ramp=%s, chat=%s, interval=%s, msg-size=%d, concurrency=%d)\n",
		*pairs, totalClients, *baseURL, *rampUp, *chatDuration, *msgInterval, *msgSize, *concurrency)

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()

	// Set up metrics scraper.
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	// Connections per pair; either slot may stay nil on connect failure.
	var mu sync.Mutex
	paired := make([][2]*client.Client, *pairs)

	interrupted := false

	// -----------------------------------------------------------------------
	// Phase 1 — Connect all users into their rooms
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 1: Connect all users ---")

	interval := *rampUp / time.Duration(totalClients)
	if interval <= 0 {
		interval = time.Millisecond
	}

	// Semaphore to bound concurrent connection attempts.
	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	// Progress reporting: every 2 seconds during ramp-up.
	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				currentConns := collector.ConnectionCount()
				currentErrs := collector.ErrorCount()
				dt := now.Sub(lastTime).Seconds()
				rate := float64(currentConns-lastCount) / dt
				fmt.Printf("  [connect] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					currentConns, totalClients, currentErrs, rate)
				lastCount = currentConns
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	rampStart := time.Now()
	rampTicker := time.NewTicker(interval)

	launched := 0
	for launched < totalClients {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during connection phase.")
			interrupted = true
			launched = totalClients // Break the loop.
		case <-rampTicker.C:
			pairIdx := launched / 2
			slot := launched % 2
			userID := *baseUserID + int64(launched)
			convID := *baseConvID + int64(pairIdx)
			launched++

			wg.Add(1)
			sem <- struct{}{} // Acquire semaphore slot.

			go func() {
				defer wg.Done()
				defer func() { <-sem }() // Release semaphore slot.

				token, err := client.Token(*secret, *issuer, userID,
					fmt.Sprintf("loadtest-%d", userID), time.Hour)
				if err != nil {
					collector.AddError()
					return
				}

				connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
				defer connCancel()

				roomURL := fmt.Sprintf("%s/ws/chat/%d", *baseURL, convID)
				c, err := client.New(connCtx, client.WithToken(roomURL, token))
				if err != nil {
					collector.AddError()
					return
				}

				m := c.GetMetrics()
				collector.AddConnect(m.ConnectLatency)

				mu.Lock()
				paired[pairIdx][slot] = c
				mu.Unlock()
			}()
		}
	}

	rampTicker.Stop()
	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	rampElapsed := time.Since(rampStart)
	fmt.Printf("\nPhase 1 complete: %d/%d connections in %s (%d errors)\n",
		collector.ConnectionCount(), totalClients,
		rampElapsed.Round(time.Millisecond), collector.ErrorCount())

	if interrupted {
		fmt.Println("Interrupted — skipping chat phase.")
		cleanup(paired, &mu)
		scraper.Stop()
		collector.Report()
		return
	}

	// Only pairs with both sockets up can chat.
	mu.Lock()
	completePairs := 0
	for _, p := range paired {
		if p[0] != nil && p[1] != nil {
			completePairs++
		}
	}
	mu.Unlock()

	if completePairs == 0 {
		fmt.Println("No complete pairs — not enough connections.")
		cleanup(paired, &mu)
		scraper.Stop()
		collector.Report()
		return
	}

	// -----------------------------------------------------------------------
	// Phase 2 — Exchange messages
	// -----------------------------------------------------------------------
	fmt.Printf("\n--- Phase 2: Running %d chat pairs ---\n", completePairs)

	// Global atomic counters for progress reporting.
	var totalMsgSent atomic.Int64
	var totalMsgRecv atomic.Int64
	var completedPairs atomic.Int64
	var errorCount atomic.Int64

	results := make([]pairResult, *pairs)

	var pairWg sync.WaitGroup

	// Generate message payload once (reused by all pairs).
	msgPayload := strings.Repeat("abcdefgh", (*msgSize/8)+1)
	msgPayload = msgPayload[:*msgSize]

	// Progress reporting every 5 seconds.
	chatProgressStop := make(chan struct{})
	var chatProgressWg sync.WaitGroup
	chatProgressWg.Add(1)
	go func() {
		defer chatProgressWg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  [chat] completed: %d/%d  sent: %d  recv: %d  errors: %d\n",
					completedPairs.Load(), completePairs,
					totalMsgSent.Load(), totalMsgRecv.Load(), errorCount.Load())
			case <-chatProgressStop:
				return
			}
		}
	}()

	chatStart := time.Now()

	for i := 0; i < *pairs; i++ {
		mu.Lock()
		c1, c2 := paired[i][0], paired[i][1]
		mu.Unlock()
		if c1 == nil || c2 == nil {
			continue
		}
		results[i].connected = true

		pairWg.Add(1)
		go func(i int, c1, c2 *client.Client) {
			defer pairWg.Done()
			defer completedPairs.Add(1)

			// Stagger pair starts by 50ms to avoid a thundering herd.
			stagger := time.Duration(i) * 50 * time.Millisecond
			select {
			case <-time.After(stagger):
			case <-ctx.Done():
				return
			}

			runPair(ctx, c1, c2, *chatDuration, *msgInterval, msgPayload,
				collector, &results[i], &totalMsgSent, &totalMsgRecv, &errorCount)
		}(i, c1, c2)
	}

	// Wait for all pairs to complete.
	allDone := make(chan struct{})
	go func() {
		pairWg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		// All pairs finished.
	case <-ctx.Done():
		fmt.Println("\nInterrupted — waiting for pairs to wind down...")
		<-allDone
	}

	close(chatProgressStop)
	chatProgressWg.Wait()

	chatElapsed := time.Since(chatStart)

	// -----------------------------------------------------------------------
	// Final report
	// -----------------------------------------------------------------------
	var totalSent, totalRecv int64
	for _, r := range results {
		totalSent += r.msgSent
		totalRecv += r.msgRecv
	}

	fmt.Printf("\n--- Chat Results ---\n")
	fmt.Printf("Complete pairs:  %d / %d\n", completePairs, *pairs)
	fmt.Printf("Total msg sent:  %d\n", totalSent)
	fmt.Printf("Total msg recv:  %d\n", totalRecv)
	fmt.Printf("Chat duration:   %s\n", chatElapsed.Round(time.Millisecond))
	if chatElapsed.Seconds() > 0 && totalSent > 0 {
		fmt.Printf("Msg throughput:  %.1f msg/s\n", float64(totalSent)/chatElapsed.Seconds())
	}

	// -----------------------------------------------------------------------
	// Cleanup
	// -----------------------------------------------------------------------
	cleanup(paired, &mu)
	scraper.Stop()
	collector.Report()
}

// runPair exchanges messages between the two clients of one conversation for
// the chat duration. Latency is approximated as the time between the
// partner's most recent send and the local receive.
func runPair(
	ctx context.Context,
	c1, c2 *client.Client,
	chatDuration, msgInterval time.Duration,
	msgPayload string,
	collector *stats.Collector,
	result *pairResult,
	totalMsgSent, totalMsgRecv, errorCount *atomic.Int64,
) {
	chatCtx, chatCancel := context.WithTimeout(ctx, chatDuration)
	defer chatCancel()

	var c1LastSend atomic.Int64 // unix nanoseconds of c1's last send
	var c2LastSend atomic.Int64 // unix nanoseconds of c2's last send
	var sentCount atomic.Int64
	var recvCount atomic.Int64

	// Echo suppression guarantees anything c1 receives was sent by c2, so
	// the partner's send timestamp bounds the broadcast latency.
	c1.On(client.TypeChatMessage, func(json.RawMessage) {
		totalMsgRecv.Add(1)
		recvCount.Add(1)
		if ts := c2LastSend.Load(); ts > 0 {
			collector.AddMsgLatency(time.Since(time.Unix(0, ts)))
		}
	})
	c2.On(client.TypeChatMessage, func(json.RawMessage) {
		totalMsgRecv.Add(1)
		recvCount.Add(1)
		if ts := c1LastSend.Load(); ts > 0 {
			collector.AddMsgLatency(time.Since(time.Unix(0, ts)))
		}
	})

	sender := func(c *client.Client, lastSend *atomic.Int64) func() {
		return func() {
			ticker := time.NewTicker(msgInterval)
			defer ticker.Stop()
			for {
				select {
				case <-chatCtx.Done():
					return
				case <-c.Done():
					return
				case <-ticker.C:
					lastSend.Store(time.Now().UnixNano())
					if err := c.SendChatMessage(msgPayload); err != nil {
						errorCount.Add(1)
						collector.AddError()
						return
					}
					totalMsgSent.Add(1)
					sentCount.Add(1)
				}
			}
		}
	}

	var chatWg sync.WaitGroup
	chatWg.Add(2)
	go func() { defer chatWg.Done(); sender(c1, &c1LastSend)() }()
	go func() { defer chatWg.Done(); sender(c2, &c2LastSend)() }()
	chatWg.Wait()

	result.msgSent = sentCount.Load()
	result.msgRecv = recvCount.Load()
}

// cleanup closes every open connection in the pair table.
func cleanup(paired [][2]*client.Client, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()
	closed := 0
	for _, p := range paired {
		for _, c := range p {
			if c != nil {
				c.Close()
				closed++
			}
		}
	}
	fmt.Printf("Closed %d connections.\n", closed)
}
