// Package main runs a demo WebSocket client for gateway order events.
package main

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LastBoss7/orderly-eats-sub002/internal/stream"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	restaurant := os.Getenv("RESTAURANT_ID")
	if restaurant == "" {
		restaurant = "r_demo"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws", RawQuery: "restaurant_id=" + restaurant}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var evt stream.Event
			if err := c.ReadJSON(&evt); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %v", evt.Type, evt.Data)
		}
	}()

	// Trigger a poll cycle so events flow
	time.Sleep(500 * time.Millisecond)
	body := []byte(fmt.Sprintf(`{"restaurant_id":%q}`, restaurant))
	req, _ := http.NewRequest(http.MethodPost, base+"/?action=polling", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	log.Printf("polling -> %s", resp.Status)

	// Wait briefly to receive a few messages
	select {
	case <-time.After(5 * time.Second):
	case <-done:
	}
}
