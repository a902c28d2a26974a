package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tyuryaga/gameserver/auth"
)

const (
	MsgTypeJoinBossInstance = 101
	MsgTypeDealDamage       = 102
)

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, data []byte) error {
	packet := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint16(packet[2:4], uint16(len(data)))
	copy(packet[4:], data)

	return c.WriteMessage(websocket.BinaryMessage, packet)
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	secret := flag.String("secret", "dev-secret", "jwt secret for local testing")
	userID := flag.Int64("user", 1, "user id")
	nickname := flag.String("nickname", "tester", "nickname")
	instanceID := flag.String("instance", "", "boss instance to join")
	flag.Parse()

	if *instanceID == "" {
		log.Fatal("-instance is required")
	}

	token, err := auth.GenerateToken(*secret, *userID, *nickname, 10, time.Hour)
	if err != nil {
		log.Fatalf("Token generation failed: %v", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws", RawQuery: "token=" + token}
	log.Printf("Connecting to %s", u.Host)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			if len(message) < 4 {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			msgID := binary.BigEndian.Uint16(message[0:2])
			data := message[4:]
			log.Printf("<- RECV (ID: %d): %s", msgID, string(data))
		}
	}()

	// Enter the boss room
	joinData, _ := json.Marshal(map[string]string{"instance_id": *instanceID})
	if err := send(c, MsgTypeJoinBossInstance, joinData); err != nil {
		log.Println("Write error:", err)
		return
	}

	log.Println("Client started. Type 'hit <damage>' and press Enter to attack.")

	// Write loop
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		default:
			text, _ := reader.ReadString('\n')
			text = strings.TrimSpace(text)

			if strings.HasPrefix(text, "hit") {
				damage := int64(100)
				if parts := strings.Fields(text); len(parts) == 2 {
					if parsed, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
						damage = parsed
					}
				}

				actionData, _ := json.Marshal(map[string]interface{}{
					"instance_id": *instanceID,
					"damage":      damage,
				})
				if err := send(c, MsgTypeDealDamage, actionData); err != nil {
					log.Println("Write error:", err)
					return
				}
				log.Printf("-> SENT: hit for %d", damage)
			}
		}
	}
}
