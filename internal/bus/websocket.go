package bus

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser client shares the API's CORS policy; origin checks
	// happen at the reverse proxy in deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is what a connected client may send: topic membership
// changes only. All data flows server to client.
type clientMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// ServeWS upgrades the request and bridges the connection to the hub.
// The caller has already authenticated the request.
func ServeWS(hub *Hub, allowedTopics []string, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	allowed := make(map[string]struct{}, len(allowedTopics))
	for _, topic := range allowedTopics {
		allowed[topic] = struct{}{}
	}

	sub := hub.NewSubscriber()
	go writePump(hub, sub, conn)
	readPump(hub, sub, conn, allowed)
}

func readPump(hub *Hub, sub *Subscriber, conn *websocket.Conn, allowed map[string]struct{}) {
	defer func() {
		hub.Close(sub)
		conn.Close()
	}()

	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}

		topic := strings.TrimSpace(msg.Topic)
		if _, ok := allowed[topic]; !ok {
			continue
		}

		switch msg.Action {
		case "subscribe":
			hub.Subscribe(sub, topic)
		case "unsubscribe":
			hub.Unsubscribe(sub, topic)
		}
	}
}

func writePump(hub *Hub, sub *Subscriber, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		hub.Close(sub)
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
