package control

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

const feedWriteTimeout = 5 * time.Second

// feedUpgrader only admits same-host origins. The shell's embedded view and
// curl-style tools send no Origin header at all, which is also fine on a
// loopback-only socket.
var feedUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

func eventsWSHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Bus == nil {
			http.Error(w, "event feed unavailable", http.StatusServiceUnavailable)
			return
		}
		// Subscribe before the upgrade so events published while the
		// handshake completes are already buffered for this client.
		feed, cancel := deps.Bus.Subscribe()
		conn, err := feedUpgrader.Upgrade(w, r, nil)
		if err != nil {
			cancel()
			return
		}
		serveEventFeed(conn, feed, cancel)
	}
}

// serveEventFeed streams bus events to one websocket client. The reader
// goroutine exists only to notice the peer going away; clients are not
// expected to send anything.
func serveEventFeed(conn *websocket.Conn, feed <-chan types.Event, cancel func()) {
	defer conn.Close()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-feed:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
