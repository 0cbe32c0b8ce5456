package dev

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jetbuild/jetbuild/pkg/middleware"
)

// ReloadPath is where browsers connect for reload notifications.
const ReloadPath = "/_jetbuild/reload"

// ReloadMessageType represents the type of reload message.
type ReloadMessageType string

const (
	ReloadTypeFull  ReloadMessageType = "reload"
	ReloadTypeError ReloadMessageType = "error"
	ReloadTypeClear ReloadMessageType = "clear"
)

// ReloadMessage is sent to browsers via WebSocket.
type ReloadMessage struct {
	Type    ReloadMessageType `json:"type"`
	Error   string            `json:"error,omitempty"`
	Version string            `json:"version,omitempty"`
}

// ReloadServer manages WebSocket connections for hot reload.
type ReloadServer struct {
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *middleware.Metrics
}

// NewReloadServer creates a new reload server. metrics may be nil.
func NewReloadServer(logger *slog.Logger, metrics *middleware.Metrics) *ReloadServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReloadServer{
		clients: make(map[*websocket.Conn]*sync.Mutex),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in dev
			},
		},
		logger:  logger,
		metrics: metrics,
	}
}

// HandleWebSocket upgrades the request and holds the connection until the
// client goes away.
func (r *ReloadServer) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("reload upgrade failed", "error", err)
		return
	}

	r.mu.Lock()
	r.clients[conn] = &sync.Mutex{}
	count := len(r.clients)
	r.mu.Unlock()
	r.metrics.SetReloadClients(count)
	r.logger.Debug("reload client connected", "remote", req.RemoteAddr, "clients", count)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	r.remove(conn)
}

// NotifyReload tells every client to reload the page.
func (r *ReloadServer) NotifyReload(version string) {
	r.broadcast(ReloadMessage{Type: ReloadTypeFull, Version: version})
}

// NotifyError shows errMsg in the error overlay of every client.
func (r *ReloadServer) NotifyError(errMsg string) {
	r.broadcast(ReloadMessage{Type: ReloadTypeError, Error: errMsg})
}

// ClearError clears the error overlay on all clients.
func (r *ReloadServer) ClearError() {
	r.broadcast(ReloadMessage{Type: ReloadTypeClear})
}

// broadcast sends a message to all connected clients. Clients that cannot
// be written to are dropped.
func (r *ReloadServer) broadcast(msg ReloadMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	r.metrics.RecordReload(string(msg.Type))

	r.mu.RLock()
	clients := make(map[*websocket.Conn]*sync.Mutex, len(r.clients))
	for conn, wmu := range r.clients {
		clients[conn] = wmu
	}
	r.mu.RUnlock()

	for conn, wmu := range clients {
		wmu.Lock()
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		err := conn.WriteMessage(websocket.TextMessage, data)
		wmu.Unlock()
		if err != nil {
			r.remove(conn)
		}
	}
}

func (r *ReloadServer) remove(conn *websocket.Conn) {
	r.mu.Lock()
	_, ok := r.clients[conn]
	delete(r.clients, conn)
	count := len(r.clients)
	r.mu.Unlock()
	if ok {
		conn.Close()
		r.metrics.SetReloadClients(count)
	}
}

// ClientCount returns the number of connected clients.
func (r *ReloadServer) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Close closes all client connections.
func (r *ReloadServer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for client := range r.clients {
		client.Close()
		delete(r.clients, client)
	}
	r.metrics.SetReloadClients(0)
}

// DevClientScript is injected into HTML pages served by the development
// server. It reloads the page after a rebuild and shows build errors in an
// overlay.
const DevClientScript = `
<script>
(function() {
    'use strict';

    var reconnectDelay = 1000;
    var maxReconnectDelay = 30000;
    var ws = null;

    function connect() {
        var protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
        ws = new WebSocket(protocol + '//' + location.host + '` + ReloadPath + `');

        ws.onopen = function() {
            console.log('[jetbuild] Hot reload connected');
            reconnectDelay = 1000;
        };

        ws.onmessage = function(e) {
            var msg;
            try {
                msg = JSON.parse(e.data);
            } catch (err) {
                return;
            }

            switch (msg.type) {
                case 'reload':
                    console.log('[jetbuild] Reloading', msg.version || '');
                    location.reload();
                    break;

                case 'error':
                    console.error('[jetbuild] Build error:', msg.error);
                    showErrorOverlay(msg.error);
                    break;

                case 'clear':
                    clearErrorOverlay();
                    break;
            }
        };

        ws.onclose = function() {
            setTimeout(function() {
                reconnectDelay = Math.min(reconnectDelay * 2, maxReconnectDelay);
                connect();
            }, reconnectDelay);
        };

        ws.onerror = function() {
            ws.close();
        };
    }

    function showErrorOverlay(error) {
        clearErrorOverlay();

        var overlay = document.createElement('div');
        overlay.id = 'jetbuild-error-overlay';
        overlay.style.cssText = 'position:fixed;top:0;left:0;right:0;bottom:0;background:rgba(0,0,0,0.9);color:#fff;font-family:monospace;font-size:14px;padding:20px;overflow:auto;z-index:999999;';

        var title = document.createElement('h2');
        title.style.cssText = 'color:#ff5555;margin:0 0 20px;';
        title.textContent = 'Build Error';

        var pre = document.createElement('pre');
        pre.style.cssText = 'white-space:pre-wrap;word-wrap:break-word;background:#1a1a1a;padding:20px;border-radius:8px;border:1px solid #333;';
        pre.textContent = error;

        var hint = document.createElement('p');
        hint.style.cssText = 'margin-top:20px;color:#888;';
        hint.textContent = 'Fix the error and save to rebuild.';

        overlay.appendChild(title);
        overlay.appendChild(pre);
        overlay.appendChild(hint);
        document.body.appendChild(overlay);
    }

    function clearErrorOverlay() {
        var overlay = document.getElementById('jetbuild-error-overlay');
        if (overlay) {
            overlay.remove();
        }
    }

    if (document.readyState === 'loading') {
        document.addEventListener('DOMContentLoaded', connect);
    } else {
        connect();
    }
})();
</script>
`
