package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinicdesk/internal/platform/events"
)

func newClient(id string, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, 8)}
}

func receive(t *testing.T, c *Client) events.Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var evt events.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("expected a frame")
	}
	return events.Event{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected frame %s", data)
	default:
	}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("c1", string(events.AppointmentCreated))

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount(string(events.AppointmentCreated)) != 1 {
		t.Fatalf("expected registered client, got %d clients", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(string(events.AppointmentCreated)) != 0 {
		t.Fatal("expected client removed")
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel closed")
	}
}

func TestHub_BroadcastByEventName(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	appts := newClient("appts", string(events.AppointmentCreated))
	stock := newClient("stock", string(events.LowStockAlert))
	hub.Register(appts)
	hub.Register(stock)

	hub.Broadcast(events.Event{Name: events.AppointmentCreated, Detail: "S123", At: time.Now()})

	got := receive(t, appts)
	if got.Name != events.AppointmentCreated || got.Detail != "S123" {
		t.Errorf("unexpected event %+v", got)
	}
	expectNothing(t, stock)
}

func TestHub_AllTopicsReceivesOnce(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("c", AllTopics, string(events.InventoryChanged))
	hub.Register(client)

	hub.Broadcast(events.Event{Name: events.InventoryChanged})

	receive(t, client)
	expectNothing(t, client)
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("c")
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{"backup-completed", "settings-changed"}})
	if hub.TopicCount("backup-completed") != 1 {
		t.Fatal("expected subscription")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{"backup-completed"}})
	if hub.TopicCount("backup-completed") != 0 {
		t.Fatal("expected unsubscription")
	}
	if len(client.Topics) != 1 || client.Topics[0] != "settings-changed" {
		t.Errorf("unexpected topics %v", client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "bogus", Topics: []string{"x"}})
	if hub.TopicCount("x") != 0 {
		t.Error("unknown action must be ignored")
	}
}

func TestHub_FullBufferDropsFrame(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", Topics: []string{AllTopics}, Send: make(chan []byte, 1)}
	hub.Register(client)

	hub.Broadcast(events.Event{Name: events.AuditLogCreated})
	hub.Broadcast(events.Event{Name: events.AuditLogCreated})

	if len(client.Send) != 1 {
		t.Errorf("expected one buffered frame, got %d", len(client.Send))
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient("c", AllTopics)
			hub.Register(c)
			hub.Broadcast(events.Event{Name: events.PatientUpdated})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHub_AttachForwardsBusEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	bus := events.NewBus(zerolog.Nop())
	detach := hub.Attach(bus)

	client := newClient("c", AllTopics)
	hub.Register(client)

	bus.Publish(events.BackupCompleted, "2024-05-01T09:00:00Z")
	got := receive(t, client)
	if got.Name != events.BackupCompleted {
		t.Errorf("unexpected event %s", got.Name)
	}

	detach()
	bus.Publish(events.BackupCompleted, "later")
	expectNothing(t, client)
}

func TestHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHandler(NewHub(zerolog.Nop()), []string{"*"})
	if err := h.HandleConnect(c); err == nil {
		t.Fatal("expected error for non-upgrade request")
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub, []string{"http://clinic.test"}).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.test"}}
	_, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

func TestHandler_FullUpgradeReceivesEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	bus := events.NewBus(zerolog.Nop())
	defer hub.Attach(bus)()

	e := echo.New()
	NewHandler(hub, []string{"*"}).RegisterRoutes(e.Group(""))
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?events=low-stock-alert"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	require.Eventually(t, func() bool {
		return hub.TopicCount(string(events.LowStockAlert)) == 1
	}, time.Second, 10*time.Millisecond)

	bus.Publish(events.AppointmentCreated, "ignored")
	bus.Publish(events.LowStockAlert, "3")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received events.Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Name != events.LowStockAlert || received.Detail != "3" {
		t.Fatalf("unexpected event %+v", received)
	}
}
