package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestPublish_FIFOPerSubscriber(t *testing.T) {
	b := New()
	defer b.Stop()

	var mu sync.Mutex
	var got []string
	_, err := b.Subscribe("tasks", func(msg *models.Message) {
		mu.Lock()
		got = append(got, msg.ID)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		if _, err := b.Publish(&models.Message{
			ID:      fmt.Sprintf("m%03d", i),
			Type:    models.MessageSystem,
			Sender:  "test",
			Channel: "tasks",
		}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	eventually(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, id := range got {
		want := fmt.Sprintf("m%03d", i)
		if id != want {
			t.Fatalf("delivery order broken at %d: got %s, want %s", i, id, want)
		}
	}
}

func TestPublish_FanOutCount(t *testing.T) {
	b := New()
	defer b.Stop()

	for i := 0; i < 3; i++ {
		if _, err := b.Subscribe("fan", func(*models.Message) {}); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	count, err := b.Publish(&models.Message{Type: models.MessageSystem, Sender: "test", Channel: "fan"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if count != 3 {
		t.Errorf("delivered = %d, want 3", count)
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := New()
	defer b.Stop()

	count, err := b.Publish(&models.Message{Type: models.MessageSystem, Sender: "test", Channel: "nowhere"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if count != 0 {
		t.Errorf("delivered = %d, want 0", count)
	}
}

func TestPublish_ExpiredNeverDelivered(t *testing.T) {
	b := New()
	defer b.Stop()

	delivered := make(chan string, 2)
	if _, err := b.Subscribe("exp", func(msg *models.Message) {
		delivered <- msg.ID
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	past := time.Now().Add(-time.Second)
	count, err := b.Publish(&models.Message{
		ID:        "expired",
		Type:      models.MessageSystem,
		Sender:    "test",
		Channel:   "exp",
		ExpiresAt: &past,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if count != 0 {
		t.Errorf("expired delivery count = %d, want 0", count)
	}

	// A live message still flows on the same channel.
	if _, err := b.Publish(&models.Message{ID: "live", Type: models.MessageSystem, Sender: "test", Channel: "exp"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case id := <-delivered:
		if id != "live" {
			t.Fatalf("delivered %q, want only the live message", id)
		}
	case <-time.After(time.Second):
		t.Fatal("live message was not delivered")
	}
	select {
	case id := <-delivered:
		t.Fatalf("unexpected extra delivery %q", id)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSendDirect_RoutesToAgentChannel(t *testing.T) {
	b := New()
	defer b.Stop()

	got := make(chan *models.Message, 1)
	if _, err := b.Subscribe(models.AgentChannel("backend-1"), func(msg *models.Message) {
		got <- msg
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	count, err := b.SendDirect("backend-1", &models.Message{
		Type:   models.MessageTaskAssign,
		Sender: "orchestrator",
	})
	if err != nil {
		t.Fatalf("send direct: %v", err)
	}
	if count != 1 {
		t.Fatalf("delivered = %d, want 1", count)
	}

	select {
	case msg := <-got:
		if msg.Recipient != "backend-1" {
			t.Errorf("recipient = %q, want backend-1", msg.Recipient)
		}
		if msg.Channel != "agent:backend-1" {
			t.Errorf("channel = %q, want agent:backend-1", msg.Channel)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestRequest_CorrelatedResponse(t *testing.T) {
	b := New()
	defer b.Stop()

	// Responder echoes the correlation id back, plus a decoy with the
	// wrong correlation id first.
	if _, err := b.Subscribe("agent:worker", func(msg *models.Message) {
		decoy := &models.Message{
			Type:          models.MessageSystem,
			Sender:        "worker",
			Channel:       models.ResponseChannel(msg.CorrelationID),
			CorrelationID: "wrong",
		}
		_, _ = b.Publish(decoy)
		_, _ = b.Respond(msg, "worker", map[string]interface{}{"answer": "done"})
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	resp, err := b.Request(context.Background(), &models.Message{
		Type:    models.MessageSystem,
		Sender:  "orchestrator",
		Channel: "agent:worker",
	}, time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.CorrelationID == "" || resp.CorrelationID == "wrong" {
		t.Errorf("response correlation id = %q, want the request's", resp.CorrelationID)
	}
	if resp.Payload["answer"] != "done" {
		t.Errorf("payload = %v, want answer=done", resp.Payload)
	}
}

func TestRequest_TimeoutCleansUpSubscription(t *testing.T) {
	b := New()
	defer b.Stop()

	start := time.Now()
	_, err := b.Request(context.Background(), &models.Message{
		Type:    models.MessageSystem,
		Sender:  "orchestrator",
		Channel: "agent:absent",
	}, 50*time.Millisecond)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("returned after %s, before the timeout", elapsed)
	}

	// The one-shot response subscription must not linger.
	for _, ch := range b.Channels() {
		if strings.HasPrefix(ch.Name, "response:") {
			t.Errorf("lingering response channel %s with %d subscribers", ch.Name, ch.Subscribers)
		}
	}
}

func TestRequest_ContextCancellation(t *testing.T) {
	b := New()
	defer b.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := b.Request(ctx, &models.Message{
		Type:    models.MessageSystem,
		Sender:  "orchestrator",
		Channel: "agent:absent",
	}, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestUnsubscribe_StopsDeliveryAndDetachesChannel(t *testing.T) {
	b := New()
	defer b.Stop()

	var mu sync.Mutex
	count := 0
	subID, err := b.Subscribe("work", func(*models.Message) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := b.Publish(&models.Message{Type: models.MessageSystem, Sender: "t", Channel: "work"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	eventually(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	if err := b.Unsubscribe(subID); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if n, _ := b.Publish(&models.Message{Type: models.MessageSystem, Sender: "t", Channel: "work"}); n != 0 {
		t.Errorf("delivered = %d after unsubscribe, want 0", n)
	}
	if got := b.SubscriberCount("work"); got != 0 {
		t.Errorf("subscriber count = %d, want 0", got)
	}

	if err := b.Unsubscribe(subID); err == nil {
		t.Error("second unsubscribe should fail")
	}
}

func TestSystemChannelsSurviveUnsubscribe(t *testing.T) {
	b := New()
	defer b.Stop()

	subID, err := b.Subscribe("system", func(*models.Message) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Unsubscribe(subID); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	found := false
	for _, ch := range b.Channels() {
		if ch.Name == "system" {
			found = true
		}
	}
	if !found {
		t.Error("system channel was detached")
	}
}

func TestHandlerPanicIsolation(t *testing.T) {
	b := New()
	defer b.Stop()

	if _, err := b.Subscribe("shared", func(*models.Message) {
		panic("bad subscriber")
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	healthy := make(chan struct{}, 2)
	if _, err := b.Subscribe("shared", func(*models.Message) {
		healthy <- struct{}{}
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := b.Publish(&models.Message{Type: models.MessageSystem, Sender: "t", Channel: "shared"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case <-healthy:
		case <-time.After(time.Second):
			t.Fatal("healthy subscriber starved by panicking peer")
		}
	}
}

func TestHistory_Bounded(t *testing.T) {
	b := New(WithHistorySize(5))
	defer b.Stop()

	for i := 0; i < 8; i++ {
		if _, err := b.Publish(&models.Message{
			ID:      fmt.Sprintf("m%d", i),
			Type:    models.MessageSystem,
			Sender:  "t",
			Channel: "h",
		}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	hist := b.History(0)
	if len(hist) != 5 {
		t.Fatalf("history length = %d, want 5", len(hist))
	}
	if hist[0].ID != "m3" || hist[4].ID != "m7" {
		t.Errorf("history window = [%s..%s], want [m3..m7]", hist[0].ID, hist[4].ID)
	}

	last2 := b.History(2)
	if len(last2) != 2 || last2[1].ID != "m7" {
		t.Errorf("History(2) = %v, want the two newest", last2)
	}
}

func TestStop_RejectsFurtherWork(t *testing.T) {
	b := New()
	b.Stop()

	if _, err := b.Publish(&models.Message{Type: models.MessageSystem, Sender: "t", Channel: "x"}); !errors.Is(err, ErrBrokerStopped) {
		t.Errorf("publish after stop: got %v, want ErrBrokerStopped", err)
	}
	if _, err := b.Subscribe("x", func(*models.Message) {}); !errors.Is(err, ErrBrokerStopped) {
		t.Errorf("subscribe after stop: got %v, want ErrBrokerStopped", err)
	}

	// Stop is idempotent.
	b.Stop()
}
