package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aurelia-health/consulta/backend/internal/workflow"
)

func TestDispatcherBroadcastsToEverySubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, _ := dispatcher.Subscribe(ctx)
	second, _ := dispatcher.Subscribe(ctx)

	dispatcher.Publish(RealtimeMessage{
		EventType:      string(workflow.EventConsultationStarted),
		AppointmentID:  "a-1",
		ConsultationID: "c-1",
	})

	for _, stream := range []<-chan RealtimeMessage{first, second} {
		select {
		case message := <-stream:
			if message.EventType != string(workflow.EventConsultationStarted) || message.ConsultationID != "c-1" {
				t.Fatalf("unexpected message %+v", message)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber did not receive the broadcast")
		}
	}
}

func TestDispatcherDropsWhenSubscriberIsSlow(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, _ := dispatcher.Subscribe(ctx)
	// Overflow the buffer without a reader; Publish must never block.
	for i := 0; i < 64; i++ {
		dispatcher.Publish(RealtimeMessage{EventType: "appointment-cancelled", AppointmentID: "a-1"})
	}

	received := 0
	for {
		select {
		case <-stream:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 16 {
		t.Fatalf("expected a bounded backlog, got %d messages", received)
	}
}

func TestDispatcherCleanupStopsDelivery(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background())
	cleanup()

	dispatcher.Publish(RealtimeMessage{EventType: "appointment-cancelled", AppointmentID: "a-1"})
	select {
	case message := <-stream:
		t.Fatalf("expected no delivery after cleanup, got %+v", message)
	default:
	}
}

func TestEventStreamDeliversWorkflowEvents(t *testing.T) {
	server := newTestServer(t)
	token := server.mintToken(t)

	upstream := httptest.NewServer(server.handler)
	defer upstream.Close()

	request, err := http.NewRequest(http.MethodGet, upstream.URL+"/events", http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("event stream request failed: %v", err)
	}
	defer response.Body.Close()

	if got := response.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Fatalf("expected an event-stream content type, got %q", got)
	}

	go func() {
		// Give the subscription a moment to register before publishing.
		time.Sleep(50 * time.Millisecond)
		server.dispatcher.Publish(RealtimeMessage{
			EventType:      string(workflow.EventConsultationStarted),
			AppointmentID:  "a-1",
			ConsultationID: "c-1",
			Timestamp:      time.Now().UTC(),
		})
	}()

	scanner := bufio.NewScanner(response.Body)
	deadline := time.After(5 * time.Second)
	found := make(chan string, 1)
	go func() {
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "event:") && strings.Contains(line, string(workflow.EventConsultationStarted)) {
				found <- line
				return
			}
		}
	}()

	select {
	case <-found:
	case <-deadline:
		t.Fatalf("did not observe the consultation-started event on the stream")
	}
}
