package server

import (
	"context"
	"sync"
	"time"

	"github.com/aurelia-health/consulta/backend/internal/autosave"
	"github.com/aurelia-health/consulta/backend/internal/workflow"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "consulta-backend"
)

// RealtimeMessage is one server-sent event on the /events feed. Every
// clinic workstation sees the same feed; the scheduling view uses it to
// refresh appointment rows without polling.
type RealtimeMessage struct {
	EventType      string    `json:"event"`
	AppointmentID  string    `json:"appointmentId,omitempty"`
	ConsultationID string    `json:"consultationId,omitempty"`
	PatientID      string    `json:"patientId,omitempty"`
	Source         string    `json:"source"`
	Timestamp      time.Time `json:"timestamp"`
}

// FromWorkflowEvent converts a lifecycle notification into a feed message.
func FromWorkflowEvent(event workflow.Event) RealtimeMessage {
	return RealtimeMessage{
		EventType:      string(event.Type),
		AppointmentID:  event.AppointmentID,
		ConsultationID: event.ConsultationID,
		PatientID:      event.PatientID,
		Source:         realtimeSourceBackend,
		Timestamp:      event.At,
	}
}

// FromAutosaveEvent converts an autosave notification into a feed message.
func FromAutosaveEvent(event autosave.Event) RealtimeMessage {
	return RealtimeMessage{
		EventType:      string(event.Type),
		ConsultationID: event.ConsultationID,
		Source:         realtimeSourceBackend,
		Timestamp:      event.At,
	}
}

// RealtimeDispatcher fans lifecycle and autosave events out to every
// connected event-stream subscriber. Slow subscribers drop messages rather
// than stall the publisher.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a feed consumer. The returned channel is closed-free;
// callers stop reading and invoke cleanup (or cancel ctx) to leave.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan RealtimeMessage, func()) {
	subscriber := &realtimeSubscriber{
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.mu.Lock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
	d.mu.Unlock()

	cleanup := func() {
		d.unregisterSubscriber(subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message to every subscriber without blocking.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.EventType == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
