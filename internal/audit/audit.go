package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/cajafuerte/backend/internal/models"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
	Details   any       `json:"details"`
}

// Logger emits structured audit lines for every ledger mutation.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogMovement(mv *models.Movement, status string) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "MOVEMENT",
		Reference: mv.Date.Format("2006-01-02"),
		Status:    status,
		Details: map[string]string{
			"type":   string(mv.Type),
			"method": mv.Method,
			"amount": mv.Amount.StringFixed(2),
		},
	}
	a.log(event)
}

func (a *Logger) LogBatch(batchRef, operation, details string) {
	event := Event{
		Timestamp: time.Now(),
		EventType: operation,
		Reference: batchRef,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	}
	a.log(event)
}

func (a *Logger) LogError(reference, context string, err error) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		Reference: reference,
		Status:    "FAILED",
		Details:   map[string]string{"context": context, "error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
