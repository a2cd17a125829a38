// Package events 在生命周期状态变化时对外广播事件，支持内存、Redis 与 RabbitMQ 三种总线。
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event 描述一次生命周期阶段变化。
type Event struct {
	ID         string    `json:"id"`
	Commitment string    `json:"commitment"`
	Stage      string    `json:"stage"`
	Solver     string    `json:"solver,omitempty"`
	User       string    `json:"user,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New 创建带唯一 ID 的事件。
func New(commitment, stage, solver, user string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Commitment: commitment,
		Stage:      stage,
		Solver:     solver,
		User:       user,
		OccurredAt: at.UTC(),
	}
}

func encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func decode(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}
