package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coophabitat/finance-engine/internal/governance/fsm"
)

const (
	eventChannelPrefix = "gov:events:"      // Pub/Sub channel per agreement: gov:events:{agreement_id}
	allEventsChannel   = "gov:events"       // Pub/Sub channel for every agreement
	lastEventKeyPrefix = "gov:last:"        // Most recent transition: gov:last:{agreement_id}
	lastEventTTL       = 7 * 24 * time.Hour // TTL for the last transition
)

// Transition is the message published after an agreement changes.
type Transition struct {
	AgreementID string       `json:"agreement_id"`
	Kind        Kind         `json:"kind"`
	From        fsm.State    `json:"from"`
	To          fsm.State    `json:"to"`
	Event       string       `json:"event,omitempty"`
	Effects     []fsm.Effect `json:"effects,omitempty"`
	At          time.Time    `json:"at"`
}

// Publisher fans transitions out over Redis Pub/Sub
type Publisher struct {
	client *redis.Client
}

// NewPublisher creates a new Publisher
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// EventChannel is the channel carrying one agreement's transitions.
func EventChannel(agreementID string) string {
	return eventChannelPrefix + agreementID
}

// AllEventsChannel is the channel carrying every transition.
func AllEventsChannel() string {
	return allEventsChannel
}

// Publish stores the transition as the agreement's latest and broadcasts it.
func (p *Publisher) Publish(ctx context.Context, tr Transition) error {
	data, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("failed to marshal transition: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, lastEventKeyPrefix+tr.AgreementID, data, lastEventTTL)
	pipe.Publish(ctx, EventChannel(tr.AgreementID), data)
	pipe.Publish(ctx, allEventsChannel, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish transition: %w", err)
	}
	return nil
}

// Last returns the agreement's most recent published transition.
func (p *Publisher) Last(ctx context.Context, agreementID string) (*Transition, error) {
	data, err := p.client.Get(ctx, lastEventKeyPrefix+agreementID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last transition: %w", err)
	}

	var tr Transition
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transition: %w", err)
	}
	return &tr, nil
}

// Subscribe listens to one agreement's transitions.
func (p *Publisher) Subscribe(ctx context.Context, agreementID string) *redis.PubSub {
	return p.client.Subscribe(ctx, EventChannel(agreementID))
}
