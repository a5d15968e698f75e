package repository

import (
	"context"
	"fmt"

	"Treasury/internal/domain/models"
	domrepo "Treasury/internal/domain/repository"
	applogger "Treasury/pkg/logger"
)

// MessagePublisher is satisfied by *kafka.Producer.
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaJournalPublisher sends journal entries to a topic keyed by entry ID.
type KafkaJournalPublisher struct {
	producer MessagePublisher
	topic    string
}

var _ domrepo.JournalPublisher = (*KafkaJournalPublisher)(nil)

func NewKafkaJournalPublisher(p MessagePublisher, topic string) *KafkaJournalPublisher {
	return &KafkaJournalPublisher{producer: p, topic: topic}
}

func (p *KafkaJournalPublisher) PublishEntry(ctx context.Context, e models.JournalEntry) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(e.ID), e); err != nil {
		return fmt.Errorf("publish journal entry %s: %w", e.ID, err)
	}
	return nil
}

// PublishingJournal appends to a store and then forwards the entry to
// downstream reporting. A failed publish is logged; the entry is already
// durable.
type PublishingJournal struct {
	domrepo.JournalStore
	pub domrepo.JournalPublisher
	l   *applogger.Logger
}

func NewPublishingJournal(store domrepo.JournalStore, pub domrepo.JournalPublisher, l *applogger.Logger) *PublishingJournal {
	return &PublishingJournal{JournalStore: store, pub: pub, l: l}
}

func (j *PublishingJournal) Append(ctx context.Context, e models.JournalEntry) error {
	if err := j.JournalStore.Append(ctx, e); err != nil {
		return err
	}
	if err := j.pub.PublishEntry(ctx, e); err != nil {
		j.l.Warn("journal publish failed",
			applogger.String("id", e.ID),
			applogger.String("kind", string(e.Kind)),
			applogger.Error(err),
		)
	}
	return nil
}
