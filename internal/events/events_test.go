package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleChange() *model.StatusChange {
	return &model.StatusChange{
		ID:      "cv37rs3pp9olc6atsptg",
		UserID:  42,
		From:    model.StatusPending,
		To:      model.StatusApproved,
		ActorID: 1,
		At:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestNewStatusChanged(t *testing.T) {
	ev := NewStatusChanged(sampleChange())

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "cv37rs3pp9olc6atsptg", ev.ChangeID)
	assert.Equal(t, int64(42), ev.UserID)
	assert.Equal(t, model.StatusApproved, ev.To)

	other := NewStatusChanged(sampleChange())
	assert.NotEqual(t, ev.ID, other.ID, "each event gets its own id")
}

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "user-status-changes" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "42" {
			return errors.New("wrong key " + string(key))
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var ev StatusChanged
		if err := json.Unmarshal(value, &ev); err != nil {
			return err
		}
		if ev.From != model.StatusPending || ev.To != model.StatusApproved || ev.ActorID != 1 {
			return errors.New("unexpected payload " + string(value))
		}
		return nil
	})

	p := NewKafkaPublisherWithProducer(producer, "user-status-changes", discardLogger())
	require.NoError(t, p.PublishStatusChanged(context.Background(), NewStatusChanged(sampleChange())))
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_SendFails(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisherWithProducer(producer, "topic", discardLogger())
	err := p.PublishStatusChanged(context.Background(), NewStatusChanged(sampleChange()))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	p := NewKafkaPublisherWithProducer(producer, "topic", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.PublishStatusChanged(ctx, NewStatusChanged(sampleChange()))
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, p.Close())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishStatusChanged(context.Background(), StatusChanged{}))
	assert.NoError(t, p.Close())
}
