package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/eventpulse/chat-service/pkg/logging"
	"github.com/eventpulse/chat-service/pkg/model"
)

// MessageArchiver is the narrow store surface the consumer needs.
type MessageArchiver interface {
	ArchiveMessage(ctx context.Context, msg *model.Message) error
}

type Archiver struct {
	reader  *kafka.Reader
	archive MessageArchiver
	log     zerolog.Logger
}

func NewArchiver(reader *kafka.Reader, archive MessageArchiver) *Archiver {
	return &Archiver{reader: reader, archive: archive, log: logging.With("archiver")}
}

// Run consumes until the context is canceled. Bad payloads are skipped;
// store failures are logged and the offset is still committed — the
// archive is best-effort by design, the primary copy lives in messages.
func (a *Archiver) Run(ctx context.Context) {
	for {
		m, err := a.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			a.log.Warn().Err(err).Msg("read failed, retrying")
			time.Sleep(time.Second)
			continue
		}

		var msg model.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			a.log.Warn().Err(err).Msg("skipping malformed firehose payload")
			continue
		}

		if err := a.archive.ArchiveMessage(ctx, &msg); err != nil {
			a.log.Error().Err(err).Int64("message_id", msg.ID).Msg("archive write failed")
			continue
		}
		a.log.Debug().Int64("message_id", msg.ID).Str("conversation_id", msg.ConversationID).Msg("archived")
	}
}
