package pollclient

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pollchat/internal/domain"
)

// Opener decrypts message bodies that were sealed for this user. Opened
// messages come back with IsEncrypted cleared.
type Opener interface {
	Open(ciphertext string) (string, error)
}

// Poller follows one chat by repeatedly asking for messages above its
// watermark. It never hands the same message id out twice.
type Poller struct {
	client    *Client
	chatType  domain.ChatType
	chatID    int64
	watermark int64
	interval  time.Duration
	opener    Opener
	log       zerolog.Logger
}

type PollerOption func(*Poller)

// StartAt resumes from a previously stored watermark.
func StartAt(watermark int64) PollerOption {
	return func(p *Poller) { p.watermark = watermark }
}

// Every fixes the poll interval. Without it the server's advertised
// interval is used.
func Every(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

func WithOpener(o Opener) PollerOption {
	return func(p *Poller) { p.opener = o }
}

func WithLogger(l zerolog.Logger) PollerOption {
	return func(p *Poller) { p.log = l }
}

const fallbackInterval = 3 * time.Second

func NewPoller(c *Client, chatType domain.ChatType, chatID int64, opts ...PollerOption) *Poller {
	p := &Poller{client: c, chatType: chatType, chatID: chatID, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) Watermark() int64 { return p.watermark }

// PollOnce drains everything currently above the watermark, following
// has_more, and returns the new messages in id order.
func (p *Poller) PollOnce(ctx context.Context) ([]*domain.Message, error) {
	var out []*domain.Message
	for {
		res, err := p.client.Poll(ctx, p.chatType, p.chatID, p.watermark)
		if err != nil {
			return out, err
		}
		if p.interval == 0 && res.PollIntervalMS > 0 {
			p.interval = time.Duration(res.PollIntervalMS) * time.Millisecond
		}
		for _, m := range res.Messages {
			if m.ID <= p.watermark {
				continue
			}
			p.watermark = m.ID
			p.open(m)
			out = append(out, m)
		}
		if !res.HasMore || len(res.Messages) == 0 {
			return out, nil
		}
	}
}

func (p *Poller) open(m *domain.Message) {
	if p.opener == nil || !m.IsEncrypted || m.Content == nil {
		return
	}
	plain, err := p.opener.Open(*m.Content)
	if err != nil {
		p.log.Warn().Err(err).Int64("message_id", m.ID).Msg("could not decrypt message")
		return
	}
	m.Content = &plain
	m.IsEncrypted = false
}

// Run polls until ctx is done, passing each non-empty batch to handle.
// Failed polls are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context, handle func([]*domain.Message)) error {
	for {
		msgs, err := p.PollOnce(ctx)
		if len(msgs) > 0 {
			handle(msgs)
		}
		if err != nil && ctx.Err() == nil {
			p.log.Warn().Err(err).Int64("watermark", p.watermark).Msg("poll failed")
		}

		interval := p.interval
		if interval <= 0 {
			interval = fallbackInterval
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
