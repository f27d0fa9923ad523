package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kalimotxo/enginewatch/internal/api/domain"
)

// Recorder is the downstream sink for ingested messages.
type Recorder interface {
	Record(ctx context.Context, raw domain.RawReading) error
}

// Config describes the broker connection and the one subject carrying
// telemetry.
type Config struct {
	URL     string
	Subject string

	// TLS material, all optional. CACert alone gives server
	// verification; ClientCert and ClientKey add mutual TLS.
	CACert     string
	ClientCert string
	ClientKey  string
}

// Subscriber consumes telemetry messages from a single broker subject
// and hands each decoded reading to the recorder. Messages are handled
// sequentially in arrival order on one goroutine; a bad message is
// logged and dropped, never fatal.
type Subscriber struct {
	cfg      Config
	recorder Recorder
	logger   *slog.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	sub    *nats.Subscription
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewSubscriber(cfg Config, recorder Recorder, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		cfg:      cfg,
		recorder: recorder,
		logger:   logger.With("component", "ingest"),
	}
}

// Start connects to the broker and begins consuming. The connection
// retries forever; a broker outage degrades ingestion, not the service.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return fmt.Errorf("ingest: already started")
	}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn("broker disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("broker reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			s.logger.Info("broker connection closed")
		}),
	}
	if s.cfg.CACert != "" {
		opts = append(opts, nats.RootCAs(s.cfg.CACert))
	}
	if s.cfg.ClientCert != "" && s.cfg.ClientKey != "" {
		opts = append(opts, nats.ClientCert(s.cfg.ClientCert, s.cfg.ClientKey))
	}

	conn, err := nats.Connect(s.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("ingest: connecting to broker: %w", err)
	}

	msgCh := make(chan *nats.Msg, 64)
	sub, err := conn.ChanSubscribe(s.cfg.Subject, msgCh)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ingest: subscribing to %q: %w", s.cfg.Subject, err)
	}

	s.conn = conn
	s.sub = sub
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.logger.Info("ingest started", "url", s.cfg.URL, "subject", s.cfg.Subject)
	go s.consume(msgCh, s.stopCh, s.doneCh)
	return nil
}

// consume is the single message loop. It owns all writes to the latest
// slot downstream.
func (s *Subscriber) consume(msgCh <-chan *nats.Msg, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			s.handle(msg)
		}
	}
}

func (s *Subscriber) handle(msg *nats.Msg) {
	raw, err := decodeReading(msg.Data)
	if err != nil {
		s.logger.Warn("dropping undecodable message", "subject", msg.Subject, "err", err)
		return
	}

	if err := s.recorder.Record(context.Background(), raw); err != nil {
		s.logger.Error("recording reading failed", "device_id", raw.DeviceID, "err", err)
	}
}

// Stop unsubscribes, waits for the in-flight message to finish and
// closes the connection. Safe to call once after a successful Start.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return
	}

	_ = s.sub.Unsubscribe()
	close(s.stopCh)
	<-s.doneCh
	s.conn.Close()

	s.conn = nil
	s.sub = nil
	s.logger.Info("ingest stopped")
}
