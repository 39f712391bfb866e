// Package sink forwards appended profile records to external systems.
//
// A Sink sees every record after it has been persisted. Sinks are fire and
// forget from the crawler's point of view: a failing sink is logged and the
// crawl continues.
package sink

import (
	"context"
	"errors"

	"igcrawler/pkg/config"
	"igcrawler/pkg/models"
)

// Sink receives appended records
type Sink interface {
	Publish(ctx context.Context, rec models.ProfileRecord) error
	Close() error
}

// Multi fans a record out to several sinks
type Multi []Sink

// Publish sends rec to every sink and joins their errors
func (m Multi) Publish(ctx context.Context, rec models.ProfileRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the sinks enabled in cfg. With nothing configured it
// returns an empty Multi.
func FromConfig(ctx context.Context, cfg config.SinksConfig) (Multi, error) {
	var sinks Multi
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic))
	}
	if cfg.Neo4jURI != "" {
		n, err := NewNeo4jSink(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, n)
	}
	return sinks, nil
}
