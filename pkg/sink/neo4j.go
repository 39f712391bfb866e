package sink

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/models"
)

// SessionRunner abstracts neo4j.SessionWithContext
type SessionRunner interface {
	ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork, configurers ...func(*neo4j.TransactionConfig)) (any, error)
	Close(ctx context.Context) error
}

// DriverSessioner abstracts neo4j.DriverWithContext
type DriverSessioner interface {
	NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner
	Close(ctx context.Context) error
}

type cypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error)
}

type statement struct {
	query  string
	params map[string]any
}

type neo4jDriver struct {
	driver neo4j.DriverWithContext
}

func (d *neo4jDriver) NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner {
	return d.driver.NewSession(ctx, config)
}

func (d *neo4jDriver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// Neo4jSink maintains the suggestion graph:
// (:Profile)-[:SUGGESTED]->(:Profile) from each crawled profile to the
// profiles it surfaced
type Neo4jSink struct {
	driver DriverSessioner
}

// NewNeo4jSink connects to uri and verifies connectivity
func NewNeo4jSink(ctx context.Context, uri, user, password string) (*Neo4jSink, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeNetwork, "neo4j driver", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, errs.Wrap(errs.ErrorTypeNetwork, "neo4j connectivity", err)
	}
	return &Neo4jSink{driver: &neo4jDriver{driver: driver}}, nil
}

// NewNeo4jSinkWithDriver builds a sink on a custom driver
func NewNeo4jSinkWithDriver(driver DriverSessioner) *Neo4jSink {
	return &Neo4jSink{driver: driver}
}

// Publish merges the profile node and its suggestion edges in one write
// transaction. Failed records only touch the node's status.
func (n *Neo4jSink) Publish(ctx context.Context, rec models.ProfileRecord) error {
	if rec.ProfileID == "" {
		return nil
	}
	stmts := buildStatements(rec)

	session := n.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runStatements(ctx, tx, stmts)
	})
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, "neo4j write", err)
	}
	return nil
}

// Close closes the driver
func (n *Neo4jSink) Close() error {
	return n.driver.Close(context.Background())
}

func runStatements(ctx context.Context, tx cypherRunner, stmts []statement) error {
	for _, st := range stmts {
		if _, err := tx.Run(ctx, st.query, st.params); err != nil {
			return fmt.Errorf("run %q: %w", st.query, err)
		}
	}
	return nil
}

func buildStatements(rec models.ProfileRecord) []statement {
	stmts := []statement{buildProfileStatement(rec)}
	for _, item := range rec.Discovered {
		if item.ID == "" || item.ID == rec.ProfileID {
			continue
		}
		stmts = append(stmts, buildSuggestionStatement(rec.ProfileID, item.ID))
	}
	return stmts
}

func buildProfileStatement(rec models.ProfileRecord) statement {
	if rec.Failed {
		return statement{
			query: "MERGE (p:Profile {url: $url}) " +
				"SET p.crawled_at = $crawled_at, p.failed = true, p.error_type = $error_type",
			params: map[string]any{
				"url":        rec.ProfileID,
				"crawled_at": rec.CompletedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
				"error_type": rec.ErrorType,
			},
		}
	}
	return statement{
		query: "MERGE (p:Profile {url: $url}) " +
			"SET p.username = $username, p.follower_count = $follower_count, " +
			"p.image_url = $image_url, p.bio_links = $bio_links, " +
			"p.crawled_at = $crawled_at, p.failed = false",
		params: map[string]any{
			"url":            rec.ProfileID,
			"username":       rec.Username,
			"follower_count": rec.FollowerCount,
			"image_url":      rec.ProfileImageURL,
			"bio_links":      nonNil(rec.BioLinks),
			"crawled_at":     rec.CompletedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		},
	}
}

func buildSuggestionStatement(from, to string) statement {
	return statement{
		query: "MERGE (from:Profile {url: $from}) " +
			"MERGE (to:Profile {url: $to}) " +
			"MERGE (from)-[:SUGGESTED]->(to)",
		params: map[string]any{
			"from": from,
			"to":   to,
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
