// internal/graph/neo4j.go
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const constraintViolationCode = "Neo.ClientError.Schema.ConstraintValidationFailed"

var schemaStatements = []string{
	"CREATE CONSTRAINT owner_uniqueness IF NOT EXISTS FOR (o:Owner) REQUIRE o.login IS UNIQUE",
	"CREATE CONSTRAINT repo_uniqueness IF NOT EXISTS FOR (r:Repository) REQUIRE r.id IS UNIQUE",
}

// Neo4jStore is the Store backed by a Neo4j database.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewNeo4jStore connects to Neo4j and verifies connectivity.
func NewNeo4jStore(ctx context.Context, uri, user, password, database string, logger *slog.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri,
		neo4j.BasicAuth(user, password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = 50
			config.ConnectionAcquisitionTimeout = 60 * time.Second
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", uri, err)
	}

	logger = logger.With("component", "neo4j")
	logger.Info("connected to graph store", "uri", uri, "database", database)
	return &Neo4jStore{driver: driver, database: database, logger: logger}, nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// HealthCheck verifies the database is reachable.
func (s *Neo4jStore) HealthCheck(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *Neo4jStore) MergeNode(ctx context.Context, n Node) error {
	return s.writer().MergeNode(ctx, n)
}

func (s *Neo4jStore) MergeEdge(ctx context.Context, e Edge) error {
	return s.writer().MergeEdge(ctx, e)
}

func (s *Neo4jStore) SetProperties(ctx context.Context, ref NodeRef, props map[string]any) error {
	return s.writer().SetProperties(ctx, ref, props)
}

// Update runs fn inside a managed write transaction. The driver may replay
// fn on transient failures, which is safe because every write is a merge.
func (s *Neo4jStore) Update(ctx context.Context, fn func(w Writer) error) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&cypherWriter{runner: txRunner{tx: tx}})
	})
	return translateError(err)
}

func (s *Neo4jStore) Node(ctx context.Context, ref NodeRef) (map[string]any, error) {
	cypher, params, err := nodeQuery(ref)
	if err != nil {
		return nil, err
	}
	records, err := s.runRead(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	props, _ := records[0].Get("props")
	m, _ := props.(map[string]any)
	return m, nil
}

func (s *Neo4jStore) CountIncoming(ctx context.Context, ref NodeRef, relType string, transitive bool) (int, error) {
	cypher, params, err := countIncomingQuery(ref, relType, transitive)
	if err != nil {
		return 0, err
	}
	records, err := s.runRead(ctx, cypher, params)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	count, _ := records[0].Get("count")
	return AsInt(count), nil
}

func (s *Neo4jStore) Incoming(ctx context.Context, ref NodeRef, relType string) ([]Record, error) {
	cypher, params, err := incomingQuery(ref, relType)
	if err != nil {
		return nil, err
	}
	records, err := s.runRead(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return toRecords(records), nil
}

func (s *Neo4jStore) Find(ctx context.Context, label string, match map[string]any) ([]Record, error) {
	cypher, params, err := findQuery(label, match)
	if err != nil {
		return nil, err
	}
	records, err := s.runRead(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return toRecords(records), nil
}

// toRecords decodes rows shaped as (labels, props).
func toRecords(records []*neo4j.Record) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		var r Record
		if raw, ok := rec.Get("labels"); ok {
			if list, ok := raw.([]any); ok {
				for _, l := range list {
					r.Labels = append(r.Labels, AsString(l))
				}
			}
		}
		if raw, ok := rec.Get("props"); ok {
			r.Props, _ = raw.(map[string]any)
		}
		out = append(out, r)
	}
	return out
}

func (s *Neo4jStore) CountNodes(ctx context.Context, label string) (int, error) {
	if !isValidIdentifier(label) {
		return 0, fmt.Errorf("invalid node label: %q", label)
	}
	records, err := s.runRead(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS count", label), nil)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	count, _ := records[0].Get("count")
	return AsInt(count), nil
}

func (s *Neo4jStore) DeleteSubtree(ctx context.Context, ref NodeRef) (int, error) {
	cypher, params, err := deleteSubtreeQuery(ref)
	if err != nil {
		return 0, err
	}
	records, err := s.run(ctx, cypher, params)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	total, _ := records[0].Get("total")
	deleted := AsInt(total)
	s.logger.Info("deleted subtree", "root", ref.String(), "nodes", deleted)
	return deleted, nil
}

func (s *Neo4jStore) writer() *cypherWriter {
	return &cypherWriter{runner: driverRunner{store: s}}
}

func (s *Neo4jStore) run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithWritersRouting())
	if err != nil {
		return nil, translateError(err)
	}
	return result.Records, nil
}

func (s *Neo4jStore) runRead(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, translateError(err)
	}
	return result.Records, nil
}

// translateError maps uniqueness violations onto ErrConstraintViolation.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && neoErr.Code == constraintViolationCode {
		return fmt.Errorf("%w: %s", ErrConstraintViolation, neoErr.Msg)
	}
	return err
}

type queryRunner interface {
	run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error)
}

type driverRunner struct {
	store *Neo4jStore
}

func (r driverRunner) run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	return r.store.run(ctx, cypher, params)
}

type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (r txRunner) run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := r.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

// cypherWriter implements Writer on top of a runner, so the same merges
// serve both auto-commit calls and explicit transactions.
type cypherWriter struct {
	runner queryRunner
}

func (w *cypherWriter) MergeNode(ctx context.Context, n Node) error {
	cypher, params, err := mergeNodeQuery(n)
	if err != nil {
		return err
	}
	_, err = w.runner.run(ctx, cypher, params)
	return err
}

func (w *cypherWriter) MergeEdge(ctx context.Context, e Edge) error {
	cypher, params, err := mergeEdgeQuery(e)
	if err != nil {
		return err
	}
	records, err := w.runner.run(ctx, cypher, params)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("edge %s-[:%s]->%s: %w", e.From, e.Type, e.To, ErrNotFound)
	}
	if merged, _ := records[0].Get("merged"); AsInt(merged) == 0 {
		return fmt.Errorf("edge %s-[:%s]->%s: %w", e.From, e.Type, e.To, ErrNotFound)
	}
	return nil
}

func (w *cypherWriter) SetProperties(ctx context.Context, ref NodeRef, props map[string]any) error {
	cypher, params, err := setPropertiesQuery(ref, props)
	if err != nil {
		return err
	}
	records, err := w.runner.run(ctx, cypher, params)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if matched, _ := records[0].Get("matched"); AsInt(matched) == 0 {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return nil
}
