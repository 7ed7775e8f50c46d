package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ctilinker/pkg/common"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

var linkColumns = []string{
	"result_id", "position",
	"subject_id", "subject_text",
	"relation",
	"object_id", "object_text",
	"hallucinated",
}

// ResultIndex stores link prediction results in PostgreSQL so they can be
// queried across sources.
type ResultIndex struct {
	conn pgxIConn
}

// NewResultIndex creates a ResultIndex on an existing connection or pool.
func NewResultIndex(conn pgxIConn) *ResultIndex {
	return &ResultIndex{conn: conn}
}

// ResultSummary is one indexed result.
type ResultSummary struct {
	Source         string    `json:"source"`
	File           string    `json:"file"`
	Model          string    `json:"model"`
	ResponseTime   float64   `json:"response_time"`
	TotalTokens    int       `json:"total_tokens"`
	TotalCost      float64   `json:"total_cost"`
	TopicText      string    `json:"topic_text"`
	SubgraphNum    int       `json:"subgraph_num"`
	Links          int       `json:"links"`
	Hallucinations int       `json:"hallucinations"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SaveResult upserts the result row of (source, file) and replaces its links.
func (s *ResultIndex) SaveResult(ctx context.Context, source, file string, res *common.LinkPredictionResult) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var topicID, topicText *string
	if res.TopicNode != nil {
		id := string(res.TopicNode.EntityID)
		text := res.TopicNode.Text()
		topicID, topicText = &id, &text
	}

	var resultID int64
	err = tx.QueryRow(ctx, upsertResultSQL,
		source,
		file,
		res.Model,
		res.ResponseTime,
		res.Usage.Input.Tokens,
		res.Usage.Output.Tokens,
		res.Usage.Total.Tokens,
		res.Usage.Total.Cost,
		topicID,
		topicText,
		res.SubgraphNum,
		res.Hallucinations(),
	).Scan(&resultID)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}

	if _, err := tx.Exec(ctx, deleteLinksSQL, resultID); err != nil {
		return fmt.Errorf("delete links: %w", err)
	}

	rows := linkRows(resultID, res.PredictedLinks)
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgxv5.Identifier{"lp_links"}, linkColumns, pgxv5.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy links: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Debug("[DB] Indexed result", "source", source, "file", file, "links", len(rows))
	return nil
}

// ListResults returns the indexed results of source ordered by file.
func (s *ResultIndex) ListResults(ctx context.Context, source string) ([]ResultSummary, error) {
	rows, err := s.conn.Query(ctx, listResultsSQL, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultSummary
	for rows.Next() {
		var r ResultSummary
		var topic *string
		if err := rows.Scan(
			&r.Source,
			&r.File,
			&r.Model,
			&r.ResponseTime,
			&r.TotalTokens,
			&r.TotalCost,
			&topic,
			&r.SubgraphNum,
			&r.Hallucinations,
			&r.Links,
			&r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if topic != nil {
			r.TopicText = *topic
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func linkRows(resultID int64, links []common.PredictedEdge) [][]any {
	rows := make([][]any, 0, len(links))
	for i, l := range links {
		rows = append(rows, []any{
			resultID,
			i,
			string(l.Subject.EntityID),
			l.Subject.Text(),
			l.Relation,
			string(l.Object.EntityID),
			l.Object.Text(),
			l.IsHallucination(),
		})
	}
	return rows
}

const upsertResultSQL = `
INSERT INTO lp_results (
    source, file, model, response_time,
    input_tokens, output_tokens, total_tokens, total_cost,
    topic_id, topic_text, subgraph_num, hallucinations
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (source, file) DO UPDATE
SET model          = EXCLUDED.model,
    response_time  = EXCLUDED.response_time,
    input_tokens   = EXCLUDED.input_tokens,
    output_tokens  = EXCLUDED.output_tokens,
    total_tokens   = EXCLUDED.total_tokens,
    total_cost     = EXCLUDED.total_cost,
    topic_id       = EXCLUDED.topic_id,
    topic_text     = EXCLUDED.topic_text,
    subgraph_num   = EXCLUDED.subgraph_num,
    hallucinations = EXCLUDED.hallucinations,
    updated_at     = now()
RETURNING id;
`

const deleteLinksSQL = `
DELETE FROM lp_links WHERE result_id = $1;
`

const listResultsSQL = `
SELECT r.source, r.file, r.model, r.response_time, r.total_tokens, r.total_cost,
       r.topic_text, r.subgraph_num, r.hallucinations,
       (SELECT count(*) FROM lp_links l WHERE l.result_id = r.id)::int AS links,
       r.updated_at
FROM lp_results r
WHERE r.source = $1
ORDER BY r.file;
`
