package search

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"huddle/api/internal/logger"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" || q.WorkspaceID == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}

	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		logger.Log.Warn("meilisearch failed, falling back to postgres", zap.Error(err))
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		logger.Log.Error("postgres search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMessage indexes a message (fire-and-forget to Meilisearch).
func (s *Service) IndexMessage(record MessageRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMessages([]MessageRecord{record}); err != nil {
			logger.Log.Warn("index message", zap.String("message_id", record.ID), zap.Error(err))
		}
	}()
}

// DeleteMessage removes a message from the search index (fire-and-forget).
func (s *Service) DeleteMessage(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteMessage(id); err != nil {
			logger.Log.Warn("delete indexed message", zap.String("message_id", id), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG pushes every stored message into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		logger.Log.Error("reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexMessages(records); err != nil {
		logger.Log.Error("reindex messages", zap.Error(err))
		return
	}
	logger.Log.Info("reindexed messages", zap.Int("count", len(records)))
}

// Close stops background health checks.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
