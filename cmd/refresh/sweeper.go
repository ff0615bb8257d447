package main

import (
	"context"
	"log"
	"time"

	"chatpipe/internal/svc"
	"chatpipe/pkg/journal"
	"chatpipe/pkg/pipeline"
)

// sweeper reconciles the pipeline handler against the chatbot config store.
// It remembers config digests between passes so unchanged chatbots are left
// alone.
type sweeper struct {
	svcCtx  *svc.ServiceContext
	digests map[string]string
}

// newSweeper seeds the digest map from the chatbots the service context
// registered at startup, so the first sweep only reacts to real drift.
func newSweeper(svcCtx *svc.ServiceContext) *sweeper {
	s := &sweeper{svcCtx: svcCtx, digests: make(map[string]string)}

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	for _, id := range svcCtx.Pipelines.Chatbots() {
		cfg, err := svcCtx.Store.Config(ctx, id)
		if err != nil {
			continue
		}
		if digest, err := pipeline.ConfigDigest(cfg); err == nil {
			s.digests[id] = digest
		}
	}
	return s
}

// sweep runs one reconciliation pass: removed chatbots are evicted, new ones
// created, and chatbots whose config digest changed are rebuilt. Changes are
// journaled; a pass with no changes is only logged.
func (s *sweeper) sweep(parentCtx context.Context) {
	// Check if parent context is already cancelled
	if parentCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parentCtx, sweepTimeout)
	defer cancel()

	start := time.Now()
	ids, err := s.svcCtx.Store.ChatbotIDs(ctx)
	if err != nil {
		log.Printf("[sweep.list] [ERROR] %v, took %dms", err, time.Since(start).Milliseconds())
		return
	}

	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}

	var created, updated, removed, failed []string

	// Drop chatbots that left the store (or were disabled).
	for _, id := range s.svcCtx.Pipelines.Chatbots() {
		if _, ok := known[id]; ok {
			continue
		}
		s.svcCtx.Pipelines.DeleteChatbot(id)
		delete(s.digests, id)
		removed = append(removed, id)
		log.Printf("[sweep.remove.%s] [OK] pipelines evicted", id)
	}

	// Create new chatbots and rebuild changed ones.
	for _, id := range ids {
		cfg, err := s.svcCtx.Store.Config(ctx, id)
		if err != nil {
			log.Printf("[sweep.config.%s] [ERROR] %v", id, err)
			failed = append(failed, id)
			continue
		}
		digest, err := pipeline.ConfigDigest(cfg)
		if err != nil {
			log.Printf("[sweep.digest.%s] [ERROR] %v", id, err)
			failed = append(failed, id)
			continue
		}

		prev, seen := s.digests[id]
		switch {
		case !seen:
			if err := s.svcCtx.Pipelines.CreateChatbot(ctx, s.svcCtx.Store, id); err != nil {
				log.Printf("[sweep.create.%s] [ERROR] %v", id, err)
				failed = append(failed, id)
				continue
			}
			s.digests[id] = digest
			created = append(created, id)
			log.Printf("[sweep.create.%s] [OK] models=%v", id, s.svcCtx.Pipelines.ModelKeys(id))
		case prev != digest:
			if err := s.svcCtx.Pipelines.UpdateChatbots(ctx, s.svcCtx.Store, []string{id}); err != nil {
				log.Printf("[sweep.update.%s] [ERROR] %v", id, err)
				failed = append(failed, id)
				continue
			}
			s.digests[id] = digest
			updated = append(updated, id)
			log.Printf("[sweep.update.%s] [OK] models=%v", id, s.svcCtx.Pipelines.ModelKeys(id))
		}
	}

	elapsed := time.Since(start)
	if len(created)+len(updated)+len(removed)+len(failed) == 0 {
		log.Printf("[sweep] [OK] no changes across %d chatbots, took %dms", len(ids), elapsed.Milliseconds())
		return
	}

	log.Printf("[sweep] [OK] created=%d updated=%d removed=%d failed=%d, took %dms",
		len(created), len(updated), len(removed), len(failed), elapsed.Milliseconds())

	rec := &journal.RefreshRecord{
		Action:  journal.ActionSweep,
		Created: created,
		Updated: updated,
		Removed: removed,
		Failed:  failed,
		Success: len(failed) == 0,
	}
	if _, err := s.svcCtx.Journal.WriteRefresh(rec); err != nil {
		log.Printf("[sweep.journal] [ERROR] %v", err)
	}
}
