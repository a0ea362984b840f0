package ingestion

import (
	"context"

	"github.com/rs/zerolog/log"

	"ragcore/internal/ingestevents"
	"ragcore/internal/queue"
	"ragcore/internal/ragmodel"
	"ragcore/internal/staging"
)

// HandleMaintenanceSweep is the MAINTENANCE queue's one concrete consumer
// (SPEC_FULL.md C7 supplement): it deletes every staged upload key whose
// document no longer exists or has a status other than PENDING or
// EXTRACTING, whatever the key's age, and publishes a StagingOrphanSwept
// event for each key it deletes. The
// cache's own TTL already reclaims every staged key eventually; this sweep
// just frees space sooner for the common orphan cases instead of waiting
// out the full TTL window.
func (s *Service) HandleMaintenanceSweep(ctx context.Context, job queue.Job) error {
	keys, err := s.Staging.Keys(ctx)
	if err != nil {
		return err
	}

	var swept int
	for _, key := range keys {
		docID, ok := staging.DocumentIDForKey(key)
		if !ok {
			continue
		}
		doc, err := s.Store.GetDocument(ctx, docID)
		if err != nil {
			// Deleted mid-flight: the same non-retryable treatment HandleOCR
			// gives a missing document.
			if err := s.Staging.Delete(ctx, key); err != nil {
				return err
			}
			swept++
			s.Events.PublishStagingOrphanSwept(ctx, ingestevents.StagingOrphanSwept{StagingKey: key, DocumentID: docID})
			continue
		}
		if doc.ProcessingStatus != ragmodel.StatusPending && doc.ProcessingStatus != ragmodel.StatusExtracting {
			if err := s.Staging.Delete(ctx, key); err != nil {
				return err
			}
			swept++
			s.Events.PublishStagingOrphanSwept(ctx, ingestevents.StagingOrphanSwept{StagingKey: key, DocumentID: docID})
		}
	}

	log.Info().Int("swept", swept).Int("scanned", len(keys)).Msg("maintenance_staging_sweep")
	return nil
}
