package queue

import "github.com/google/uuid"

// Key layout. Everything this deployment stores in Redis lives under the
// psync: prefix; the queue itself uses psync:queue:*.
const (
	keyReady   = "psync:queue:ready"
	keyDelayed = "psync:queue:delayed"
	keyDead    = "psync:queue:dead"

	keyProcessingPrefix = "psync:queue:processing:"
	keyConsumerPrefix   = "psync:queue:consumer:"
	keyResultPrefix     = "psync:result:"
)

func processingKey(consumer string) string {
	return keyProcessingPrefix + consumer
}

func consumerKey(consumer string) string {
	return keyConsumerPrefix + consumer
}

func resultKey(id uuid.UUID) string {
	return keyResultPrefix + id.String()
}
