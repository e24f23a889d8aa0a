package database

const (
	qSelectEvent = `
		SELECT id, message_id, identity_id, status, attempt_number,
		       started_at, completed_at, response_time_ms,
		       error_code, error_message, error_category, error_retryable,
		       created_at
		FROM message_events
		WHERE id = $1`

	qSelectMessage = `
		SELECT id, organization_id, contact_id, channel, payload,
		       delivered_identity_id, created_at
		FROM messages
		WHERE id = $1`

	qSelectIdentityWithCredential = `
		SELECT i.id, i.credential_id, i.identifier, i.active,
		       c.id, c.organization_id, c.channel, c.provider, c.priority, c.active, c.config
		FROM provider_identities i
		JOIN provider_credentials c ON c.id = i.credential_id
		WHERE i.id = $1`

	qSelectContactIdentifiers = `
		SELECT contact_id, channel, value
		FROM contact_identifiers
		WHERE contact_id = $1`

	qClaimEvent = `
		UPDATE message_events
		SET status = 'processing', started_at = $2
		WHERE id = $1 AND status = 'queued'`

	qMarkSent = `
		UPDATE message_events
		SET status = 'sent', completed_at = $2, response_time_ms = $3
		WHERE id = $1
		RETURNING message_id, identity_id`

	qStampDeliveredIdentity = `
		UPDATE messages
		SET delivered_identity_id = $2
		WHERE id = $1`

	qMarkFailed = `
		UPDATE message_events
		SET status = 'failed', completed_at = $2, response_time_ms = $3,
		    error_code = $4, error_message = $5, error_category = $6, error_retryable = $7
		WHERE id = $1`

	qInsertEvent = `
		INSERT INTO message_events (id, message_id, identity_id, status, attempt_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	qIdentitiesAttempted = `
		SELECT DISTINCT identity_id
		FROM message_events
		WHERE message_id = $1`

	// Fallback candidates present the same outward identifier as the failed
	// identity, belong to the same organization and channel, and have not
	// been attempted for this message. Lowest credential priority wins;
	// identity id breaks ties deterministically.
	qFallbackCandidates = `
		SELECT i.id, i.credential_id, i.identifier, i.active,
		       c.id, c.organization_id, c.channel, c.provider, c.priority, c.active, c.config
		FROM provider_identities i
		JOIN provider_credentials c ON c.id = i.credential_id
		WHERE i.identifier = (SELECT identifier FROM provider_identities WHERE id = $2)
		  AND c.organization_id = (SELECT organization_id FROM messages WHERE id = $1)
		  AND c.channel = (SELECT channel FROM messages WHERE id = $1)
		  AND i.active AND c.active
		  AND i.id NOT IN (SELECT identity_id FROM message_events WHERE message_id = $1)
		ORDER BY c.priority ASC, i.id ASC`

	qOrphanedQueuedEvents = `
		SELECT id
		FROM message_events
		WHERE status = 'queued'
		  AND created_at <= $1
		  AND created_at >= $2
		ORDER BY created_at ASC
		LIMIT $3`

	qStuckProcessingEvents = `
		SELECT id
		FROM message_events
		WHERE status = 'processing'
		  AND started_at IS NOT NULL
		  AND started_at <= $1
		  AND completed_at IS NULL
		ORDER BY started_at ASC
		LIMIT $2`

	qRequeueStuckEvent = `
		UPDATE message_events
		SET status = 'queued', started_at = NULL, completed_at = NULL,
		    response_time_ms = NULL, error_code = NULL, error_message = NULL,
		    error_category = NULL, error_retryable = NULL
		WHERE id = $1 AND status = 'processing'`
)
