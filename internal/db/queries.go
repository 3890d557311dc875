package db

const attemptColumns = `attempt_id, order_id, product, variant, sku, quantity, unit, price, status,
	vendor_job_id, error_message, retry_count, retry_snapshot, created_at, updated_at`

const (
	InsertAttempt = `
		INSERT INTO print_attempts (attempt_id, order_id, product, variant, sku, quantity, unit, price,
			status, retry_snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?)
	`

	GetAttemptByID = `SELECT ` + attemptColumns + ` FROM print_attempts WHERE attempt_id = ?`

	GetAttemptsByOrder = `SELECT ` + attemptColumns + `
		FROM print_attempts WHERE order_id = ? ORDER BY created_at ASC, rowid ASC`

	ListRecentAttempts = `SELECT ` + attemptColumns + `
		FROM print_attempts ORDER BY created_at DESC, rowid DESC LIMIT ?`

	ListRecentAttemptsByStatus = `SELECT ` + attemptColumns + `
		FROM print_attempts WHERE status = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`

	MarkAttemptSent = `
		UPDATE print_attempts SET status = 'sent', vendor_job_id = ?, error_message = '', updated_at = ?
		WHERE attempt_id = ?
	`

	MarkAttemptFailed = `
		UPDATE print_attempts SET status = 'failed', error_message = ?, vendor_job_id = '', updated_at = ?
		WHERE attempt_id = ?
	`

	ResetAttemptPending = `
		UPDATE print_attempts SET status = 'pending', vendor_job_id = '', error_message = '',
			retry_count = retry_count + 1, updated_at = ?
		WHERE attempt_id = ? AND (status <> 'pending' OR updated_at < ?)
	`

	AttemptExists = `SELECT COUNT(*) FROM print_attempts WHERE attempt_id = ?`

	CountAttemptsByStatus = `SELECT status, COUNT(*) FROM print_attempts GROUP BY status`
)

const (
	InsertVendorEvent = `
		INSERT INTO vendor_events (id, event_type, payload, received_at) VALUES (?, ?, ?, ?)
	`

	ListVendorEvents = `
		SELECT id, event_type, payload, received_at FROM vendor_events
		ORDER BY received_at DESC, rowid DESC LIMIT ?
	`
)
