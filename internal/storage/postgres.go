package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/domain"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/retry"
	"github.com/VatsalGoel3/i4ops-dashboard-sub000/internal/writer"
)

// PostgresStore is the persistence sink and inventory lookup, backed by the
// dashboard's relational database.
type PostgresStore struct {
	db       *sql.DB
	window   time.Duration
	retryCfg retry.Config
}

// NewPostgresStore opens the event store. window is the ± span within which
// two otherwise-identical events count as one.
func NewPostgresStore(dsn string, window time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Info().Msg("Connected to event store")

	return &PostgresStore{db: db, window: window, retryCfg: retry.DefaultConfig()}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertEventsSkippingDuplicates persists a candidate batch in a single
// transaction. A candidate is inserted only when no event with the same
// (vmId, source, message) identity exists within ± the dedup window of its
// timestamp; the transaction sees its own inserts, so duplicates within the
// batch collapse too. Individual row failures roll back to a savepoint and
// the batch continues.
func (s *PostgresStore) InsertEventsSkippingDuplicates(ctx context.Context, candidates []*domain.EventCandidate) (writer.InsertResult, error) {
	var result writer.InsertResult
	if len(candidates) == 0 {
		return result, nil
	}

	err := retry.Do(ctx, s.retryCfg, func() error {
		res, err := s.insertBatch(ctx, candidates)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return writer.InsertResult{}, err
	}
	return result, nil
}

func (s *PostgresStore) insertBatch(ctx context.Context, candidates []*domain.EventCandidate) (writer.InsertResult, error) {
	var result writer.InsertResult

	// Serializable, so two concurrent flushes cannot both pass the
	// conflict check and insert the same duplicate. A serialization
	// failure aborts the batch and the retry wrapper replays it.
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, c := range candidates {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM "SecurityEvent"
				WHERE "vmId" = $1 AND source = $2 AND message = $3
				  AND timestamp BETWEEN $4 AND $5
			)`,
			c.VMID, string(c.Source), c.RawMessage,
			c.Timestamp.Add(-s.window), c.Timestamp.Add(s.window),
		).Scan(&exists)
		if err != nil {
			return result, fmt.Errorf("conflict check failed: %w", err)
		}
		if exists {
			result.Duplicates++
			continue
		}

		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			metadata = []byte("{}")
		}

		savepoint := fmt.Sprintf("row_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return result, fmt.Errorf("savepoint failed: %w", err)
		}

		ev := &domain.SecurityEvent{
			VMID:      c.VMID,
			Timestamp: c.Timestamp,
			Source:    c.Source,
			Message:   c.RawMessage,
			Severity:  c.Severity,
			Type:      c.Type,
			Metadata:  c.Metadata,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO "SecurityEvent"
				("vmId", timestamp, source, message, severity, rule, metadata, "createdAt")
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			RETURNING id, "createdAt"`,
			c.VMID, c.Timestamp, string(c.Source), c.RawMessage,
			string(c.Severity), string(c.Type), metadata,
		).Scan(&ev.ID, &ev.CreatedAt)
		if err != nil {
			// Skip the row, keep the batch.
			log.Warn().
				Err(err).
				Int64("vm_id", c.VMID).
				Str("rule", string(c.Type)).
				Msg("Row insert failed, skipping")
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
				return result, fmt.Errorf("savepoint rollback failed: %w", rbErr)
			}
			result.Failed++
			continue
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return result, fmt.Errorf("savepoint release failed: %w", err)
		}

		result.Inserted = append(result.Inserted, ev)
	}

	if err := tx.Commit(); err != nil {
		return writer.InsertResult{}, fmt.Errorf("failed to commit batch: %w", err)
	}

	return result, nil
}

// FindConflict reports whether an event with the same identity exists
// within ± window of ts. Acknowledged events still count.
func (s *PostgresStore) FindConflict(ctx context.Context, vmID int64, source domain.LogKind, message string, ts time.Time, window time.Duration) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM "SecurityEvent"
			WHERE "vmId" = $1 AND source = $2 AND message = $3
			  AND timestamp BETWEEN $4 AND $5
		)`,
		vmID, string(source), message, ts.Add(-window), ts.Add(window),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("conflict lookup failed: %w", err)
	}
	return exists, nil
}

// AcknowledgeEvents sets ackAt on the given events. Operator-facing; the
// pipeline itself never calls it.
func (s *PostgresStore) AcknowledgeEvents(ctx context.Context, ids []int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE "SecurityEvent" SET "ackAt" = NOW() WHERE id = ANY($1) AND "ackAt" IS NULL`,
		pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("acknowledge failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListVMs returns the VM inventory for the identity resolver. The machine
// id doubles as an alias since VM directories are named after it.
func (s *PostgresStore) ListVMs(ctx context.Context) ([]domain.VMRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, COALESCE("machineId", '') FROM "VM"`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vms: %w", err)
	}
	defer rows.Close()

	var vms []domain.VMRecord
	for rows.Next() {
		var vm domain.VMRecord
		var machineID string
		if err := rows.Scan(&vm.ID, &vm.Name, &machineID); err != nil {
			return nil, fmt.Errorf("failed to scan vm: %w", err)
		}
		if machineID != "" && machineID != vm.Name {
			vm.Aliases = append(vm.Aliases, machineID)
		}
		vms = append(vms, vm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vms: %w", err)
	}

	return vms, nil
}

// UpsertHostStatus records one health sample for a host.
func (s *PostgresStore) UpsertHostStatus(ctx context.Context, hs *domain.HostStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO "Host" (name, os, uptime, ssh, cpu, ram, disk, status, "updatedAt")
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'up', NOW())
		ON CONFLICT (name) DO UPDATE SET
			os = EXCLUDED.os, uptime = EXCLUDED.uptime, ssh = EXCLUDED.ssh,
			cpu = EXCLUDED.cpu, ram = EXCLUDED.ram, disk = EXCLUDED.disk,
			status = 'up', "updatedAt" = NOW()`,
		hs.Name, hs.OS, hs.Uptime, hs.SSH, hs.CPU, hs.RAM, hs.Disk)
	if err != nil {
		return fmt.Errorf("failed to upsert host status: %w", err)
	}
	return nil
}

// MarkHostDown flags a host that failed its probe and cascades every VM on
// it to offline. Both states recover on the next successful probe.
func (s *PostgresStore) MarkHostDown(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE "Host" SET ssh = false, status = 'down', "updatedAt" = NOW() WHERE name = $1`,
		name); err != nil {
		return fmt.Errorf("failed to mark host down: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE "VM" SET status = 'offline', "updatedAt" = NOW()
		WHERE "hostId" = (SELECT id FROM "Host" WHERE name = $1)`,
		name); err != nil {
		return fmt.Errorf("failed to mark vms offline: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit host-down update: %w", err)
	}
	return nil
}

// MarkVMsOnline restores the VMs of a recovered host.
func (s *PostgresStore) MarkVMsOnline(ctx context.Context, hostName string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE "VM" SET status = 'running', "updatedAt" = NOW()
		WHERE "hostId" = (SELECT id FROM "Host" WHERE name = $1) AND status = 'offline'`,
		hostName)
	if err != nil {
		return fmt.Errorf("failed to restore vms: %w", err)
	}
	return nil
}
