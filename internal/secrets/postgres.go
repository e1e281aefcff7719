package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PMK765/WebPartyGames/engine/deduction"
)

// foreignKeyViolation is the SQLSTATE for a member row pointing at a missing room.
const foreignKeyViolation = "23503"

// PostgresRepository stores rooms and secrets in the tables created by
// database.Migrate.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) EnsureRoom(ctx context.Context, roomID, hostID string) (Room, error) {
	_, err := r.pool.Exec(ctx, `INSERT INTO rooms (id, host_id) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, roomID, hostID)
	if err != nil {
		return Room{}, fmt.Errorf("secrets: create room: %w", err)
	}
	return r.Room(ctx, roomID)
}

func (r *PostgresRepository) Room(ctx context.Context, roomID string) (Room, error) {
	var room Room
	var state []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, host_id, public_state, deal_count FROM rooms WHERE id = $1`, roomID,
	).Scan(&room.ID, &room.HostID, &state, &room.DealCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("secrets: load room: %w", err)
	}
	room.PublicState = state
	return room, nil
}

func (r *PostgresRepository) SetPublicState(ctx context.Context, roomID, hostID string, state json.RawMessage) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE rooms SET host_id = $2, public_state = $3::jsonb WHERE id = $1`, roomID, hostID, string(state))
	if err != nil {
		return fmt.Errorf("secrets: store public state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpsertMember(ctx context.Context, m Member) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO members (room_id, user_id, display_name, credits) VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, user_id) DO UPDATE SET display_name = EXCLUDED.display_name, credits = EXCLUDED.credits`,
		m.RoomID, m.UserID, m.DisplayName, m.Credits)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("secrets: upsert member: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Member(ctx context.Context, roomID, userID string) (Member, error) {
	m := Member{RoomID: roomID, UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT display_name, credits, joined_at FROM members WHERE room_id = $1 AND user_id = $2`, roomID, userID,
	).Scan(&m.DisplayName, &m.Credits, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, ErrNotMember
	}
	if err != nil {
		return Member{}, fmt.Errorf("secrets: load member: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) RemoveMember(ctx context.Context, roomID, userID string) (string, error) {
	var host string
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT host_id FROM rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&host)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM members WHERE room_id = $1 AND user_id = $2`, roomID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotMember
		}

		var next string
		err = tx.QueryRow(ctx,
			`SELECT user_id FROM members WHERE room_id = $1 ORDER BY joined_at, user_id LIMIT 1`, roomID,
		).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			host = ""
			_, err = tx.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
			return err
		}
		if err != nil {
			return err
		}
		if host == userID {
			host = next
			_, err = tx.Exec(ctx, `UPDATE rooms SET host_id = $2 WHERE id = $1`, roomID, host)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotMember) {
			return "", err
		}
		return "", fmt.Errorf("secrets: remove member: %w", err)
	}
	return host, nil
}

func (r *PostgresRepository) ReplaceRoles(ctx context.Context, roomID string, deal int, roles map[string]deduction.Role) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE rooms SET deal_count = $2 WHERE id = $1`, roomID, deal)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		for _, table := range []string{"roles", "votes", "mission_cards"} {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE room_id = $1`, roomID); err != nil {
				return err
			}
		}
		batch := &pgx.Batch{}
		for id, role := range roles {
			batch.Queue(`INSERT INTO roles (room_id, user_id, role) VALUES ($1, $2, $3)`, roomID, id, string(role))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("secrets: replace roles: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Role(ctx context.Context, roomID, userID string) (deduction.Role, error) {
	var role string
	err := r.pool.QueryRow(ctx, `SELECT role FROM roles WHERE room_id = $1 AND user_id = $2`, roomID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoRole
	}
	if err != nil {
		return "", fmt.Errorf("secrets: load role: %w", err)
	}
	return deduction.Role(role), nil
}

func (r *PostgresRepository) Roles(ctx context.Context, roomID string) (map[string]deduction.Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, role FROM roles WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, fmt.Errorf("secrets: load roles: %w", err)
	}
	defer rows.Close()
	roles := make(map[string]deduction.Role)
	for rows.Next() {
		var id, role string
		if err := rows.Scan(&id, &role); err != nil {
			return nil, fmt.Errorf("secrets: scan role: %w", err)
		}
		roles[id] = deduction.Role(role)
	}
	return roles, rows.Err()
}

func (r *PostgresRepository) InsertVote(ctx context.Context, roomID string, round int, userID string, approve bool) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO votes (room_id, round_number, user_id, approve) VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`, roomID, round, userID, approve)
	if err != nil {
		return false, fmt.Errorf("secrets: insert vote: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) TakeVotes(ctx context.Context, roomID string, round, quorum int) (map[string]bool, error) {
	votes := make(map[string]bool)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT user_id, approve FROM votes WHERE room_id = $1 AND round_number = $2 FOR UPDATE`, roomID, round)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			var approve bool
			if err := rows.Scan(&id, &approve); err != nil {
				rows.Close()
				return err
			}
			votes[id] = approve
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(votes) < quorum {
			return &QuorumError{Have: len(votes), Want: quorum}
		}
		_, err = tx.Exec(ctx, `DELETE FROM votes WHERE room_id = $1 AND round_number = $2`, roomID, round)
		return err
	})
	if err != nil {
		if IsRetryable(err) {
			return nil, err
		}
		return nil, fmt.Errorf("secrets: take votes: %w", err)
	}
	return votes, nil
}

func (r *PostgresRepository) InsertCard(ctx context.Context, roomID string, mission int, userID string, card deduction.MissionCard) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO mission_cards (room_id, round_number, user_id, card) VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`, roomID, mission, userID, string(card))
	if err != nil {
		return false, fmt.Errorf("secrets: insert card: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) TakeCards(ctx context.Context, roomID string, mission, quorum int) (map[string]deduction.MissionCard, error) {
	cards := make(map[string]deduction.MissionCard)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT user_id, card FROM mission_cards WHERE room_id = $1 AND round_number = $2 FOR UPDATE`, roomID, mission)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id, card string
			if err := rows.Scan(&id, &card); err != nil {
				rows.Close()
				return err
			}
			cards[id] = deduction.MissionCard(card)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(cards) < quorum {
			return &QuorumError{Have: len(cards), Want: quorum}
		}
		_, err = tx.Exec(ctx, `DELETE FROM mission_cards WHERE room_id = $1 AND round_number = $2`, roomID, mission)
		return err
	})
	if err != nil {
		if IsRetryable(err) {
			return nil, err
		}
		return nil, fmt.Errorf("secrets: take cards: %w", err)
	}
	return cards, nil
}
