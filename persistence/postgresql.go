// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq"

	"github.com/tyuryaga/gameserver/models"
)

// PostgreSQL is a document-style implementation over database/sql: each
// entity is stored as a jsonb doc plus the handful of columns the queries
// filter on.
type PostgreSQL struct {
	db *sql.DB
}

const queryTimeout = 5 * time.Second

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 初始化表结构
	if err := initTables(db); err != nil {
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS boss_templates (
            id SERIAL PRIMARY KEY,
            template_id VARCHAR(64) UNIQUE NOT NULL,
            level INT NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            doc JSONB NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS boss_instances (
            id SERIAL PRIMARY KEY,
            instance_id VARCHAR(64) UNIQUE NOT NULL,
            owner_id BIGINT NOT NULL,
            is_completed BOOLEAN NOT NULL DEFAULT FALSE,
            rewards_distributed BOOLEAN NOT NULL DEFAULT FALSE,
            is_private BOOLEAN NOT NULL DEFAULT FALSE,
            expires_at TIMESTAMPTZ NOT NULL,
            doc JSONB NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS users (
            id SERIAL PRIMARY KEY,
            user_id BIGINT UNIQUE NOT NULL,
            doc JSONB NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS friendships (
            id SERIAL PRIMARY KEY,
            user_id BIGINT NOT NULL,
            friend_id BIGINT NOT NULL,
            status VARCHAR(20) NOT NULL DEFAULT 'accepted'
        )`,
		`CREATE TABLE IF NOT EXISTS inventories (
            id SERIAL PRIMARY KEY,
            user_id BIGINT UNIQUE NOT NULL,
            items JSONB NOT NULL DEFAULT '[]'
        )`,
		`CREATE INDEX IF NOT EXISTS idx_boss_instances_owner ON boss_instances(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_boss_instances_expiry ON boss_instances(is_completed, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_friendships_user ON friendships(user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func ctxWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), queryTimeout)
}

// --- Templates ---

func (p *PostgreSQL) CreateTemplate(t *models.BossTemplate) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO boss_templates (template_id, level, is_active, doc) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Level, t.IsActive, doc)
	return err
}

func (p *PostgreSQL) GetTemplate(id string) (*models.BossTemplate, error) {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM boss_templates WHERE template_id = $1`, id).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	var t models.BossTemplate
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgreSQL) ListActiveTemplates() ([]*models.BossTemplate, error) {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	rows, err := p.db.QueryContext(ctx,
		`SELECT doc FROM boss_templates WHERE is_active = TRUE ORDER BY level ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTemplates(rows)
}

func scanTemplates(rows *sql.Rows) ([]*models.BossTemplate, error) {
	var result []*models.BossTemplate
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t models.BossTemplate
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil, err
		}
		result = append(result, &t)
	}
	return result, rows.Err()
}

func (p *PostgreSQL) RecordAttempt(templateID string) error {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	res, err := p.db.ExecContext(ctx, `
        UPDATE boss_templates SET
            doc = jsonb_set(doc, '{stats,total_attempts}',
                to_jsonb(COALESCE((doc#>>'{stats,total_attempts}')::bigint, 0) + 1)),
            updated_at = CURRENT_TIMESTAMP
        WHERE template_id = $1`, templateID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PostgreSQL) RecordKill(templateID string, duration time.Duration, killerID int64) error {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var doc []byte
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM boss_templates WHERE template_id = $1 FOR UPDATE`, templateID).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrRecordNotFound
		}
		return err
	}

	var t models.BossTemplate
	if err := json.Unmarshal(doc, &t); err != nil {
		return err
	}
	t.Stats.RecordKill(duration, killerID)

	updated, err := json.Marshal(&t)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE boss_templates SET doc = $2, updated_at = CURRENT_TIMESTAMP WHERE template_id = $1`,
		templateID, updated); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Instances ---

func (p *PostgreSQL) CreateInstance(inst *models.BossInstance) error {
	doc, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	_, err = p.db.ExecContext(ctx, `
        INSERT INTO boss_instances (instance_id, owner_id, is_completed, rewards_distributed, is_private, expires_at, doc, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inst.ID, inst.OwnerID, inst.IsCompleted, inst.RewardsDistributed, inst.IsPrivate, inst.ExpiresAt, doc, inst.CreatedAt)
	return err
}

func (p *PostgreSQL) instanceByQuery(query string, args ...interface{}) (*models.BossInstance, error) {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	var doc []byte
	err := p.db.QueryRowContext(ctx, query, args...).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	var inst models.BossInstance
	if err := json.Unmarshal(doc, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (p *PostgreSQL) GetInstance(id string) (*models.BossInstance, error) {
	return p.instanceByQuery(`SELECT doc FROM boss_instances WHERE instance_id = $1`, id)
}

func (p *PostgreSQL) saveInstanceTx(ctx context.Context, q interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
}, inst *models.BossInstance) error {
	doc, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
        UPDATE boss_instances SET
            is_completed = $2, rewards_distributed = $3, is_private = $4, expires_at = $5, doc = $6
        WHERE instance_id = $1`,
		inst.ID, inst.IsCompleted, inst.RewardsDistributed, inst.IsPrivate, inst.ExpiresAt, doc)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PostgreSQL) SaveInstance(inst *models.BossInstance) error {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	return p.saveInstanceTx(ctx, p.db, inst)
}

func (p *PostgreSQL) DeleteInstance(id string) error {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	_, err := p.db.ExecContext(ctx, `DELETE FROM boss_instances WHERE instance_id = $1`, id)
	return err
}

func participantJSON(userID int64) []byte {
	match, _ := json.Marshal([]map[string]int64{{"user_id": userID}})
	return match
}

func (p *PostgreSQL) FindActiveByOwner(ownerID int64, now time.Time) (*models.BossInstance, error) {
	return p.instanceByQuery(`
        SELECT doc FROM boss_instances
        WHERE owner_id = $1 AND is_completed = FALSE AND expires_at > $2
        LIMIT 1`, ownerID, now)
}

func (p *PostgreSQL) FindActiveByParticipant(userID int64, now time.Time) (*models.BossInstance, error) {
	return p.instanceByQuery(`
        SELECT doc FROM boss_instances
        WHERE is_completed = FALSE AND expires_at > $2
          AND (owner_id = $1 OR doc->'participants' @> $3)
        LIMIT 1`, userID, now, participantJSON(userID))
}

func (p *PostgreSQL) ListAvailableInstances(userID int64, friendIDs []int64, now time.Time, limit int) ([]*models.BossInstance, []*models.BossInstance, error) {
	ctx, cancel := ctxWithTimeout()
	defer cancel()

	scan := func(query string, args ...interface{}) ([]*models.BossInstance, error) {
		rows, err := p.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var result []*models.BossInstance
		for rows.Next() {
			var doc []byte
			if err := rows.Scan(&doc); err != nil {
				return nil, err
			}
			var inst models.BossInstance
			if err := json.Unmarshal(doc, &inst); err != nil {
				return nil, err
			}
			result = append(result, &inst)
		}
		return result, rows.Err()
	}

	public, err := scan(`
        SELECT doc FROM boss_instances
        WHERE is_completed = FALSE AND expires_at > $2 AND is_private = FALSE
          AND owner_id <> $1 AND NOT doc->'participants' @> $3
        ORDER BY created_at DESC LIMIT $4`,
		userID, now, participantJSON(userID), limit)
	if err != nil {
		return nil, nil, err
	}

	friendList, err := json.Marshal(friendIDs)
	if err != nil {
		return nil, nil, err
	}
	friendsPrivate, err := scan(`
        SELECT doc FROM boss_instances
        WHERE is_completed = FALSE AND expires_at > $2 AND is_private = TRUE
          AND owner_id <> $1 AND NOT doc->'participants' @> $3
          AND (owner_id IN (SELECT jsonb_array_elements_text($4::jsonb)::bigint)
               OR doc->'invited_players' @> $3)
        ORDER BY created_at DESC LIMIT $5`,
		userID, now, participantJSON(userID), friendList, limit)
	if err != nil {
		return nil, nil, err
	}
	return public, friendsPrivate, nil
}

func (p *PostgreSQL) FindExpiredInstances(now time.Time) ([]*models.BossInstance, error) {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	rows, err := p.db.QueryContext(ctx, `
        SELECT doc FROM boss_instances
        WHERE is_completed = FALSE AND expires_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*models.BossInstance
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var inst models.BossInstance
		if err := json.Unmarshal(doc, &inst); err != nil {
			return nil, err
		}
		result = append(result, &inst)
	}
	return result, rows.Err()
}

// ApplyDamage serializes concurrent hits on the same instance behind a
// SELECT ... FOR UPDATE row lock.
func (p *PostgreSQL) ApplyDamage(instanceID string, userID int64, damage int64, now time.Time) (*DamageOutcome, error) {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var doc []byte
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM boss_instances WHERE instance_id = $1 FOR UPDATE`, instanceID).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	var inst models.BossInstance
	if err := json.Unmarshal(doc, &inst); err != nil {
		return nil, err
	}

	wasCompleted := inst.IsCompleted
	if !inst.TakeDamage(damage, userID, now) {
		return nil, ErrInstanceUnavailable
	}

	if err := p.saveInstanceTx(ctx, tx, &inst); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &DamageOutcome{
		Instance:      &inst,
		JustCompleted: inst.IsCompleted && !wasCompleted,
	}, nil
}

func (p *PostgreSQL) ClaimRewards(instanceID string) (bool, error) {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	res, err := p.db.ExecContext(ctx, `
        UPDATE boss_instances SET
            rewards_distributed = TRUE,
            doc = jsonb_set(doc, '{rewards_distributed}', 'true')
        WHERE instance_id = $1 AND is_completed = TRUE AND rewards_distributed = FALSE`,
		instanceID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// --- Users ---

func (p *PostgreSQL) GetUser(id int64) (*models.User, error) {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM users WHERE user_id = $1`, id).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	var u models.User
	if err := json.Unmarshal(doc, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgreSQL) SaveUser(u *models.User) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return err
	}
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	// 使用UPSERT操作
	_, err = p.db.ExecContext(ctx, `
        INSERT INTO users (user_id, doc) VALUES ($1, $2)
        ON CONFLICT (user_id)
        DO UPDATE SET doc = $2, updated_at = CURRENT_TIMESTAMP`,
		u.ID, doc)
	return err
}

func (p *PostgreSQL) SetActiveInstance(userID int64, instanceID string) error {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	value, _ := json.Marshal(instanceID)
	res, err := p.db.ExecContext(ctx, `
        UPDATE users SET
            doc = jsonb_set(doc, '{active_boss_instance}', $2),
            updated_at = CURRENT_TIMESTAMP
        WHERE user_id = $1`, userID, value)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PostgreSQL) SetOnline(userID int64, online bool, at time.Time) error {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	onlineJSON, _ := json.Marshal(online)
	seenJSON, _ := json.Marshal(at)
	_, err := p.db.ExecContext(ctx, `
        UPDATE users SET
            doc = jsonb_set(jsonb_set(doc, '{online}', $2), '{last_seen}', $3),
            updated_at = CURRENT_TIMESTAMP
        WHERE user_id = $1`, userID, onlineJSON, seenJSON)
	return err
}

// --- Collaborator projections ---

func (p *PostgreSQL) AreFriends(a, b int64) (bool, error) {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	var count int
	err := p.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM friendships
        WHERE user_id = $1 AND friend_id = $2 AND status = 'accepted'`, a, b).Scan(&count)
	return count > 0, err
}

func (p *PostgreSQL) FriendIDs(userID int64) ([]int64, error) {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	rows, err := p.db.QueryContext(ctx, `
        SELECT friend_id FROM friendships
        WHERE user_id = $1 AND status = 'accepted'`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgreSQL) GetEquippedItems(userID int64) ([]models.EquippedItem, error) {
	ctx, cancel := ctxWithTimeout()
	defer cancel()
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT items FROM inventories WHERE user_id = $1`, userID).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var items []models.EquippedItem
	if err := json.Unmarshal(doc, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
