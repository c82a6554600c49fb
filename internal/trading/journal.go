package trading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/betbot/dexclient/pkg/matching"
)

// 定长时间格式，字符串排序即时间排序
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Status 提交状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Entry 一次提交记录
type Entry struct {
	ID        string    `json:"id"`
	MarketID  string    `json:"market_id"`
	Side      string    `json:"side"`
	Price     string    `json:"price"`
	Amount    string    `json:"amount"`
	Actions   int       `json:"actions"`
	Status    Status    `json:"status"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Journal SQLite 中的提交记录
type Journal struct {
	db *sql.DB
}

// OpenJournal 打开（必要时创建）数据库并迁移
func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS submissions (
  id TEXT PRIMARY KEY,
  market_id TEXT NOT NULL,
  side TEXT NOT NULL,
  price TEXT NOT NULL,
  amount TEXT NOT NULL,
  actions INTEGER NOT NULL,
  status TEXT NOT NULL,
  tx_hash TEXT,
  message TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions(created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_market ON submissions(market_id, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record 写入一条 pending 记录，返回记录 id
func (j *Journal) Record(ctx context.Context, plan matching.Plan) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC().Format(timeLayout)
	_, err := j.db.ExecContext(ctx, `
INSERT INTO submissions (id, market_id, side, price, amount, actions, status, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
`, id, plan.MarketID, string(plan.Side), plan.LimitPrice.String(), plan.Amount.String(), len(plan.Actions), string(StatusPending), now, now)
	if err != nil {
		return "", fmt.Errorf("insert submission: %w", err)
	}
	return id, nil
}

// Finish 更新最终状态
func (j *Journal) Finish(ctx context.Context, id string, status Status, txHash, message string) error {
	res, err := j.db.ExecContext(ctx, `
UPDATE submissions
SET status=?, tx_hash=?, message=?, updated_at=?
WHERE id=?
`, string(status), nullString(txHash), nullString(message), time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("submission %s not found", id)
	}
	return nil
}

// List 最近的记录，marketID 为空时不过滤
func (j *Journal) List(ctx context.Context, marketID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
SELECT id, market_id, side, price, amount, actions, status, tx_hash, message, created_at, updated_at
FROM submissions`
	args := []any{}
	if marketID != "" {
		query += ` WHERE market_id=?`
		args = append(args, marketID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get 按 id 查询，不存在时返回 nil, nil
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT id, market_id, side, price, amount, actions, status, tx_hash, message, created_at, updated_at
FROM submissions
WHERE id=?
`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	return &e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                    Entry
		status               string
		txHash, message      sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&e.ID, &e.MarketID, &e.Side, &e.Price, &e.Amount, &e.Actions, &status, &txHash, &message, &createdAt, &updatedAt); err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	e.TxHash = txHash.String
	e.Message = message.String
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	e.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
