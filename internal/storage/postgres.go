package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/arlan/demping-bot/internal/storage/repository"
)

// PostgresStorage фасад для работы с PostgreSQL через репозитории
type PostgresStorage struct {
	db       *sql.DB
	configs  *repository.ProductConfigRepository
	segments *repository.SegmentRepository
	checks   *repository.CheckRecordRepository
	events   *repository.PriceEventRepository
}

// NewPostgresStorage подключается к базе и создает репозитории
func NewPostgresStorage(host string, port int, user, password, dbname, sslmode string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*PostgresStorage, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	return &PostgresStorage{
		db:       db,
		configs:  repository.NewProductConfigRepository(db),
		segments: repository.NewSegmentRepository(db),
		checks:   repository.NewCheckRecordRepository(db),
		events:   repository.NewPriceEventRepository(db),
	}, nil
}

// DB возвращает соединение (для миграций)
func (s *PostgresStorage) DB() *sql.DB {
	return s.db
}

// Close закрывает соединение с базой
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// Configs репозиторий настроек демпинга
func (s *PostgresStorage) Configs() *repository.ProductConfigRepository {
	return s.configs
}

// Segments репозиторий сегментов
func (s *PostgresStorage) Segments() *repository.SegmentRepository {
	return s.segments
}

// Checks репозиторий записей проверок
func (s *PostgresStorage) Checks() *repository.CheckRecordRepository {
	return s.checks
}

// Events журнал изменений цены
func (s *PostgresStorage) Events() *repository.PriceEventRepository {
	return s.events
}
