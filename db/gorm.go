package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"BratGen/config"
	"BratGen/logger"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// recordRow records 表的一行
type recordRow struct {
	Tbl       string    `gorm:"column:tbl;primaryKey;size:64"`
	ID        string    `gorm:"column:id;primaryKey;size:191"`
	Body      string    `gorm:"column:body;type:longtext;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (recordRow) TableName() string { return "records" }

// GormStore MySQL 上的 RecordStore
type GormStore struct {
	db *gorm.DB
}

// mysqlDSN 用驱动自带的 Config 拼 DSN, 避免手写转义
func mysqlDSN(cfg *config.Config) string {
	c := mysql.NewConfig()
	c.User = cfg.DBUser
	c.Passwd = cfg.DBPassword
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%s", cfg.DBHost, cfg.DBPort)
	c.DBName = cfg.DBName
	c.ParseTime = true
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// ConnectGormStore 连接数据库并迁移 records 表
func ConnectGormStore(cfg *config.Config) (*GormStore, error) {
	logMode := gormlogger.Warn
	if cfg.LogLevel == "debug" {
		logMode = gormlogger.Info
	}

	gdb, err := gorm.Open(gormmysql.Open(mysqlDSN(cfg)), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(logMode),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := gdb.AutoMigrate(&recordRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to auto migrate records: %w", err)
	}

	logger.Info("GORM 数据库连接成功", logger.String("database", cfg.DBName))
	return &GormStore{db: gdb}, nil
}

func (s *GormStore) Get(ctx context.Context, table, id string, out any) error {
	var row recordRow
	err := s.db.WithContext(ctx).Where("tbl = ? AND id = ?", table, id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query %s/%s: %w", table, id, err)
	}
	if err := json.Unmarshal([]byte(row.Body), out); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", table, id, err)
	}
	return nil
}

func (s *GormStore) Upsert(ctx context.Context, table, id string, record any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", table, id, err)
	}
	row := recordRow{Tbl: table, ID: id, Body: string(body), UpdatedAt: time.Now()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tbl"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", table, id, err)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, table string) ([]json.RawMessage, error) {
	var rows []recordRow
	if err := s.db.WithContext(ctx).Where("tbl = ?", table).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	out := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, json.RawMessage(r.Body))
	}
	return out, nil
}

func (s *GormStore) Remove(ctx context.Context, table, id string) error {
	err := s.db.WithContext(ctx).Where("tbl = ? AND id = ?", table, id).Delete(&recordRow{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, id, err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
