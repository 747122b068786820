package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	types "github.com/reelsmith/reelsmith-backend/internal/domain/render"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

// Service wraps the gorm handle. The backend is picked off the DSN: postgres
// URLs get the postgres driver, everything else is treated as sqlite, which
// is the dev default.
type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewService(log *logger.Logger, dsn string) (*Service, error) {
	serviceLog := log.With("service", "DatabaseService")

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	serviceLog.Info("connecting to database")
	conn, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("database connection failed", "error", err)
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &Service{db: conn, log: serviceLog}, nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("auto migrating render tables")
	if err := s.db.AutoMigrate(
		&types.Job{},
		&types.Scene{},
	); err != nil {
		s.log.Error("auto migration failed", "error", err)
		return err
	}
	return nil
}

func (s *Service) DB() *gorm.DB {
	return s.db
}
