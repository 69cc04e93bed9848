package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"butler/internal/auth"
	"butler/internal/config"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Slot único: só existe um usuário residente por vez
const currentUserSlot = "current"

// StoredUser é a linha que guarda o registro do usuário serializado
type StoredUser struct {
	ID        uint      `gorm:"primaryKey"`
	Slot      string    `gorm:"uniqueIndex;not null"`
	UserID    int64     `gorm:"index"`
	Payload   string    `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DatabaseStore persiste o usuário num SQLite local via GORM
type DatabaseStore struct {
	db *gorm.DB
}

// OpenDatabaseStore abre (ou cria) o banco, tentando caminhos alternativos
// quando o preferido não é gravável.
func OpenDatabaseStore(preferredPath string) (*DatabaseStore, error) {
	dbPath, db, err := openWritableDatabase(preferredPath)
	if err != nil {
		return nil, err
	}
	store, err := NewDatabaseStore(db)
	if err != nil {
		return nil, err
	}

	// Definir permissão 0600 no arquivo do banco
	os.Chmod(dbPath, 0600)

	log.Printf("[STORE] Database initialized at %s", dbPath)
	return store, nil
}

// NewDatabaseStore usa uma conexão GORM já aberta
func NewDatabaseStore(db *gorm.DB) (*DatabaseStore, error) {
	if err := db.AutoMigrate(&StoredUser{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return &DatabaseStore{db: db}, nil
}

func (s *DatabaseStore) Load(ctx context.Context) (*auth.User, error) {
	var row StoredUser
	err := s.db.WithContext(ctx).Where("slot = ?", currentUserSlot).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	var user auth.User
	if err := json.Unmarshal([]byte(row.Payload), &user); err != nil {
		return nil, fmt.Errorf("failed to parse stored user: %w", err)
	}
	return &user, nil
}

func (s *DatabaseStore) Save(ctx context.Context, user *auth.User) error {
	if user == nil {
		return fmt.Errorf("cannot store nil user")
	}
	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row StoredUser
		err := tx.Where("slot = ?", currentUserSlot).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&StoredUser{
				Slot:    currentUserSlot,
				UserID:  user.ID,
				Payload: string(payload),
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&row).Updates(map[string]interface{}{
			"user_id": user.ID,
			"payload": string(payload),
		}).Error
	})
}

// Delete remove o registro; ausência não é erro.
func (s *DatabaseStore) Delete(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("slot = ?", currentUserSlot).Delete(&StoredUser{}).Error; err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// Close fecha a conexão com o banco
func (s *DatabaseStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func openWritableDatabase(preferredPath string) (string, *gorm.DB, error) {
	candidates := make([]string, 0, 4)
	if override := strings.TrimSpace(preferredPath); override != "" {
		candidates = append(candidates, override)
	}
	candidates = append(candidates, config.DBPath())

	if cwd, err := os.Getwd(); err == nil && strings.TrimSpace(cwd) != "" {
		candidates = append(candidates, filepath.Join(cwd, ".butler", config.DBFileName))
	}
	candidates = append(candidates, filepath.Join(os.TempDir(), config.AppName, config.DBFileName))

	var lastErr error
	for _, candidate := range candidates {
		path := strings.TrimSpace(candidate)
		if path == "" {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			lastErr = err
			continue
		}

		if !isLikelyWritable(path) {
			lastErr = fmt.Errorf("path not writable: %s", path)
			continue
		}

		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			lastErr = err
			continue
		}

		sqlDB, err := db.DB()
		if err != nil {
			lastErr = err
			continue
		}

		sqlDB.Exec("PRAGMA journal_mode=WAL")
		sqlDB.Exec("PRAGMA busy_timeout=5000")
		sqlDB.Exec("PRAGMA synchronous=NORMAL")

		// Probe de escrita para evitar abrir DB readonly em ambientes sandbox.
		probeErr := db.Exec("CREATE TABLE IF NOT EXISTS _butler_write_probe (id INTEGER PRIMARY KEY AUTOINCREMENT)").Error
		if probeErr == nil {
			probeErr = db.Exec("INSERT INTO _butler_write_probe DEFAULT VALUES").Error
		}
		if probeErr == nil {
			_ = db.Exec("DELETE FROM _butler_write_probe").Error
		}

		if probeErr != nil {
			lastErr = probeErr
			_ = sqlDB.Close()
			continue
		}

		return path, db, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no database path candidates available")
	}

	return "", nil, fmt.Errorf("failed to open writable database: %w", lastErr)
}

func isLikelyWritable(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
