package registry

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hashtensor/validator/internal/models"
)

const lastSetWeightsKey = "last_set_weights_time"

// Store owns the worker_binding, peer_sync_offset and setting tables. All
// registry mutation in the process goes through it, both from the HTTP
// handlers and from the peer sync loop.
type Store struct {
	db         *gorm.DB
	maxWorkers int
}

// Open connects to the database named by url ("sqlite://<path>" or a
// postgres URL/DSN), migrates the schema and returns a store enforcing the
// given per-hotkey quota.
func Open(url string, maxWorkers int) (*Store, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		dialector = sqlite.Open(path)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"), strings.Contains(url, "host="):
		dialector = postgres.Open(url)
	default:
		return nil, fmt.Errorf("unsupported database url %q", url)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return New(db, maxWorkers)
}

// New wraps an existing gorm handle. The schema is migrated in place.
func New(db *gorm.DB, maxWorkers int) (*Store, error) {
	err := db.AutoMigrate(&models.WorkerBinding{}, &models.PeerSyncOffset{}, &models.Setting{})
	if err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{db: db, maxWorkers: maxWorkers}, nil
}

// TimeToInt converts float epoch seconds to the integer microsecond form
// stored alongside it. The integer is always derived, never stored
// independently.
func TimeToInt(registrationTime float64) int64 {
	return int64(math.Round(registrationTime * 1_000_000))
}

// Bind creates a binding for (hotkey, worker). The existence and quota checks
// run inside one transaction; a concurrent duplicate insert is caught by the
// worker primary key and reported as ErrWorkerExists.
func (s *Store) Bind(hotkey, worker, signature string, registrationTime float64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.WorkerBinding{}).
			Where("worker = ?", worker).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrWorkerExists
		}

		var active int64
		if err := tx.Model(&models.WorkerBinding{}).
			Where("hotkey = ? AND unbind_signature IS NULL", hotkey).
			Count(&active).Error; err != nil {
			return err
		}
		if active >= int64(s.maxWorkers) {
			return ErrQuotaExceeded
		}

		binding := models.WorkerBinding{
			Worker:              worker,
			Hotkey:              hotkey,
			RegistrationTime:    registrationTime,
			RegistrationTimeInt: TimeToInt(registrationTime),
			Signature:           signature,
		}
		if err := tx.Create(&binding).Error; err != nil {
			if isDuplicate(err) {
				return ErrWorkerExists
			}
			return err
		}
		return nil
	})
}

// Unbind marks the binding inactive. The unbind signature is written exactly
// once; repeated attempts fail with ErrAlreadyUnbound.
func (s *Store) Unbind(hotkey, worker, unbindSignature string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var binding models.WorkerBinding
		err := tx.Where("hotkey = ? AND worker = ?", hotkey, worker).First(&binding).Error
		if err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		if binding.UnbindSignature != nil {
			return ErrAlreadyUnbound
		}
		return tx.Model(&binding).Update("unbind_signature", unbindSignature).Error
	})
}

// ListSince returns one page of bindings with registration_time_int strictly
// greater than since (float seconds), ordered by registration_time_int
// ascending. Page numbers are 1-indexed.
func (s *Store) ListSince(since float64, pageSize, pageNumber int) ([]models.WorkerBinding, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	if pageNumber <= 0 {
		pageNumber = 1
	}
	var bindings []models.WorkerBinding
	err := s.db.
		Where("registration_time_int > ?", TimeToInt(since)).
		Order("registration_time_int ASC").
		Offset((pageNumber - 1) * pageSize).
		Limit(pageSize).
		Find(&bindings).Error
	if err != nil {
		return nil, err
	}
	return bindings, nil
}

// ActiveMapping returns worker -> hotkey for every binding without an unbind
// signature. This is the projection the mapping cache wraps.
func (s *Store) ActiveMapping() (map[string]string, error) {
	var bindings []models.WorkerBinding
	err := s.db.Where("unbind_signature IS NULL").Find(&bindings).Error
	if err != nil {
		return nil, err
	}
	mapping := make(map[string]string, len(bindings))
	for _, b := range bindings {
		mapping[b.Worker] = b.Hotkey
	}
	return mapping, nil
}

// AllBindings returns every binding a hotkey ever made, active or not.
func (s *Store) AllBindings(hotkey string) ([]models.WorkerBinding, error) {
	var bindings []models.WorkerBinding
	err := s.db.Where("hotkey = ?", hotkey).Find(&bindings).Error
	return bindings, err
}

// PeerOffset returns the merge watermark for a peer, 0.0 if we never merged
// anything from it.
func (s *Store) PeerOffset(peerHotkey string) (float64, error) {
	var offset models.PeerSyncOffset
	err := s.db.Where("peer_hotkey = ?", peerHotkey).First(&offset).Error
	if err != nil {
		if isNotFound(err) {
			return 0.0, nil
		}
		return 0, err
	}
	return offset.LastRegistrationTime, nil
}

// AdvancePeerOffset moves a peer's watermark forward. A watermark at or below
// the stored one is ignored; the caller computes the batch maximum first.
func (s *Store) AdvancePeerOffset(peerHotkey string, watermark, syncTime float64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var offset models.PeerSyncOffset
		err := tx.Where("peer_hotkey = ?", peerHotkey).First(&offset).Error
		if err != nil {
			if isNotFound(err) {
				return tx.Create(&models.PeerSyncOffset{
					PeerHotkey:           peerHotkey,
					LastRegistrationTime: watermark,
					LastSyncTime:         syncTime,
				}).Error
			}
			return err
		}
		if watermark <= offset.LastRegistrationTime {
			return nil
		}
		return tx.Model(&offset).Updates(map[string]any{
			"last_registration_time": watermark,
			"last_sync_time":         syncTime,
		}).Error
	})
}

// LastSetWeightsTime reads the persisted time of the last successful weight
// publication, 0.0 if weights were never set.
func (s *Store) LastSetWeightsTime() (float64, error) {
	var setting models.Setting
	err := s.db.Where("key = ?", lastSetWeightsKey).First(&setting).Error
	if err != nil {
		if isNotFound(err) {
			return 0.0, nil
		}
		return 0, err
	}
	ts, err := strconv.ParseFloat(setting.Value, 64)
	if err != nil {
		return 0.0, nil
	}
	return ts, nil
}

// SetLastSetWeightsTime overwrites the publication watermark.
func (s *Store) SetLastSetWeightsTime(ts float64) error {
	value := strconv.FormatFloat(ts, 'f', -1, 64)
	return s.db.Transaction(func(tx *gorm.DB) error {
		var setting models.Setting
		err := tx.Where("key = ?", lastSetWeightsKey).First(&setting).Error
		if err != nil {
			if isNotFound(err) {
				return tx.Create(&models.Setting{Key: lastSetWeightsKey, Value: value}).Error
			}
			return err
		}
		return tx.Model(&setting).Update("value", value).Error
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// isDuplicate recognizes a primary key collision. TranslateError maps driver
// errors to gorm.ErrDuplicatedKey; the string check covers drivers that slip
// through untranslated.
func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(strings.ToLower(err.Error()), "unique")
}
