package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"

	"github.com/annel0/room-server/internal/logging"
	"github.com/annel0/room-server/internal/room"
)

const modelKeyPrefix = "model:"

// BadgerModelStore модели комнат в BadgerDB, значения JSON+zstd
type BadgerModelStore struct {
	db      *badger.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// OpenBadgerModelStore открывает (или создаёт) базу в dataPath/models
func OpenBadgerModelStore(dataPath string) (*BadgerModelStore, error) {
	opts := badger.DefaultOptions(filepath.Join(dataPath, "models"))
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, err
	}

	logging.GetStorageLogger().Info("💾 BadgerDB моделей открыта: %s", dataPath)
	return &BadgerModelStore{db: db, encoder: enc, decoder: dec}, nil
}

// Close закрывает хранилище данных
func (s *BadgerModelStore) Close() error {
	s.decoder.Close()
	_ = s.encoder.Close()
	return s.db.Close()
}

func (s *BadgerModelStore) SaveModel(_ context.Context, m *room.Model) error {
	raw, err := json.Marshal(toRecord(m))
	if err != nil {
		return fmt.Errorf("ошибка сериализации модели %s: %w", m.ID, err)
	}
	value := s.encoder.EncodeAll(raw, nil)

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(modelKeyPrefix+m.ID), value)
	})
}

func (s *BadgerModelStore) LoadModel(_ context.Context, id string) (*room.Model, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(modelKeyPrefix + id))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrModelNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения модели %s: %w", id, err)
	}

	raw, err := s.decoder.DecodeAll(value, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки модели %s: %w", id, err)
	}
	var rec modelRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации модели %s: %w", id, err)
	}
	return rec.toModel()
}

func (s *BadgerModelStore) ListModels(context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(modelKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), modelKeyPrefix))
		}
		return nil
	})
	sort.Strings(ids)
	return ids, err
}

// Seed записывает модели, которых ещё нет
func (s *BadgerModelStore) Seed(ctx context.Context, models []*room.Model) (int, error) {
	n := 0
	for _, m := range models {
		if _, err := s.LoadModel(ctx, m.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrModelNotFound) {
			return n, err
		}
		if err := s.SaveModel(ctx, m); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
