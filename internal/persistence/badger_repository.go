package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"ma-crossover-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// ErrUnsupportedVersion 表示检查点由不兼容的版本写入
var ErrUnsupportedVersion = errors.New("persistence: unsupported checkpoint version")

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db       *badger.DB
	stateKey []byte
}

// NewBadgerRepository opens (or creates) a BadgerDB database at dbPath.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	return openBadger(badger.DefaultOptions(dbPath))
}

// NewInMemoryRepository 返回一个不落盘的仓库，用于测试和一次性回测
func NewInMemoryRepository() (StateRepository, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (StateRepository, error) {
	// 关闭 Badger 自带日志，错误仍通过返回值传递
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{
		db:       db,
		stateKey: []byte("strategy_state"),
	}, nil
}

// SaveState marshals the checkpoint into JSON and stores it under a fixed key.
func (r *badgerRepository) SaveState(state *models.StrategyState) error {
	if state == nil {
		return errors.New("persistence: nil state")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.stateKey, data)
	})
}

// LoadState returns (nil, nil) when no checkpoint has been written yet.
func (r *badgerRepository) LoadState() (*models.StrategyState, error) {
	var state models.StrategyState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.stateKey)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if state.Version != models.StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, state.Version)
	}
	return &state, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
