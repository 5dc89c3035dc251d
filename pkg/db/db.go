package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// DB is a thin wrapper around a Bolt database. It centralizes functions
// which interact with the database.
type DB struct {
	DB *bbolt.DB

	err  error
	once sync.Once
}

func (d *DB) init() error {
	d.once.Do(d._init)
	return d.err
}

var (
	bTraces = []byte("traces")
	bStats  = []byte("stats")

	buckets = [...][]byte{
		bTraces,
		bStats,
	}
)

func (d *DB) _init() {
	err := d.DB.Update(func(tx *bbolt.Tx) error {
		for _, buck := range buckets {
			_, err := tx.CreateBucketIfNotExists(buck)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		d.err = fmt.Errorf("initialization error: %w", err)
	}
}

// getJSON decodes the value at key into dst. dst is left untouched if key does
// not exist.
func (d *DB) getJSON(bucket []byte, key string, dst any) error {
	var buf []byte
	err := d.DB.View(func(tx *bbolt.Tx) error {
		buf = append(buf, tx.Bucket(bucket).Get([]byte(key))...)
		return nil
	})
	if err != nil || len(buf) == 0 {
		return err
	}
	return json.Unmarshal(buf, dst)
}

// Trace
// -----------------------------------------------------------------------------

// Trace holds the metadata of an uploaded stack trace. The trace itself is
// kept in storage.
type Trace struct {
	CreatedAt time.Time `json:"created_at"`
	Sum       string    `json:"sum"`

	Lines       int `json:"lines"`
	Frames      int `json:"frames"`
	Wrapped     int `json:"wrapped"`
	RawSize     int `json:"raw_size"`
	CompactSize int `json:"compact_size"`
}

func (t Trace) IsZero() bool {
	return t.Sum == ""
}

// Saved returns the fraction of bytes removed by compaction.
func (t Trace) Saved() float64 {
	if t.RawSize == 0 {
		return 0
	}
	return 1 - float64(t.CompactSize)/float64(t.RawSize)
}

func (d *DB) HasTrace(id string) (bool, error) {
	if err := d.init(); err != nil {
		return false, err
	}

	var has bool
	err := d.DB.View(func(tx *bbolt.Tx) error {
		has = tx.Bucket(bTraces).Get([]byte(id)) != nil
		return nil
	})
	return has, err
}

func (d *DB) PutTrace(id string, t Trace) error {
	if err := d.init(); err != nil {
		return err
	}

	encoded, err := json.Marshal(t)
	if err != nil {
		return err
	}

	return d.DB.Batch(func(tx *bbolt.Tx) error {
		return tx.Bucket(bTraces).Put([]byte(id), encoded)
	})
}

// GetTrace returns the metadata of the trace with the given id. A trace which
// does not exist is returned as a zero Trace, with no error.
func (d *DB) GetTrace(id string) (Trace, error) {
	if err := d.init(); err != nil {
		return Trace{}, err
	}

	var t Trace
	err := d.getJSON(bTraces, id, &t)
	return t, err
}

// UsageStat
// -----------------------------------------------------------------------------

// UsageStat is the amount of uploads done by a client within Period.
type UsageStat struct {
	Period   string `json:"p"`
	NumBytes uint64 `json:"nb"`
	NumCalls uint64 `json:"nc"`
}

type UploadLimits struct {
	MaxBytes uint64
	MaxCalls uint64
}

func (l UploadLimits) exceeded(st UsageStat) bool {
	return st.NumBytes > l.MaxBytes || st.NumCalls > l.MaxCalls
}

var ErrLimitsExceeded = errors.New("limits exceeded")

// AddUsage increases the stats for client, and ensures that the updated stats
// are within the given limits. If the limits are exceeded,
// [ErrLimitsExceeded] is returned and the stats are left unchanged.
func (d *DB) AddUsage(client string, delta UsageStat, limits UploadLimits) error {
	if err := d.init(); err != nil {
		return err
	}
	return d.DB.Batch(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bStats)
		var stat UsageStat
		if val := bk.Get([]byte(client)); len(val) != 0 {
			if err := json.Unmarshal(val, &stat); err != nil {
				return err
			}
		}

		// a new period starts from delta.
		if stat.Period != delta.Period {
			stat = UsageStat{Period: delta.Period}
		}
		stat.NumCalls += delta.NumCalls
		stat.NumBytes += delta.NumBytes
		if limits.exceeded(stat) {
			return ErrLimitsExceeded
		}

		res, err := json.Marshal(stat)
		if err != nil {
			return err
		}
		return bk.Put([]byte(client), res)
	})
}
