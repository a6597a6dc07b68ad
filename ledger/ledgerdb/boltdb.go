package ledgerdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	issuersBucket  = []byte("issuers")
	ticketsBucket  = []byte("tickets")
	countersBucket = []byte("counters")
)

type boltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (creating if needed) a bolt-backed ledger store at path.
func NewBoltDB(path string) (LedgerDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{issuersBucket, ticketsBucket, countersBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &boltDB{db: db}, nil
}

func issuerKey(id uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], id)
	return k[:]
}

func (b *boltDB) SaveIssuer(_ context.Context, rec *IssuerRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(issuersBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		return bkt.Put(issuerKey(rec.ID), blob)
	})
}

func (b *boltDB) FetchIssuer(_ context.Context, issuerID uint64) (*IssuerRecord, error) {
	var rec *IssuerRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(issuersBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		blob := bkt.Get(issuerKey(issuerID))
		if blob == nil {
			return ErrIssuerNotFound
		}
		rec = new(IssuerRecord)
		return json.Unmarshal(blob, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *boltDB) FetchAllIssuers(_ context.Context) ([]*IssuerRecord, error) {
	var recs []*IssuerRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(issuersBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		// Keys are big-endian ids, so iteration order is registration order.
		return bkt.ForEach(func(_, blob []byte) error {
			rec := new(IssuerRecord)
			if err := json.Unmarshal(blob, rec); err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (b *boltDB) SaveTicket(_ context.Context, rec *TicketRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(ticketsBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		sub, err := bkt.CreateBucketIfNotExists(issuerKey(rec.IssuerID))
		if err != nil {
			return err
		}
		return sub.Put(rec.ID, blob)
	})
}

func (b *boltDB) FetchTicket(_ context.Context, issuerID uint64, ticketID []byte) (*TicketRecord, error) {
	var rec *TicketRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(ticketsBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		sub := bkt.Bucket(issuerKey(issuerID))
		if sub == nil {
			return ErrIssuerBucketNotFound
		}
		blob := sub.Get(ticketID)
		if blob == nil {
			return ErrTicketNotFound
		}
		rec = new(TicketRecord)
		return json.Unmarshal(blob, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *boltDB) FetchTicketsByIssuer(_ context.Context, issuerID uint64) ([]*TicketRecord, error) {
	var recs []*TicketRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(ticketsBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		sub := bkt.Bucket(issuerKey(issuerID))
		if sub == nil {
			// No tickets sold yet.
			return nil
		}
		return sub.ForEach(func(_, blob []byte) error {
			rec := new(TicketRecord)
			if err := json.Unmarshal(blob, rec); err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (b *boltDB) SaveCounters(_ context.Context, issuerID uint64, rec *CountersRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(countersBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		return bkt.Put(issuerKey(issuerID), blob)
	})
}

func (b *boltDB) FetchCounters(_ context.Context, issuerID uint64) (*CountersRecord, error) {
	rec := new(CountersRecord)
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(countersBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		blob := bkt.Get(issuerKey(issuerID))
		if blob == nil {
			// Zero counters for an issuer that never reported.
			return nil
		}
		return json.Unmarshal(blob, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *boltDB) Close() error {
	return b.db.Close()
}
