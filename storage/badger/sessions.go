package badger

import (
	"bytes"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbase/core"
	"github.com/poiesic/kbase/storage"
)

type sessionStore struct {
	tx *badger.Txn
}

func (s sessionStore) Get(id string) (*core.IngestionSession, error) {
	return getRow(s.tx, makeSessionKey(id), storage.UnmarshalSession)
}

func (s sessionStore) Put(session *core.IngestionSession) error {
	old, err := s.Get(session.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if old != nil && old.Stage == core.StagePreviewReady && !old.ExpiresAt.IsZero() {
		if err := deleteKey(s.tx, makeSessionExpiryKey(old.ExpiresAt, old.ID)); err != nil {
			return err
		}
	}
	if err := s.tx.Set(makeSessionKey(session.ID), storage.MarshalSession(session)); err != nil {
		return err
	}
	if session.Stage == core.StagePreviewReady && !session.ExpiresAt.IsZero() {
		return s.tx.Set(makeSessionExpiryKey(session.ExpiresAt, session.ID), nil)
	}
	return nil
}

func (s sessionStore) Delete(id string) error {
	old, err := s.Get(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if old.Stage == core.StagePreviewReady && !old.ExpiresAt.IsZero() {
		if err := deleteKey(s.tx, makeSessionExpiryKey(old.ExpiresAt, id)); err != nil {
			return err
		}
	}
	return deleteKey(s.tx, makeSessionKey(id))
}

func (s sessionStore) ListExpired(before time.Time, limit int) ([]*core.IngestionSession, error) {
	var ids []string
	end := makeTimePrefix(sessionExpiryPrefix, before)
	err := scanKeys(s.tx, []byte(sessionExpiryPrefix), "", func(key []byte, _ *badger.Item) (bool, error) {
		if bytes.Compare(key[:len(end)], end) >= 0 {
			return false, nil
		}
		ids = append(ids, lastSegment(key))
		return limit <= 0 || len(ids) < limit, nil
	})
	if err != nil {
		return nil, err
	}

	sessions := make([]*core.IngestionSession, 0, len(ids))
	for _, id := range ids {
		session, err := s.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}
