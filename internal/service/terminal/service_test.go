package terminal

import (
	"context"
	"database/sql"
	"testing"

	"engage-service/internal/domain/terminal"
	xerrors "engage-service/internal/pkg/errors"

	"go.uber.org/zap"
)

type memStore struct {
	byKey map[string]*terminal.Terminal
	byID  map[int64]*terminal.Terminal
	next  int64
}

func newMemStore() *memStore {
	return &memStore{byKey: map[string]*terminal.Terminal{}, byID: map[int64]*terminal.Terminal{}}
}

func (m *memStore) Upsert(_ context.Context, id terminal.Identity) (*terminal.Terminal, error) {
	k := id.HardwareID + "|" + id.AppBundle
	if t, ok := m.byKey[k]; ok {
		t.Platform = id.Platform
		return t, nil
	}
	m.next++
	t := &terminal.Terminal{ID: m.next, HardwareID: id.HardwareID, AppBundle: id.AppBundle, Platform: id.Platform}
	m.byKey[k], m.byID[t.ID] = t, t
	return t, nil
}

func (m *memStore) UpdatePushToken(_ context.Context, id int64, token string) error {
	t, ok := m.byID[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	t.PushToken = sql.NullString{String: token, Valid: true}
	return nil
}

func TestTouchIsKeyedByHardwareAndBundle(t *testing.T) {
	svc := NewService(newMemStore(), zap.NewNop())
	ctx := context.Background()

	a, err := svc.Touch(ctx, terminal.Identity{HardwareID: "hw-1", AppBundle: "com.shop", Platform: terminal.PlatformIOS})
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	b, _ := svc.Touch(ctx, terminal.Identity{HardwareID: " hw-1 ", AppBundle: "com.shop", Platform: terminal.PlatformIOS})
	c, _ := svc.Touch(ctx, terminal.Identity{HardwareID: "hw-1", AppBundle: "com.other", Platform: terminal.PlatformIOS})

	if a.ID != b.ID {
		t.Fatal("same hardware id and bundle must resolve to the same terminal")
	}
	if a.ID == c.ID {
		t.Fatal("a different bundle is a different terminal")
	}
}

func TestTouchRequiresIdentity(t *testing.T) {
	svc := NewService(newMemStore(), zap.NewNop())
	_, err := svc.Touch(context.Background(), terminal.Identity{AppBundle: "com.shop"})
	if !xerrors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRegisterPushToken(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	tm, _ := svc.Touch(ctx, terminal.Identity{HardwareID: "hw", AppBundle: "b", Platform: terminal.PlatformAndroid})
	if err := svc.RegisterPushToken(ctx, tm.ID, "  "); !xerrors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("blank token: %v", err)
	}
	if err := svc.RegisterPushToken(ctx, tm.ID, "fcm-token"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !store.byID[tm.ID].HasPushToken() {
		t.Fatal("token not stored")
	}
}
